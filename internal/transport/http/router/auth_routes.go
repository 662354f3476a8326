package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/core/auth"
	"ez-parking/internal/domain"
	"ez-parking/internal/service"
	mdw "ez-parking/internal/transport/http/middleware"
)

// authModule /v1/auth：注册、邮箱验证、OTP 登录、token 续期
type authModule struct{ d *Deps }

func (authModule) Priority() int { return 10 }

type emailIn struct {
	Email string `json:"email" binding:"required"`
}

type verifyOTPIn struct {
	Email string `json:"email" binding:"required"`
	OTP   string `json:"otp" binding:"required"`
}

type tokenQ struct {
	Token string `form:"token" binding:"required"`
}

type nicknameIn struct {
	Nickname string `json:"nickname"`
}

type sessionOut struct {
	UserUUID  string      `json:"user_uuid"`
	Role      domain.Role `json:"role"`
	CSRFToken string      `json:"csrf_token"`
}

func (m authModule) MountAPI(root *gin.RouterGroup) {
	d := m.d
	g := root.Group("/v1/auth")
	ez := New(g, d.Store, d.Log)

	RegisterAction(ez, Action[service.SignUpInput, gin.H]{
		Method: http.MethodPost, Path: "/create-new-account", Binder: BindJSON,
		Status: http.StatusCreated, Msg: "User created successfully.",
		Handler: func(c *gin.Context, _ *auth.Claims, in *service.SignUpInput) (gin.H, error) {
			u, err := d.Svc.Auth.SignUp(c.Request.Context(), *in)
			if err != nil {
				return nil, err
			}
			return gin.H{"user_uuid": u.UUID, "email": u.Email}, nil
		},
	})

	RegisterAction(ez, Action[tokenQ, struct{}]{
		Method: http.MethodGet, Path: "/verify-email", Binder: BindQuery,
		Msg: "Email verified. You can now log in.",
		Handler: func(c *gin.Context, _ *auth.Claims, in *tokenQ) (struct{}, error) {
			return struct{}{}, d.Svc.Auth.VerifyEmail(c.Request.Context(), in.Token)
		},
	})

	RegisterAction(ez, Action[emailIn, struct{}]{
		Method: http.MethodPost, Path: "/login", Binder: BindJSON,
		Code: "otp_sent", Msg: "OTP has been sent to your email.",
		Handler: func(c *gin.Context, _ *auth.Claims, in *emailIn) (struct{}, error) {
			return struct{}{}, d.Svc.Auth.Login(c.Request.Context(), in.Email)
		},
	})

	RegisterAction(ez, Action[emailIn, struct{}]{
		Method: http.MethodPatch, Path: "/generate-otp", Binder: BindJSON,
		Code: "otp_sent", Msg: "OTP has been sent to your email.",
		Handler: func(c *gin.Context, _ *auth.Claims, in *emailIn) (struct{}, error) {
			return struct{}{}, d.Svc.Auth.GenerateOTP(c.Request.Context(), in.Email)
		},
	})

	RegisterAction(ez, Action[verifyOTPIn, sessionOut]{
		Method: http.MethodPatch, Path: "/verify-otp", Binder: BindJSON,
		Msg: "Login successful.",
		Handler: func(c *gin.Context, _ *auth.Claims, in *verifyOTPIn) (sessionOut, error) {
			u, pair, err := d.Svc.Auth.VerifyOTP(c.Request.Context(), in.Email, in.OTP)
			if err != nil {
				return sessionOut{}, err
			}
			mdw.SetAuthCookies(c, d.Cookies, pair)
			return sessionOut{UserUUID: u.UUID, Role: u.Role, CSRFToken: pair.CSRF}, nil
		},
	})

	RegisterAction(New(g.Group("", mdw.AuthRefresh(d.JWT)), d.Store, d.Log), Action[struct{}, sessionOut]{
		Method: http.MethodPost, Path: "/refresh", Binder: BindNone,
		Msg: "Token refreshed.",
		Handler: func(c *gin.Context, cl *auth.Claims, _ *struct{}) (sessionOut, error) {
			pair, err := d.Svc.Auth.Refresh(c.Request.Context(), cl)
			if err != nil {
				return sessionOut{}, err
			}
			mdw.SetAuthCookies(c, d.Cookies, pair)
			return sessionOut{UserUUID: cl.UUID(), Role: domain.Role(cl.Role), CSRFToken: pair.CSRF}, nil
		},
	})

	RegisterAction(ez, Action[struct{}, struct{}]{
		Method: http.MethodPost, Path: "/logout", Binder: BindNone,
		Msg: "Logged out.",
		Handler: func(c *gin.Context, _ *auth.Claims, _ *struct{}) (struct{}, error) {
			mdw.ClearAuthCookies(c, d.Cookies)
			return struct{}{}, nil
		},
	})

	jwt := New(g.Group("", mdw.AuthJWT(d.JWT)), d.Store, d.Log)

	RegisterAction(jwt, Action[nicknameIn, *domain.User]{
		Method: http.MethodPatch, Path: "/set-nickname", Binder: BindJSON,
		Msg: "Nickname updated.",
		Handler: func(c *gin.Context, cl *auth.Claims, in *nicknameIn) (*domain.User, error) {
			return d.Svc.Auth.SetNickname(c.Request.Context(), actor(c, cl), in.Nickname)
		},
	})

	RegisterAction(jwt, Action[struct{}, *domain.User]{
		Method: http.MethodGet, Path: "/me", Binder: BindNone,
		Handler: func(c *gin.Context, cl *auth.Claims, _ *struct{}) (*domain.User, error) {
			return d.Svc.Auth.Me(c.Request.Context(), actor(c, cl))
		},
	})
}
