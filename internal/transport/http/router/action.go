package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/auth"
	"ez-parking/internal/domain"
	"ez-parking/internal/service"
	mdw "ez-parking/internal/transport/http/middleware"
	resp "ez-parking/internal/transport/http/response"
)

// 绑定方式
type Binder string

const (
	BindJSON  Binder = "json"  // 从 JSON 绑定
	BindQuery Binder = "query" // 从 URL ?a=b 绑定
	BindNone  Binder = "none"  // 不绑定，自己从 c.Param 取
)

// Action 一个接口一行注册：I 入参，O 出参。
// 登录与角色由分组中间件保证，Roles 只用于分组内的额外限制。
type Action[I any, O any] struct {
	Method  string
	Path    string
	Binder  Binder
	Roles   []string
	DenyMsg string
	UseTx   bool   // 整个处理器包在一个数据库事务里
	Status  int    // 默认 200
	Code    string // 默认 success
	Msg     string
	Handler func(c *gin.Context, cl *auth.Claims, in *I) (O, error)
}

// EZ 注册器：分组 + 事务所需的 Store
type EZ struct {
	g     *gin.RouterGroup
	store domain.Store
	l     *zap.Logger
}

func New(g *gin.RouterGroup, store domain.Store, l *zap.Logger) EZ {
	return EZ{g: g, store: store, l: l}
}

func RegisterAction[I any, O any](e EZ, a Action[I, O]) {
	status := a.Status
	if status == 0 {
		status = http.StatusOK
	}
	code := a.Code
	if code == "" {
		code = resp.CodeSuccess
	}

	h := func(c *gin.Context) {
		cl, _ := mdw.ClaimsFrom(c)
		if len(a.Roles) > 0 && (cl == nil || !cl.HasRole(a.Roles...)) {
			fail(c, e.l, apperr.New(apperr.Unauthorized, a.DenyMsg))
			return
		}

		var in I
		var bindErr error
		switch a.Binder {
		case BindJSON:
			bindErr = c.ShouldBindJSON(&in)
		case BindQuery:
			bindErr = c.ShouldBindQuery(&in)
		}
		if bindErr != nil {
			fail(c, e.l, bindError(bindErr))
			return
		}

		var out O
		var err error
		if a.UseTx {
			err = e.store.InTx(c.Request.Context(), func(ctx context.Context, _ domain.Repos) error {
				// 服务层在同一 ctx 上开事务时会直接复用
				c.Request = c.Request.WithContext(ctx)
				out, err = a.Handler(c, cl, &in)
				return err
			})
		} else {
			out, err = a.Handler(c, cl, &in)
		}
		if err != nil {
			fail(c, e.l, err)
			return
		}
		c.JSON(status, resp.New(code, a.Msg, out))
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		e.g.GET(a.Path, h)
	case http.MethodPut:
		e.g.PUT(a.Path, h)
	case http.MethodPatch:
		e.g.PATCH(a.Path, h)
	case http.MethodDelete:
		e.g.DELETE(a.Path, h)
	default: // 默认 POST
		e.g.POST(a.Path, h)
	}
}

// fail 统一错误出口；5xx 记录内部原因
func fail(c *gin.Context, l *zap.Logger, err error) {
	status, body := resp.FromError(err)
	if status >= http.StatusInternalServerError {
		l.Error("request failed",
			zap.String("rid", c.GetString(mdw.KeyRequestID)),
			zap.String("path", c.FullPath()),
			zap.String("code", body.Code),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

// bindError 绑定错误 -> 业务错误
func bindError(err error) error {
	var (
		ve  validator.ValidationErrors
		te  *json.UnmarshalTypeError
		se  *json.SyntaxError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ve):
		return apperr.Validation(fieldErrors(ve))
	case errors.As(err, &te):
		return apperr.Wrap(apperr.TypeError, "Error on field "+te.Field+": must be "+te.Type.String(), err)
	case errors.As(err, &mbe):
		return apperr.Wrap(apperr.BodyTooLarge, "", err)
	case errors.Is(err, io.EOF):
		return apperr.New(apperr.MissingFields, "")
	case errors.As(err, &se), errors.Is(err, io.ErrUnexpectedEOF):
		return apperr.Wrap(apperr.TypeError, "Malformed JSON body.", err)
	}
	// query 里的数字 / 布尔解析失败
	return apperr.Wrap(apperr.TypeError, err.Error(), err)
}

func actor(c *gin.Context, cl *auth.Claims) service.Actor {
	if cl == nil {
		return service.Actor{IP: c.ClientIP(), RequestID: c.GetString(mdw.KeyRequestID)}
	}
	return service.Actor{
		UserID:    cl.UserID,
		UUID:      cl.UUID(),
		Role:      domain.Role(cl.Role),
		IP:        c.ClientIP(),
		RequestID: c.GetString(mdw.KeyRequestID),
	}
}
