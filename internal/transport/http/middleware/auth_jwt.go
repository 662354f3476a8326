package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/auth"
)

const keyClaims = "claims"

// CSRF 只校验会改状态的方法
var csrfMethods = map[string]struct{}{
	http.MethodPost: {}, http.MethodPut: {}, http.MethodPatch: {}, http.MethodDelete: {},
}

// tokenFrom header 优先；返回值 fromCookie 决定是否需要 CSRF 校验
func tokenFrom(c *gin.Context, cookie string) (tok string, fromCookie bool) {
	if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, "Bearer ") {
		return strings.TrimPrefix(ah, "Bearer "), false
	}
	if v, err := c.Cookie(cookie); err == nil && v != "" {
		return v, true
	}
	return "", false
}

func checkCSRF(c *gin.Context, cl *auth.Claims) bool {
	if _, ok := csrfMethods[c.Request.Method]; !ok {
		return true
	}
	h := c.GetHeader(HeaderCSRF)
	return h != "" && subtle.ConstantTimeCompare([]byte(h), []byte(cl.CSRF)) == 1
}

func authenticate(c *gin.Context, j *auth.JWTer, cookie string, typ auth.TokenType) bool {
	tok, fromCookie := tokenFrom(c, cookie)
	if tok == "" {
		abortKind(c, apperr.Unauthorized, "Missing token.")
		return false
	}
	cl, err := j.Parse(tok, typ)
	if err != nil {
		abortKind(c, apperr.Unauthorized, "Invalid or expired token.")
		return false
	}
	if fromCookie && !checkCSRF(c, cl) {
		abortKind(c, apperr.CSRFError, "")
		return false
	}
	c.Set(keyClaims, cl)
	return true
}

// AuthJWT access token：Authorization cookie 或 Bearer header
func AuthJWT(j *auth.JWTer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate(c, j, CookieAccess, auth.AccessToken) {
			c.Next()
		}
	}
}

// AuthRefresh /refresh 专用，读 refresh_token cookie
func AuthRefresh(j *auth.JWTer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate(c, j, CookieRefresh, auth.RefreshToken) {
			c.Next()
		}
	}
}

// RequireRoles 需在 AuthJWT 之后；不在允许角色内一律 401
func RequireRoles(msg string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, ok := ClaimsFrom(c)
		if !ok || !cl.HasRole(roles...) {
			abortKind(c, apperr.Unauthorized, msg)
			return
		}
		c.Next()
	}
}

func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(keyClaims)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*auth.Claims)
	return cl, ok && cl != nil
}
