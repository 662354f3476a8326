package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/core/auth"
)

const (
	CookieAccess  = "Authorization"
	CookieRefresh = "refresh_token"
	CookieCSRF    = "X-CSRF-TOKEN"
	HeaderCSRF    = "X-CSRF-TOKEN"
)

type CookieOptions struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (o CookieOptions) set(c *gin.Context, name, value string, exp time.Time, httpOnly bool) {
	maxAge := -1
	if !exp.IsZero() {
		maxAge = int(time.Until(exp).Seconds())
		if maxAge <= 0 {
			maxAge = -1
		}
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   o.Domain,
		MaxAge:   maxAge,
		Secure:   o.Secure,
		HttpOnly: httpOnly,
		SameSite: o.SameSite,
	})
}

// SetAuthCookies access / refresh 为 HttpOnly；CSRF cookie 需要前端脚本读取
func SetAuthCookies(c *gin.Context, o CookieOptions, p auth.Pair) {
	o.set(c, CookieAccess, p.Access, p.AccessExp, true)
	if p.Refresh != "" {
		o.set(c, CookieRefresh, p.Refresh, p.RefreshExp, true)
	}
	o.set(c, CookieCSRF, p.CSRF, p.RefreshExp, false)
}

func ClearAuthCookies(c *gin.Context, o CookieOptions) {
	for _, n := range []string{CookieAccess, CookieRefresh} {
		o.set(c, n, "", time.Time{}, true)
	}
	o.set(c, CookieCSRF, "", time.Time{}, false)
}
