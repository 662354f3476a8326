package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ez-parking/internal/core/auth"
	resp "ez-parking/internal/transport/http/response"
)

func init() { gin.SetMode(gin.TestMode) }

func decode(t *testing.T, w *httptest.ResponseRecorder) resp.Resp {
	t.Helper()
	var r resp.Resp
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	return r
}

func testJWT() *auth.JWTer {
	return &auth.JWTer{Secret: []byte("s3cret"), Issuer: "ez-test", AccessTTL: time.Minute, RefreshTTL: time.Hour}
}

func authEngine(j *auth.JWTer) *gin.Engine {
	r := gin.New()
	ok := func(c *gin.Context) {
		cl, _ := ClaimsFrom(c)
		c.JSON(http.StatusOK, resp.OK("ok", gin.H{"uuid": cl.UUID()}))
	}
	g := r.Group("/", AuthJWT(j))
	g.GET("/me", ok)
	g.PATCH("/me", ok)
	g.GET("/admin", RequireRoles("Admin required.", "admin"), ok)
	r.POST("/refresh", AuthRefresh(j), ok)
	return r
}

func TestAuthJWT(t *testing.T) {
	j := testJWT()
	pair, err := j.IssuePair(auth.Identity{UserID: 7, UUID: "u-7", Email: "a@ez.test", Role: "user"})
	if err != nil {
		t.Fatal(err)
	}
	r := authEngine(j)

	cases := []struct {
		name   string
		method string
		path   string
		setup  func(req *http.Request)
		status int
		code   string
	}{
		{"no token", "GET", "/me", func(*http.Request) {}, 401, "unauthorized"},
		{"bearer", "GET", "/me", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+pair.Access) }, 200, "success"},
		{"cookie get", "GET", "/me", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: CookieAccess, Value: pair.Access})
		}, 200, "success"},
		{"cookie patch without csrf", "PATCH", "/me", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: CookieAccess, Value: pair.Access})
		}, 400, "csrf_error"},
		{"cookie patch with csrf", "PATCH", "/me", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: CookieAccess, Value: pair.Access})
			req.Header.Set(HeaderCSRF, pair.CSRF)
		}, 200, "success"},
		{"bearer skips csrf", "PATCH", "/me", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+pair.Access) }, 200, "success"},
		{"refresh as access", "GET", "/me", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+pair.Refresh) }, 401, "unauthorized"},
		{"role denied", "GET", "/admin", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+pair.Access) }, 401, "unauthorized"},
		{"refresh cookie", "POST", "/refresh", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: CookieRefresh, Value: pair.Refresh})
			req.Header.Set(HeaderCSRF, pair.CSRF)
		}, 200, "success"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(c.method, c.path, nil)
			c.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != c.status {
				t.Fatalf("status %d want %d: %s", w.Code, c.status, w.Body.String())
			}
			if got := decode(t, w); got.Code != c.code {
				t.Fatalf("code %s want %s", got.Code, c.code)
			}
		})
	}

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+pair.Access)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := decode(t, w); got.Message != "Admin required." {
		t.Fatalf("message %q", got.Message)
	}
}

func TestSetAndClearCookies(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	now := time.Now()
	SetAuthCookies(c, CookieOptions{SameSite: http.SameSiteLaxMode}, auth.Pair{
		Access: "a", Refresh: "r", CSRF: "x", AccessExp: now.Add(15 * time.Minute), RefreshExp: now.Add(24 * time.Hour),
	})
	got := map[string]*http.Cookie{}
	for _, ck := range w.Result().Cookies() {
		got[ck.Name] = ck
	}
	if !got[CookieAccess].HttpOnly || !got[CookieRefresh].HttpOnly || got[CookieCSRF].HttpOnly {
		t.Fatalf("unexpected HttpOnly flags %+v", got)
	}
	if got[CookieCSRF].Value != "x" {
		t.Fatalf("csrf cookie %q", got[CookieCSRF].Value)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	ClearAuthCookies(c, CookieOptions{})
	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge >= 0 || ck.Value != "" {
			t.Fatalf("cookie %s not cleared", ck.Name)
		}
	}
}

func TestRateLimitPerIP(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitPerIP(1, 1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if do("10.0.0.1") != 200 {
		t.Fatalf("first request should pass")
	}
	if code := do("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("second request got %d", code)
	}
	if do("10.0.0.2") != 200 {
		t.Fatalf("other ip has its own bucket")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	r := gin.New()
	r.Use(MaxBodyBytes(8))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 32)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge || decode(t, w).Code != "request_body_too_large" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestTimeout(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(10 * time.Millisecond))
	r.GET("/", func(c *gin.Context) { <-c.Request.Context().Done() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusGatewayTimeout || decode(t, w).Code != "timeout" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(KeyRequestID)) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(KeyRequestID, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "abc" || w.Header().Get(KeyRequestID) != "abc" {
		t.Fatalf("upstream id not kept")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(KeyRequestID, strings.Repeat("a", 100))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if len(w.Body.String()) != 36 {
		t.Fatalf("oversized id should be replaced, got %q", w.Body.String())
	}
}

func TestMaskQuery(t *testing.T) {
	got := maskQuery(map[string][]string{"OTP": {"123456"}, "qr_content": {"eyJ"}, "page": {"2"}})
	if got["OTP"][0] != "****" || got["qr_content"][0] != "****" || got["page"][0] != "2" {
		t.Fatalf("unexpected %v", got)
	}
}
