package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestCORSConfig(t *testing.T) {
	if c := CORSConfig(nil); !c.AllowAllOrigins || c.AllowCredentials {
		t.Fatalf("open config %+v", c)
	}
	c := CORSConfig([]string{"https://app.ez.test"})
	if c.AllowAllOrigins || !c.AllowCredentials || c.AllowOrigins[0] != "https://app.ez.test" {
		t.Fatalf("restricted config %+v", c)
	}
}

func TestNewRouterRecovers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(zap.NewNop(), nil, func(c *gin.Context, _ any) {
		c.AbortWithStatus(http.StatusTeapot)
	})
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/boom", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("got %d", w.Code)
	}
}

func TestBuildServer(t *testing.T) {
	srv := BuildServer(Addr("127.0.0.1", 8080), http.NotFoundHandler(), time.Second, 2*time.Second, 3*time.Second)
	if srv.Addr != "127.0.0.1:8080" || srv.WriteTimeout != 2*time.Second || srv.ReadHeaderTimeout != time.Second {
		t.Fatalf("server %+v", srv)
	}
}
