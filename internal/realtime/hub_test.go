package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ez-parking/internal/domain"
)

func newServer(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHub(zap.NewNop(), origins)
	r := gin.New()
	r.GET("/ws/slots", h.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return h, srv
}

func wsURL(srv *httptest.Server, q string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/slots" + q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	h, srv := newServer(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?establishment_uuid=est-1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return h.Subscribers("est-1") == 1 })

	// 其他停车场的事件不推送
	h.Publish(domain.SlotEvent{EstablishmentUUID: "est-2", SlotCode: "Z1"})
	h.Publish(domain.SlotEvent{EstablishmentUUID: "est-1", SlotCode: "A1", Status: domain.SlotOccupied, Available: 3})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev domain.SlotEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.SlotCode != "A1" || ev.Available != 3 || ev.Status != domain.SlotOccupied {
		t.Fatalf("unexpected event %+v", ev)
	}

	conn.Close()
	waitFor(t, func() bool { return h.Subscribers("est-1") == 0 })
}

func TestServeRejects(t *testing.T) {
	_, srv := newServer(t, []string{"https://app.ez.test"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing uuid should be 400, got %v", resp)
	}

	hdr := http.Header{"Origin": {"https://evil.test"}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "?establishment_uuid=x"), hdr)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin should be rejected, got %v", resp)
	}

	hdr = http.Header{"Origin": {"https://app.ez.test"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?establishment_uuid=x"), hdr)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}
