// Package realtime 车位余量的 websocket 推送，按停车场 uuid 分组订阅
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/metrics"
	"ez-parking/internal/domain"
	"ez-parking/internal/transport/http/response"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 15 * time.Second
	sendBuffer = 16
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	l        *zap.Logger
}

// NewHub origins 为空时不校验 Origin
func NewHub(l *zap.Logger, origins []string) *Hub {
	h := &Hub{subs: map[string]map[*client]struct{}{}, l: l.Named("ws")}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			for _, o := range origins {
				if o == origin {
					return true
				}
			}
			h.l.Warn("websocket origin rejected", zap.String("origin", origin))
			return false
		},
	}
	return h
}

// Publish 不阻塞：发送队列满的客户端直接丢弃该条
func (h *Hub) Publish(ev domain.SlotEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.l.Error("marshal slot event", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[ev.EstablishmentUUID] {
		select {
		case c.send <- b:
		default:
			h.l.Debug("slow subscriber, event dropped", zap.String("establishment_uuid", ev.EstablishmentUUID))
		}
	}
}

func (h *Hub) Subscribers(establishmentUUID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[establishmentUUID])
}

func (h *Hub) add(key string, c *client) {
	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = map[*client]struct{}{}
	}
	h.subs[key][c] = struct{}{}
	h.mu.Unlock()
	metrics.WSClients(1)
}

func (h *Hub) remove(key string, c *client) {
	h.mu.Lock()
	if _, ok := h.subs[key][c]; ok {
		delete(h.subs[key], c)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
		close(c.send)
		metrics.WSClients(-1)
	}
	h.mu.Unlock()
}

// Serve GET /ws/slots?establishment_uuid=
func (h *Hub) Serve(c *gin.Context) {
	key := c.Query("establishment_uuid")
	if key == "" {
		status, body := response.FromError(apperr.New(apperr.MissingFields, "Please provide an establishment_uuid."))
		c.JSON(status, body)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写了响应
		h.l.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(key, cl)
	h.l.Debug("subscriber joined", zap.String("establishment_uuid", key))

	go h.writePump(cl)
	h.readPump(key, cl)
}

// readPump 只处理 pong / close，客户端消息丢弃
func (h *Hub) readPump(key string, c *client) {
	defer func() {
		h.remove(key, c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.l.Debug("websocket closed", zap.String("establishment_uuid", key), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	t := time.NewTicker(pingPeriod)
	defer func() {
		t.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-t.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
