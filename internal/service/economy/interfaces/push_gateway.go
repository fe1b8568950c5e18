package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"jeutaime/internal/pkg/auth"
	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/service/economy/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub 维护本节点上所有活跃的 WebSocket 连接。同一个用户可以有多个连接。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*wsClient]struct{})}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	uid  string
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.uid] == nil {
		h.clients[c.uid] = make(map[*wsClient]struct{})
	}
	h.clients[c.uid][c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.uid]
	if !ok {
		return
	}
	if _, ok := conns[c]; ok {
		delete(conns, c)
		close(c.send)
	}
	if len(conns) == 0 {
		delete(h.clients, c.uid)
	}
}

// Deliver 把消息推给用户在本节点的所有连接，返回成功入队的连接数。
// 发送缓冲已满的连接被视为卡死并断开。
func (h *Hub) Deliver(uid string, payload []byte) int {
	h.mu.RLock()
	var stale []*wsClient
	delivered := 0
	for c := range h.clients[uid] {
		select {
		case c.send <- payload:
			delivered++
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.unregister(c)
	}
	return delivered
}

// Online 返回用户在本节点的连接数
func (h *Hub) Online(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[uid])
}

// PushHandler 处理 /ws 升级请求
type PushHandler struct {
	hub      *Hub
	verifier *auth.Verifier
}

func NewPushHandler(hub *Hub, verifier *auth.Verifier) *PushHandler {
	return &PushHandler{hub: hub, verifier: verifier}
}

func (p *PushHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", p.serveWs)
}

// serveWs 浏览器无法给 WebSocket 设置请求头，所以同时接受 ?token= 参数
func (p *PushHandler) serveWs(w http.ResponseWriter, r *http.Request) {
	uid := auth.UIDFrom(r.Context())
	if uid == "" && p.verifier != nil {
		if token := r.URL.Query().Get("token"); token != "" {
			var err error
			if uid, err = p.verifier.Verify(token); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
		}
	}
	if uid == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{hub: p.hub, conn: conn, send: make(chan []byte, sendBufferSize), uid: uid}
	p.hub.register(client)
	logger.Ctx(r.Context()).Info().Str("uid", uid).Msg("push client connected")

	go client.writePump()
	go client.readPump()
}

// writePump 把 send 中的消息写入连接，并定期发送 ping
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
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
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理 pong 和关闭，客户端不会发送业务消息
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// NotificationPushConsumer 消费 notifications 主题并推给本节点的在线用户。
// 每个节点使用独立的消费组，这样每条通知都会到达所有节点。
type NotificationPushConsumer struct {
	reader messageReader
	hub    *Hub
}

func NewNotificationPushConsumer(reader messageReader, hub *Hub) *NotificationPushConsumer {
	return &NotificationPushConsumer{reader: reader, hub: hub}
}

func (a *NotificationPushConsumer) Run(ctx context.Context) error {
	return consumeLoop(ctx, "Notification Push Consumer", a.reader, nil, a.handle)
}

func (a *NotificationPushConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var n domain.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		logger.Ctx(ctx).Warn().Err(errors.WithStack(err)).Msg("malformed notification skipped")
		return nil
	}
	if delivered := a.hub.Deliver(n.UID, msg.Value); delivered > 0 {
		logger.Ctx(ctx).Debug().Str("uid", n.UID).Int("connections", delivered).Msg("notification pushed")
	}
	return nil
}

func (a *NotificationPushConsumer) Close() error {
	return a.reader.Close()
}
