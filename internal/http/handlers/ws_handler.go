package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chatwave/backend/internal/auth"
	"github.com/chatwave/backend/internal/config"
	"github.com/chatwave/backend/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WSHub pushes campaign lifecycle and stats events to connected dashboards.
// Connections are keyed by org: an event is only visible to its own tenant.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[uuid.UUID][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	_ = h.subscriber.Subscribe(ctx, events.StreamCampaign, func(event events.Event) {
		h.route(event)
	})
}

// route delivers the event to the org named in its payload. Events without an
// org are dropped rather than broadcast across tenants.
func (h *WSHub) route(event events.Event) {
	orgStr, _ := event.Payload["org_id"].(string)
	orgID, err := uuid.Parse(orgStr)
	if err != nil {
		h.log.Debug("event without org scope dropped", zap.String("type", event.Type))
		return
	}
	h.SendToOrg(orgID, event)
}

func (h *WSHub) SendToOrg(orgID uuid.UUID, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[orgID] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	orgID := claims.OrgID

	h.mu.Lock()
	h.connections[orgID] = append(h.connections[orgID], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[orgID]
		for i, c := range conns {
			if c == conn {
				h.connections[orgID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[orgID]) == 0 {
			delete(h.connections, orgID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
