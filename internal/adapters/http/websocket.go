package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geotrack/internal/adapters/auth"
	natsadapter "github.com/samirrijal/geotrack/internal/adapters/nats"
	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/usecases"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
)

const wsPingInterval = 30 * time.Second

// WebSocketAuth upgrades only requests carrying a valid ?token= whose role is
// in roles. Browsers cannot set headers on a websocket handshake.
func WebSocketAuth(v *auth.Verifier, roles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if v == nil {
			return errUnauthorized(c, "authentication is not configured")
		}
		claims, err := v.Verify(c.Query("token"))
		if err != nil {
			return errUnauthorized(c, "invalid token")
		}
		allowed := len(roles) == 0
		for _, r := range roles {
			if claims.Role == r {
				allowed = true
			}
		}
		if !allowed {
			return errForbidden(c, "role "+string(claims.Role)+" may not open this channel")
		}
		c.Locals(claimsLocal, claims)
		return c.Next()
	}
}

// wsHandle adapts a websocket connection to ports.LiveHandle. Writes are
// serialized per connection.
type wsHandle struct {
	id   string
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSHandle(conn *websocket.Conn) *wsHandle {
	return &wsHandle{id: uuid.NewString(), conn: conn, done: make(chan struct{})}
}

func (h *wsHandle) Send(ctx context.Context, payload []byte) error {
	return h.write(ctx, websocket.TextMessage, payload)
}

func (h *wsHandle) write(ctx context.Context, kind int, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = h.conn.SetWriteDeadline(dl)
		defer h.conn.SetWriteDeadline(time.Time{})
	}
	return h.conn.WriteMessage(kind, payload)
}

func (h *wsHandle) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.Send(context.Background(), data)
}

func (h *wsHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		err = h.conn.Close()
	})
	return err
}

// keepAlive pings the peer until the handle is closed or a write fails.
func (h *wsHandle) keepAlive() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.write(context.Background(), websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.done:
			return
		}
	}
}

// LiveChannelHandler registers the caller's connection as their live
// notification channel. A newer connection for the same user replaces this
// one.
func LiveChannelHandler(live *usecases.LiveChannelRegistry) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		claims, _ := c.Locals(claimsLocal).(auth.Claims)
		h := newWSHandle(c)
		log := slog.With("user_id", claims.UserID, "conn_id", h.id)

		if err := live.Register(claims.UserID, h); err != nil {
			log.Warn("live channel register failed", "error", err)
			_ = h.Close()
			return
		}
		log.Info("live channel opened")

		defer func() {
			live.Release(claims.UserID, h)
			_ = h.Close()
			log.Info("live channel closed")
		}()

		go h.keepAlive()
		_ = h.writeJSON(fiber.Map{"status": "connected", "user_id": claims.UserID})

		// inbound frames are only read to notice disconnects
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// feedMessage is sent by feed clients to narrow or widen the relay.
type feedMessage struct {
	Action  string `json:"action"`  // "subscribe" | "unsubscribe"
	Channel string `json:"channel"` // "locations" | "violations" | "timers"
	ID      int64  `json:"id"`      // driver id for locations, trip id otherwise; 0 = all
}

func feedSubject(channel string, id int64) (string, bool) {
	var prefix string
	switch channel {
	case "locations":
		prefix = natsadapter.SubjectLocation
	case "violations":
		prefix = natsadapter.SubjectViolation
	case "timers":
		prefix = natsadapter.SubjectTimer
	default:
		return "", false
	}
	if id == 0 {
		return prefix + ">", true
	}
	if channel == "timers" {
		return prefix + strconv.FormatInt(id, 10) + ".*", true
	}
	return prefix + strconv.FormatInt(id, 10), true
}

// FeedHandler relays location, violation and timer events from NATS to an
// admin dashboard. Violations for every trip are relayed by default.
func FeedHandler(nc *nats.Conn) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		h := newWSHandle(c)
		defer h.Close()
		claims, _ := c.Locals(claimsLocal).(auth.Claims)
		log := slog.With("user_id", claims.UserID, "conn_id", h.id)

		if nc == nil {
			_ = h.writeJSON(fiber.Map{"error": "event feed unavailable"})
			return
		}

		subs := make(map[string]*nats.Subscription)
		subscribe := func(subject string) error {
			s, err := nc.Subscribe(subject, func(msg *nats.Msg) {
				_ = h.Send(context.Background(), msg.Data)
			})
			if err != nil {
				return err
			}
			subs[subject] = s
			return nil
		}

		defaultSubject, _ := feedSubject("violations", 0)
		if err := subscribe(defaultSubject); err != nil {
			log.Warn("feed default subscribe failed", "error", err)
			return
		}
		metrics.ActiveFeeds.Inc()
		go h.keepAlive()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}

			var m feedMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				_ = h.writeJSON(fiber.Map{"error": "invalid JSON"})
				continue
			}
			subject, ok := feedSubject(m.Channel, m.ID)
			if !ok {
				_ = h.writeJSON(fiber.Map{"error": "unknown channel: " + m.Channel})
				continue
			}

			switch m.Action {
			case "subscribe":
				if _, exists := subs[subject]; exists {
					_ = h.writeJSON(fiber.Map{"status": "already subscribed", "subject": subject})
					continue
				}
				if err := subscribe(subject); err != nil {
					_ = h.writeJSON(fiber.Map{"error": "subscribe failed: " + err.Error()})
					continue
				}
				_ = h.writeJSON(fiber.Map{"status": "subscribed", "subject": subject})
			case "unsubscribe":
				s, exists := subs[subject]
				if !exists {
					_ = h.writeJSON(fiber.Map{"error": "not subscribed to " + subject})
					continue
				}
				_ = s.Unsubscribe()
				delete(subs, subject)
				_ = h.writeJSON(fiber.Map{"status": "unsubscribed", "subject": subject})
			default:
				_ = h.writeJSON(fiber.Map{"error": "unknown action: " + m.Action})
			}
		}

		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		metrics.ActiveFeeds.Dec()
	}
}
