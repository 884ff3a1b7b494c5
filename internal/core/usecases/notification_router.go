package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
	"github.com/samirrijal/geotrack/internal/pkg/telemetry"
)

// Outbound is one message addressed to one recipient.
type Outbound struct {
	RecipientID int64
	Title       string
	Body        string
}

// livePayload is the frame written to a recipient's live channel.
type livePayload struct {
	Type     string    `json:"type"`
	EventKey string    `json:"event_key,omitempty"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// NotificationRouter delivers messages live when the recipient is connected
// and falls back to the durable inbox plus a mobile push otherwise.
type NotificationRouter struct {
	users         ports.UserRepository
	notifications ports.NotificationRepository
	live          ports.LiveChannel
	push          ports.PushSender
	cache         ports.CacheService
	dedupTTL      int
	now           func() time.Time
}

// NewNotificationRouter creates a new NotificationRouter. live, push and
// cache may be nil.
func NewNotificationRouter(
	users ports.UserRepository,
	notifications ports.NotificationRepository,
	live ports.LiveChannel,
	push ports.PushSender,
	cache ports.CacheService,
	dedupTTLSeconds int,
) *NotificationRouter {
	if dedupTTLSeconds <= 0 {
		dedupTTLSeconds = 86400
	}
	return &NotificationRouter{
		users:         users,
		notifications: notifications,
		live:          live,
		push:          push,
		cache:         cache,
		dedupTTL:      dedupTTLSeconds,
		now:           time.Now,
	}
}

// Recipients returns the driver, the geofence creator and the trip admin,
// deduplicated, in that order. Missing references are skipped.
func Recipients(trip *domain.Trip, fence *domain.Geofence) []int64 {
	var ids []int64
	seen := make(map[int64]bool, 3)
	add := func(id int64) {
		if id == 0 || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	add(trip.Driver())
	if fence != nil {
		add(fence.Creator())
	}
	add(trip.Admin())
	return ids
}

// Notify delivers every message concurrently and returns one outcome per
// message. eventKey scopes deduplication: a recipient receives at most one
// message per key.
func (r *NotificationRouter) Notify(ctx context.Context, eventKey string, msgs []Outbound) []domain.DeliveryOutcome {
	ctx, span := telemetry.Tracer().Start(ctx, "NotificationRouter.Notify",
		trace.WithAttributes(
			attribute.String("event_key", eventKey),
			telemetry.AttrRecipients.Int(len(msgs)),
		))
	defer span.End()

	outcomes := make([]domain.DeliveryOutcome, len(msgs))
	var wg sync.WaitGroup
	for i, m := range msgs {
		wg.Add(1)
		go func(i int, m Outbound) {
			defer wg.Done()
			outcomes[i] = r.deliver(ctx, eventKey, m)
			metrics.NotificationDeliveries.WithLabelValues(string(outcomes[i].Channel)).Inc()
		}(i, m)
	}
	wg.Wait()
	return outcomes
}

func (r *NotificationRouter) deliver(ctx context.Context, eventKey string, m Outbound) domain.DeliveryOutcome {
	log := logging.FromContext(ctx).With("recipient_id", m.RecipientID, "event_key", eventKey)
	out := domain.DeliveryOutcome{RecipientID: m.RecipientID}

	dedupKey := ""
	if r.cache != nil && eventKey != "" {
		key := fmt.Sprintf("notify:%s:%d", eventKey, m.RecipientID)
		fresh, err := r.cache.SetNX(ctx, key, []byte("1"), r.dedupTTL)
		switch {
		case err != nil:
			log.Warn("dedup check failed, delivering anyway", "error", err)
		case !fresh:
			out.Channel = domain.DeliverySkipped
			return out
		default:
			dedupKey = key
		}
	}

	if r.live != nil {
		payload, err := json.Marshal(livePayload{
			Type:     "notification",
			EventKey: eventKey,
			Title:    m.Title,
			Message:  m.Body,
			SentAt:   r.now().UTC(),
		})
		if err == nil {
			sent, err := r.live.Send(ctx, m.RecipientID, payload)
			if err != nil {
				log.Debug("live delivery failed", "error", err)
			}
			if sent {
				out.Channel = domain.DeliveryLive
				return out
			}
		}
	}

	n := &domain.Notification{
		RecipientID: m.RecipientID,
		Title:       m.Title,
		Message:     m.Body,
		EventKey:    eventKey,
		CreatedAt:   r.now(),
	}
	if err := r.notifications.Create(ctx, n); err != nil {
		log.Error("durable notification write failed", "error", err)
		if dedupKey != "" {
			_ = r.cache.Delete(ctx, dedupKey)
		}
		out.Channel = domain.DeliveryFailed
		out.Error = err.Error()
		return out
	}
	out.Channel = domain.DeliveryDurable
	out.Pushed = r.sendPush(ctx, m)
	return out
}

func (r *NotificationRouter) sendPush(ctx context.Context, m Outbound) bool {
	if r.push == nil {
		return false
	}
	user, err := r.users.GetByID(ctx, m.RecipientID)
	if err != nil || user.DeviceToken == "" {
		return false
	}
	if err := r.push.SendPush(ctx, user.DeviceToken, m.Title, m.Body); err != nil {
		metrics.PushFailures.Inc()
		logging.FromContext(ctx).Warn("push failed",
			"recipient_id", m.RecipientID,
			"error", domain.ProviderError("fcm", err))
		return false
	}
	return true
}

// displayName returns the user's name, or a placeholder when the lookup fails.
func (r *NotificationRouter) displayName(ctx context.Context, userID int64) string {
	if userID == 0 {
		return "unknown"
	}
	u, err := r.users.GetByID(ctx, userID)
	if err != nil || u.Name == "" {
		return fmt.Sprintf("#%d", userID)
	}
	return u.Name
}

// ViolationMessages builds the driver and admin messages for a violation.
func (r *NotificationRouter) ViolationMessages(ctx context.Context, trip *domain.Trip, fence *domain.Geofence) []Outbound {
	driverName := r.displayName(ctx, trip.Driver())
	var msgs []Outbound
	for _, id := range Recipients(trip, fence) {
		if id == trip.Driver() {
			msgs = append(msgs, Outbound{
				RecipientID: id,
				Title:       "Geofence violation",
				Body:        "Geofence violation detected. Please fill out a delay report for 'Route Deviation'.",
			})
			continue
		}
		msgs = append(msgs, Outbound{
			RecipientID: id,
			Title:       "Geofence violation",
			Body: fmt.Sprintf("Driver %s has crossed a geofence boundary and missed the crossing time limit for Trip %d. Please review the delay report.",
				driverName, trip.ID),
		})
	}
	return msgs
}

// TimerEndedMessage builds the admin notice sent when a crossing timer fires.
func TimerEndedMessage(trip *domain.Trip) (Outbound, bool) {
	if trip.Admin() == 0 {
		return Outbound{}, false
	}
	return Outbound{
		RecipientID: trip.Admin(),
		Title:       "Geofence timer ended",
		Body:        fmt.Sprintf("Geofence timer for trip '%d' has ended. Please check the geofence status.", trip.ID),
	}, true
}

// TripAssignedMessage builds the driver notice sent on assignment.
func TripAssignedMessage(trip *domain.Trip) Outbound {
	return Outbound{
		RecipientID: trip.Driver(),
		Title:       "Trip assigned",
		Body:        fmt.Sprintf("You have been assigned to trip %d. Check the app for route details.", trip.ID),
	}
}

// DelayReportMessages builds the notices for a driver-submitted report.
func (r *NotificationRouter) DelayReportMessages(ctx context.Context, trip *domain.Trip, report *domain.DelayReport) []Outbound {
	msgs := []Outbound{{
		RecipientID: report.DriverID,
		Title:       "Delay report",
		Body:        "Delay Report submitted: " + report.Reason,
	}}
	if admin := trip.Admin(); admin != 0 && admin != report.DriverID {
		msgs = append(msgs, Outbound{
			RecipientID: admin,
			Title:       "Delay report",
			Body:        fmt.Sprintf("Driver %s submitted a Delay Report: %s", r.displayName(ctx, report.DriverID), report.Reason),
		})
	}
	return msgs
}
