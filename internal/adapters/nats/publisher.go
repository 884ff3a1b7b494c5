package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

// Subjects used across services.
const (
	SubjectDeviceLocation = "device.location."
	SubjectLocation       = "location."
	SubjectViolation      = "violation."
	SubjectTimer          = "timer."
)

// Streams returns the JetStream streams geotrack relies on.
func Streams() []nats.StreamConfig {
	return []nats.StreamConfig{
		{
			Name:      "GEOTRACK_DEVICES",
			Subjects:  []string{SubjectDeviceLocation + ">"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:       "GEOTRACK_LOCATIONS",
			Subjects:   []string{SubjectLocation + ">"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     1 * time.Hour,
			Storage:    nats.FileStorage,
			Duplicates: 2 * time.Minute,
		},
		{
			Name:       "GEOTRACK_VIOLATIONS",
			Subjects:   []string{SubjectViolation + ">"},
			Retention:  nats.InterestPolicy,
			MaxAge:     24 * time.Hour,
			Storage:    nats.FileStorage,
			Duplicates: 10 * time.Minute,
		},
		{
			Name:      "GEOTRACK_TIMERS",
			Subjects:  []string{SubjectTimer + ">"},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := EnsureStreams(js); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

// EnsureStreams creates or updates every stream in Streams.
func EnsureStreams(js nats.JetStreamManager) error {
	for _, cfg := range Streams() {
		cfg := cfg
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// Conn exposes the underlying connection for request/reply and relays.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

func (p *Publisher) PublishLocation(ctx context.Context, ev *domain.LocationEvent) error {
	return p.publishJSON(ctx, SubjectLocation+strconv.FormatInt(ev.DriverID, 10), uuid.NewString(), ev)
}

// PublishViolation uses the event key as the message id so the stream drops
// a republished violation.
func (p *Publisher) PublishViolation(ctx context.Context, ev *domain.ViolationEvent) error {
	return p.publishJSON(ctx, SubjectViolation+strconv.FormatInt(ev.TripID, 10), ev.EventKey, ev)
}

func (p *Publisher) PublishTimerEvent(ctx context.Context, ev *domain.TimerEvent) error {
	subject := fmt.Sprintf("%s%d.%d", SubjectTimer, ev.TripID, ev.GeofenceID)
	return p.publishJSON(ctx, subject, "", ev)
}

// PublishDeviceSample publishes a raw device sample for the tracker to
// ingest.
func (p *Publisher) PublishDeviceSample(ctx context.Context, ev *domain.LocationEvent) error {
	return p.publishJSON(ctx, SubjectDeviceLocation+strconv.FormatInt(ev.DriverID, 10), "", ev)
}

func (p *Publisher) publishJSON(ctx context.Context, subject, msgID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	_, err = p.js.Publish(subject, data, opts...)
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("geotrack"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
