// Package push sends mobile push notifications through Firebase Cloud
// Messaging.
package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
)

// messageSender is the subset of *messaging.Client used here.
type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMSender implements ports.PushSender.
type FCMSender struct {
	client  messageSender
	limiter *rate.Limiter
}

// NewFCMSender builds a sender from a service-account file, or from
// application-default credentials when credentialsFile is empty.
func NewFCMSender(ctx context.Context, projectID, credentialsFile string, perSecond float64) (*FCMSender, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return newSender(client, perSecond), nil
}

func newSender(client messageSender, perSecond float64) *FCMSender {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &FCMSender{client: client, limiter: rate.NewLimiter(limit, burst)}
}

func (s *FCMSender) SendPush(ctx context.Context, token, title, body string) error {
	if token == "" {
		return domain.Invalidf("empty device token")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
	})
	if err != nil {
		metrics.PushFailures.Inc()
		return domain.ProviderError("fcm", err)
	}
	return nil
}
