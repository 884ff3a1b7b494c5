package usecases

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samirrijal/geotrack/internal/core/ports"
	"github.com/samirrijal/geotrack/internal/pkg/metrics"
)

// ErrRegistryClosed is returned by Register after Close.
var ErrRegistryClosed = errors.New("live channel registry closed")

var errNotConnected = errors.New("recipient not connected to this instance")

type liveEntry struct {
	handle ports.LiveHandle
	stop   func()
}

// LiveChannelRegistry maps recipients to their live connection on this
// instance. Recipients connected to other instances are reached through the
// broker.
type LiveChannelRegistry struct {
	mu      sync.Mutex
	entries map[int64]*liveEntry
	broker  ports.RecipientBroker
	closed  bool
}

// NewLiveChannelRegistry creates a registry. broker may be nil for a
// single-instance deployment.
func NewLiveChannelRegistry(broker ports.RecipientBroker) *LiveChannelRegistry {
	return &LiveChannelRegistry{
		entries: make(map[int64]*liveEntry),
		broker:  broker,
	}
}

// Register installs h as the recipient's live handle. A previous handle for
// the same recipient is replaced and closed.
func (r *LiveChannelRegistry) Register(recipientID int64, h ports.LiveHandle) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}

	if e, ok := r.entries[recipientID]; ok {
		old := e.handle
		e.handle = h
		r.mu.Unlock()
		if old != nil && old != h {
			_ = old.Close()
		}
		return nil
	}

	e := &liveEntry{handle: h}
	r.entries[recipientID] = e
	if r.broker != nil {
		stop, err := r.broker.Serve(recipientID, func(payload []byte) error {
			return r.sendLocal(context.Background(), recipientID, payload)
		})
		if err != nil {
			slog.Warn("live channel broker subscribe failed", "recipient_id", recipientID, "error", err)
		} else {
			e.stop = stop
		}
	}
	r.mu.Unlock()

	metrics.ActiveWebSockets.Inc()
	return nil
}

// Unregister removes and closes the recipient's handle.
func (r *LiveChannelRegistry) Unregister(recipientID int64) {
	r.mu.Lock()
	e, ok := r.entries[recipientID]
	if ok {
		delete(r.entries, recipientID)
	}
	r.mu.Unlock()

	if ok {
		r.teardown(e)
		_ = e.handle.Close()
	}
}

// Release removes the recipient's entry only if h is still the installed
// handle. A connection that was replaced by a newer one leaves the
// replacement in place.
func (r *LiveChannelRegistry) Release(recipientID int64, h ports.LiveHandle) {
	r.mu.Lock()
	e, ok := r.entries[recipientID]
	if !ok || e.handle != h {
		r.mu.Unlock()
		return
	}
	delete(r.entries, recipientID)
	r.mu.Unlock()

	r.teardown(e)
}

// IsOnline reports whether the recipient holds a live handle on this instance.
func (r *LiveChannelRegistry) IsOnline(recipientID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[recipientID]
	return ok
}

// Send writes payload to the recipient's local handle, or asks the broker to
// reach another instance. It reports false when nobody accepted the payload.
// A failed local write drops the handle.
func (r *LiveChannelRegistry) Send(ctx context.Context, recipientID int64, payload []byte) (bool, error) {
	err := r.sendLocal(ctx, recipientID, payload)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, errNotConnected):
		return false, err
	}

	if r.broker == nil {
		return false, nil
	}
	return r.broker.Deliver(ctx, recipientID, payload)
}

func (r *LiveChannelRegistry) sendLocal(ctx context.Context, recipientID int64, payload []byte) error {
	r.mu.Lock()
	e, ok := r.entries[recipientID]
	var h ports.LiveHandle
	if ok {
		h = e.handle
	}
	r.mu.Unlock()

	if h == nil {
		return errNotConnected
	}
	if err := h.Send(ctx, payload); err != nil {
		r.Release(recipientID, h)
		_ = h.Close()
		return err
	}
	return nil
}

// Close drops every handle and stops serving broker requests.
func (r *LiveChannelRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[int64]*liveEntry)
	r.mu.Unlock()

	for _, e := range entries {
		r.teardown(e)
		_ = e.handle.Close()
	}
}

// Len returns the number of locally connected recipients.
func (r *LiveChannelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *LiveChannelRegistry) teardown(e *liveEntry) {
	if e.stop != nil {
		e.stop()
	}
	metrics.ActiveWebSockets.Dec()
}
