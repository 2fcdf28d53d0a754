package api

import (
	"context"

	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/metrics"
	"github.com/erazemk/ferme/internal/notify"
)

// events fans committed changes out to live subscribers and notification
// recipients. Both sides are best effort.
type events struct {
	hub      *live.Hub
	notifier notify.Dispatcher
}

func (e *events) publish(collection, op, id string, farms ...string) {
	if e == nil || e.hub == nil {
		return
	}
	e.hub.Publish(live.Event{Collection: collection, Op: op, ID: id, FarmIDs: farms})
}

func (e *events) notify(ctx context.Context, recipients []string, p notify.Payload) {
	if e == nil || e.notifier == nil {
		return
	}
	// The dispatcher is asynchronous and never fails.
	notify.SendAll(ctx, e.notifier, recipients, p)
}

func countDispatch(p notify.Payload, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.NotificationsDispatched.WithLabelValues(p.Type, result).Inc()
}
