// Package notify delivers advisory notifications to farm users. Delivery is
// best effort: the ledger never depends on a notification arriving.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/erazemk/ferme/internal/model"
)

// Notification types.
const (
	TypeIncomingTransfer    = model.NotificationTypeIncomingTransfer
	TypeWorkerDuplicate     = "worker_duplicate"
	TypeWorkerExitConfirmed = "worker_exit_confirmed"
)

// Payload is one notification for one recipient.
type Payload struct {
	RecipientID     string         `json:"recipient_id"`
	RecipientFarmID string         `json:"recipient_ferme_id,omitempty"`
	Type            string         `json:"type"`
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	Priority        model.Priority `json:"priority"`
	ActionData      map[string]any `json:"action_data,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Dispatcher sends a notification.
type Dispatcher interface {
	Send(ctx context.Context, p Payload) error
}

// LogDispatcher writes notifications to the structured log. It is used when
// no message broker is configured.
type LogDispatcher struct{}

// Send logs the payload.
func (LogDispatcher) Send(_ context.Context, p Payload) error {
	slog.Info("notification",
		"recipient", p.RecipientID,
		"farm", p.RecipientFarmID,
		"type", p.Type,
		"priority", p.Priority,
		"title", p.Title,
	)
	return nil
}

// Observer is told the outcome of every asynchronous send.
type Observer func(p Payload, err error)

type asyncDispatcher struct {
	next    Dispatcher
	timeout time.Duration
	observe Observer
}

// Async wraps d so that Send returns immediately. Delivery runs in the
// background with its own timeout; failures are logged and never returned.
// observe may be nil.
func Async(d Dispatcher, observe Observer) Dispatcher {
	return &asyncDispatcher{next: d, timeout: 10 * time.Second, observe: observe}
}

func (a *asyncDispatcher) Send(_ context.Context, p Payload) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		err := a.next.Send(ctx, p)
		if err != nil {
			slog.Error("notification dispatch failed", "recipient", p.RecipientID, "type", p.Type, "error", err)
		}
		if a.observe != nil {
			a.observe(p, err)
		}
	}()
	return nil
}

// SendAll sends one payload per recipient, stamping RecipientID. It returns
// the first error but attempts every recipient.
func SendAll(ctx context.Context, d Dispatcher, recipients []string, p Payload) error {
	var first error
	for _, r := range recipients {
		p.RecipientID = r
		if err := d.Send(ctx, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}
