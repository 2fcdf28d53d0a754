package store

import (
	"context"
	"errors"
	"testing"

	"github.com/erazemk/ferme/internal/model"
)

func TestAcknowledgeNotification(t *testing.T) {
	database, gloves := setupLedger(t)
	ctx := context.Background()

	mustCreateTransfer(t, database, gloves.ID, 2)
	notes, _ := ListNotifications(ctx, database, "farm-b", false)
	if len(notes) != 1 {
		t.Fatalf("expected 1 unread notification, got %d", len(notes))
	}
	id := notes[0].ID

	var fe *model.ForbiddenError
	if err := AcknowledgeNotification(ctx, database, id, actorA); !errors.As(err, &fe) {
		t.Errorf("expected ForbiddenError for another farm, got %v", err)
	}

	if err := AcknowledgeNotification(ctx, database, id, actorB); err != nil {
		t.Fatalf("AcknowledgeNotification: %v", err)
	}
	if err := AcknowledgeNotification(ctx, database, id, actorB); err != nil {
		t.Errorf("expected repeated acknowledgement to succeed, got %v", err)
	}

	if n, _ := CountUnread(ctx, database, "farm-b"); n != 0 {
		t.Errorf("expected 0 unread, got %d", n)
	}
	all, _ := ListNotifications(ctx, database, "farm-b", true)
	if len(all) != 1 || all[0].Status != model.NotificationAcknowledged || all[0].AcknowledgedAt == nil {
		t.Errorf("expected acknowledged notification, got %+v", all)
	}

	var nf *model.NotFoundError
	if err := AcknowledgeNotification(ctx, database, "missing", actorB); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
