package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/erazemk/ferme/internal/model"
)

type recorder struct {
	mu    sync.Mutex
	sent  []Payload
	fails bool
}

func (r *recorder) Send(_ context.Context, p Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p)
	if r.fails {
		return errors.New("broker down")
	}
	return nil
}

func TestSendAll(t *testing.T) {
	rec := &recorder{}
	err := SendAll(context.Background(), rec, []string{"u1", "u2"}, Payload{Type: TypeIncomingTransfer})
	if err != nil {
		t.Fatalf("SendAll: %v", err)
	}
	if len(rec.sent) != 2 || rec.sent[0].RecipientID != "u1" || rec.sent[1].RecipientID != "u2" {
		t.Errorf("unexpected payloads: %+v", rec.sent)
	}
}

func TestAsyncSwallowsErrors(t *testing.T) {
	rec := &recorder{fails: true}
	done := make(chan error, 1)
	d := Async(rec, func(_ Payload, err error) { done <- err })

	if err := d.Send(context.Background(), Payload{RecipientID: "u1", Type: TypeWorkerDuplicate}); err != nil {
		t.Fatalf("expected nil from async send, got %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected observer to see the delivery error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaDispatcherMessage(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaDispatcher{writer: w}

	p := Payload{
		RecipientID: "admin-1",
		Type:        TypeWorkerDuplicate,
		Priority:    model.PriorityUrgent,
		ActionData:  map[string]any{"cin": "AB123"},
	}
	if err := k.Send(context.Background(), p); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "admin-1" {
		t.Errorf("expected recipient key, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != TypeWorkerDuplicate {
		t.Errorf("unexpected headers: %+v", msg.Headers)
	}

	var got Payload
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Priority != model.PriorityUrgent || got.ActionData["cin"] != "AB123" {
		t.Errorf("unexpected payload: %+v", got)
	}
}
