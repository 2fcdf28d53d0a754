package live

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSubscriberWants(t *testing.T) {
	ev := Event{Collection: CollectionTransfers, FarmIDs: []string{"a", "b"}}

	tests := []struct {
		sub  Subscriber
		want bool
	}{
		{Subscriber{FarmID: "a"}, true},
		{Subscriber{FarmID: "c"}, false},
		{Subscriber{FarmID: "c", AllFarms: true}, true},
		{Subscriber{FarmID: "a", Collections: []string{CollectionStocks}}, false},
		{Subscriber{FarmID: "b", Collections: []string{CollectionStocks, CollectionTransfers}}, true},
	}
	for _, tt := range tests {
		if got := tt.sub.wants(ev); got != tt.want {
			t.Errorf("%+v wants = %v, want %v", tt.sub, got, tt.want)
		}
	}

	if !(Subscriber{FarmID: "z"}).wants(Event{Collection: CollectionFarms}) {
		t.Error("expected events without farms to reach every subscriber")
	}
}

func dial(t *testing.T, hub *Hub, sub Subscriber) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, sub)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversMatchingEvents(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	farmA := dial(t, hub, Subscriber{FarmID: "a", Collections: []string{CollectionStocks}})
	waitForClients(t, hub, 1)

	hub.Publish(Event{Collection: CollectionStocks, Op: OpUpdate, ID: "other", FarmIDs: []string{"b"}})
	hub.Publish(Event{Collection: CollectionTransfers, Op: OpCreate, ID: "tr", FarmIDs: []string{"a"}})
	hub.Publish(Event{Collection: CollectionStocks, Op: OpUpdate, ID: "mine", FarmIDs: []string{"a"}})

	farmA.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := farmA.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.ID != "mine" || got.Op != OpUpdate {
		t.Errorf("expected only the matching event, got %+v", got)
	}
	if got.At.IsZero() {
		t.Error("expected event time to be set")
	}
}

func TestHubRemovesDisconnectedClients(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, hub, Subscriber{AllFarms: true})
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
