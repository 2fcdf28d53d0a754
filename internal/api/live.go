package api

import (
	"net/http"
	"strings"

	"github.com/erazemk/ferme/internal/live"
)

// LiveHandler streams change events over a websocket.
type LiveHandler struct {
	Hub *live.Hub
}

// Subscribe handles GET /api/ws?collection=stocks,stock_transfers.
// Events are limited to the caller's farm unless it is elevated.
func (h *LiveHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		jsonError(w, http.StatusServiceUnavailable, "live updates are disabled")
		return
	}

	actor := actorFrom(r)
	sub := live.Subscriber{FarmID: actor.FarmID, AllFarms: actor.Elevated()}
	if c := r.URL.Query().Get("collection"); c != "" {
		for _, name := range strings.Split(c, ",") {
			if name = strings.TrimSpace(name); name != "" {
				sub.Collections = append(sub.Collections, name)
			}
		}
	}

	h.Hub.Serve(w, r, sub)
}
