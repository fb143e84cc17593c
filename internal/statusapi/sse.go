package statusapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hyperengineering/synccore/internal/syncengine"
)

// streamedKinds is the set of engine events forwarded to SSE subscribers.
var streamedKinds = []syncengine.EventKind{
	syncengine.EventStart,
	syncengine.EventProgress,
	syncengine.EventChangeDetected,
	syncengine.EventChangeApplied,
	syncengine.EventConflictDetected,
	syncengine.EventConflictResolved,
	syncengine.EventCheckpoint,
	syncengine.EventError,
	syncengine.EventComplete,
	syncengine.EventCancel,
	syncengine.EventPause,
	syncengine.EventResume,
}

// Events handles GET /v1/events, streaming engine events as
// Server-Sent-Events until the client disconnects.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	msgs := make(chan syncengine.Event, 64)
	var unsubs []syncengine.Unsubscribe
	for _, kind := range streamedKinds {
		kind := kind
		unsubs = append(unsubs, h.engine.On(kind, func(ev syncengine.Event) {
			select {
			case msgs <- ev:
			default:
				// slow subscriber: drop rather than block the engine.
			}
		}))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-msgs:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), payload)
			flusher.Flush()
		}
	}
}
