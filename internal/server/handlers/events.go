package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/partflow/partflow/internal/errors"
	"github.com/partflow/partflow/internal/notify"
)

// EventSource provides the live notification stream.
type EventSource interface {
	Subscribe() (<-chan notify.Event, func())
}

var eventSource EventSource

// SetEventSource injects the notification hub used by the events stream.
func SetEventSource(src EventSource) {
	eventSource = src
}

// EventsHandler streams rate limit and queue status updates as
// server-sent events. The stream ends when the client disconnects.
func EventsHandler(w http.ResponseWriter, r *http.Request) {
	if eventSource == nil {
		respondWithError(w, r, apperrors.NewInternalError("event stream is not available"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("streaming is not supported"))
		return
	}

	events, cancel := eventSource.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
