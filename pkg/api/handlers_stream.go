package api

import (
	"net/http"
	"time"

	"github.com/odvcencio/scout/pkg/bus"
)

// handleEventStream provides an SSE firehose of bus-published progress
// events. Clients can narrow the stream with a subject filter, e.g.
// ?filter=scout.job.01ABC.events; the default follows every job.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.eventBus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = bus.SubjectAllJobEvents
	}

	ctx := r.Context()
	messages := make(chan []byte, 128)

	sub, err := s.eventBus.Subscribe(ctx, filter, func(msg *bus.Message) {
		select {
		case messages <- msg.Data:
		default:
			// Slow consumer; drop rather than stall the bus.
		}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to subscribe: "+err.Error())
		return
	}
	defer sub.Unsubscribe()

	// Confirm the subscription before the first event arrives.
	w.Write([]byte(": subscribed " + filter + "\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case data := <-messages:
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
