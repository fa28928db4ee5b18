package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// sseWriteTimeout bounds each event write to the client.
const sseWriteTimeout = 30 * time.Second

// sseSink writes relay events as server-sent events. Headers are sent with
// the first event so earlier failures can still produce a JSON error.
type sseSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	flusher http.Flusher
	started bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseSink{w: w, rc: http.NewResponseController(w), flusher: flusher}, true
}

// Send implements relay.Sink.
func (s *sseSink) Send(ctx context.Context, ev model.StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}

	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	// Not every writer supports deadlines; the write error still surfaces.
	if err := s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// finish clears the write deadline so it does not outlive this response on a
// kept-alive connection.
func (s *sseSink) finish() {
	if s.started {
		_ = s.rc.SetWriteDeadline(time.Time{})
	}
}
