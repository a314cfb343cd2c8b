package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/steward/internal/events"
)

const sseKeepAlive = 15 * time.Second

// handleEventSnapshot handles GET /events?since=N.
func (s *Server) handleEventSnapshot(w http.ResponseWriter, r *http.Request) {
	backlog := s.hub.SnapshotSince(eventCursor(r.URL.Query().Get("since")))
	if backlog == nil {
		backlog = []events.Event{}
	}
	respondJSON(w, http.StatusOK, backlog)
}

// sseStream writes server-sent event frames and flushes after each one.
type sseStream struct {
	out   io.Writer
	flush func()
}

func (s sseStream) event(ev events.Event) error {
	if _, err := fmt.Fprintf(s.out, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.out, ": %s\n\n", text); err != nil {
		return err
	}
	s.flush()
	return nil
}

// handleEventStream handles GET /events/stream. Backlog newer than the
// Last-Event-ID header is replayed before live events.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "internal", "response writer cannot stream")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	live, cancel := s.hub.Subscribe()
	defer cancel()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := sseStream{out: w, flush: flusher.Flush}
	cursor := eventCursor(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.hub.SnapshotSince(cursor) {
		if stream.event(ev) != nil {
			return
		}
		cursor = ev.ID
	}
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if stream.comment("keep-alive") != nil {
				return
			}
		case ev, open := <-live:
			if !open {
				return
			}
			if ev.ID <= cursor {
				continue
			}
			if stream.event(ev) != nil {
				return
			}
		}
	}
}

// eventCursor parses a non-negative event ID, treating garbage as zero.
func eventCursor(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
