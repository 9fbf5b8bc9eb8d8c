package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kahiteam/circbuf/internal/events"
	"github.com/kahiteam/circbuf/internal/ring"
)

type sseEvent struct {
	seq       uint64
	eventType string
	data      []byte
}

func newSSEEvent(e events.Event) sseEvent {
	data, _ := json.Marshal(e.Data)
	return sseEvent{seq: e.Seq, eventType: string(e.Type), data: data}
}

// parseTypeFilter reads ?types=A,B. A nil map accepts every type.
func parseTypeFilter(param string) (map[events.EventType]bool, error) {
	if param == "" {
		return nil, nil
	}
	known := make(map[events.EventType]bool, len(events.AllTypes))
	for _, et := range events.AllTypes {
		known[et] = true
	}
	filter := make(map[events.EventType]bool)
	for _, t := range strings.Split(param, ",") {
		et := events.EventType(strings.ToUpper(strings.TrimSpace(t)))
		if et == "" {
			continue
		}
		if !known[et] {
			return nil, fmt.Errorf("unknown event type %q: %w", t, ring.ErrInvalidArgument)
		}
		filter[et] = true
	}
	return filter, nil
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "SERVER_ERROR")
		return
	}

	typeFilter, err := parseTypeFilter(r.URL.Query().Get("types"))
	if err != nil {
		s.fail(w, "events", err)
		return
	}
	replay := 0
	if v := r.URL.Query().Get("replay"); v != "" {
		replay, err = strconv.Atoi(v)
		if err != nil || replay < 0 {
			s.fail(w, "events", fmt.Errorf("replay must be a non-negative integer, got %q: %w",
				v, ring.ErrInvalidArgument))
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	// Subscribers must not block the publisher; a slow client drops events.
	ch := make(chan sseEvent, 64)
	var ids []uint64
	for _, et := range events.AllTypes {
		if typeFilter != nil && !typeFilter[et] {
			continue
		}
		id := s.bus.Subscribe(et, func(e events.Event) {
			select {
			case ch <- newSSEEvent(e):
			default:
			}
		})
		ids = append(ids, id)
	}
	defer func() {
		for _, id := range ids {
			s.bus.Unsubscribe(id)
		}
	}()

	if s.afterSubscribe != nil {
		s.afterSubscribe()
	}

	// Events published since subscribing are both in history and queued.
	var replayed map[uint64]bool
	if replay > 0 {
		replayed = make(map[uint64]bool)
		for _, e := range s.bus.Recent(replay) {
			if typeFilter != nil && !typeFilter[e.Type] {
				continue
			}
			replayed[e.Seq] = true
			ev := newSSEEvent(e)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.eventType, ev.data)
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			for {
				select {
				case ev := <-ch:
					if replayed[ev.seq] {
						continue
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.eventType, ev.data)
				default:
					flusher.Flush()
					return
				}
			}
		case ev := <-ch:
			if replayed[ev.seq] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.eventType, ev.data)
			flusher.Flush()
		}
	}
}
