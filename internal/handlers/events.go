package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lazythumb/internal/item"
	"lazythumb/internal/notify"

	"github.com/gorilla/mux"
)

// minEventInterval bounds how often a client may ask to be updated.
const minEventInterval = 10 * time.Millisecond

// eventStream writes server-sent events, flushing after each one.
type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func openEventStream(w http.ResponseWriter) (*eventStream, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &eventStream{w: w, rc: http.NewResponseController(w)}
	if err := s.rc.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *eventStream) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *eventStream) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// relay copies events from in to the stream until in closes, the client
// goes away or a write fails.
func relay[T any](ctx context.Context, s *eventStream, in <-chan T, keepAlive time.Duration, encode func(T) (string, any)) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		case ev, ok := <-in:
			if !ok {
				return
			}
			name, payload := encode(ev)
			if err := s.send(name, payload); err != nil {
				log.Debug("event stream write: %v", err)
				return
			}
		}
	}
}

// eventError is the payload of a terminal "error" event.
type eventError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *Handlers) eventError(ref item.Ref, err error) eventError {
	return eventError{Path: h.relative(ref.Path), Error: err.Error(), Kind: item.ErrorKind(err)}
}

// ProgressPayload is the data of "progress" and "done" item events.
type ProgressPayload struct {
	Path     string    `json:"path"`
	State    string    `json:"state"`
	Progress float64   `json:"progress"`
	Done     bool      `json:"done"`
	At       time.Time `json:"at"`
}

// ItemEvents streams download progress for one item. The stream ends
// after a "done" or "error" event.
func (h *Handlers) ItemEvents(w http.ResponseWriter, r *http.Request) {
	ref, interval, ok := h.eventTarget(w, r, "item events")
	if !ok {
		return
	}

	stream, err := openEventStream(w)
	if err != nil {
		log.Error("item events for %s: %v", ref.Path, err)
		return
	}

	events, sub := h.engine.SubscribeToItem(r.Context(), ref, interval)
	defer sub.Cancel()

	relay(r.Context(), stream, events, h.keepAlive, func(ev notify.ProgressEvent) (string, any) {
		if ev.Err != nil {
			return "error", h.eventError(ev.Ref, ev.Err)
		}
		name := "progress"
		if ev.Done {
			name = "done"
		}
		return name, ProgressPayload{
			Path:     h.relative(ev.Ref.Path),
			State:    ev.State.String(),
			Progress: ev.Progress,
			Done:     ev.Done,
			At:       ev.At,
		}
	})
}

// CompletionPayload is the data of a "done" completion event.
type CompletionPayload struct {
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// CompletionEvents sends a single "done" or "error" event once the item
// is local.
func (h *Handlers) CompletionEvents(w http.ResponseWriter, r *http.Request) {
	ref, _, ok := h.eventTarget(w, r, "completion events")
	if !ok {
		return
	}

	stream, err := openEventStream(w)
	if err != nil {
		log.Error("completion events for %s: %v", ref.Path, err)
		return
	}

	events, sub := h.engine.SubscribeToItemCompletion(r.Context(), ref)
	defer sub.Cancel()

	relay(r.Context(), stream, events, h.keepAlive, func(ev notify.CompletionEvent) (string, any) {
		if ev.Err != nil {
			return "error", h.eventError(ev.Ref, ev.Err)
		}
		return "done", CompletionPayload{Path: h.relative(ev.Ref.Path), At: ev.At}
	})
}

// ChildPayload is one entry of a directory snapshot.
type ChildPayload struct {
	Path string    `json:"path"`
	Name string    `json:"name"`
	Kind item.Kind `json:"kind"`
}

// SnapshotPayload is the data of a "snapshot" directory event.
type SnapshotPayload struct {
	Path      string         `json:"path"`
	Children  []ChildPayload `json:"children"`
	IsInitial bool           `json:"isInitial"`
	Taken     time.Time      `json:"taken"`
}

// DirectoryEvents streams child listings of a directory, the first one
// marked initial. Bursts of changes are coalesced to one snapshot per
// interval.
func (h *Handlers) DirectoryEvents(w http.ResponseWriter, r *http.Request) {
	ref, interval, ok := h.eventTarget(w, r, "directory events")
	if !ok {
		return
	}
	if !ref.IsDir() {
		writeJSONError(w, "not a directory", http.StatusBadRequest)
		return
	}

	stream, err := openEventStream(w)
	if err != nil {
		log.Error("directory events for %s: %v", ref.Path, err)
		return
	}

	events, sub := h.engine.SubscribeToDirectory(r.Context(), ref, interval)
	defer sub.Cancel()

	relay(r.Context(), stream, events, h.keepAlive, func(ev notify.DirectoryEvent) (string, any) {
		if ev.Err != nil {
			return "error", h.eventError(ref, ev.Err)
		}
		children := make([]ChildPayload, 0, len(ev.Snapshot.Children))
		for _, c := range ev.Snapshot.Children {
			children = append(children, ChildPayload{Path: h.relative(c.Path), Name: c.Name(), Kind: c.Kind})
		}
		return "snapshot", SnapshotPayload{
			Path:      h.relative(ev.Snapshot.Dir.Path),
			Children:  children,
			IsInitial: ev.Snapshot.IsInitial,
			Taken:     ev.Snapshot.Taken,
		}
	})
}

// eventTarget resolves the item and update interval of an event request,
// answering the client itself on failure.
func (h *Handlers) eventTarget(w http.ResponseWriter, r *http.Request, op string) (item.Ref, time.Duration, bool) {
	ref, err := h.resolve(mux.Vars(r)["path"], true)
	if err != nil {
		fail(w, op, err)
		return item.Ref{}, 0, false
	}
	interval, err := parseInterval(r.URL.Query().Get("interval"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return item.Ref{}, 0, false
	}
	return ref, interval, true
}

// parseInterval accepts a Go duration ("250ms") or whole milliseconds.
// Empty means the engine default.
func parseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		ms, msErr := strconv.Atoi(raw)
		if msErr != nil {
			return 0, fmt.Errorf("invalid interval %q", raw)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %q", raw)
	}
	return max(d, minEventInterval), nil
}
