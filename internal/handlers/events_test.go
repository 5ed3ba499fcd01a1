package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lazythumb/internal/item"
)

type sseEvent struct {
	name string
	data string
}

// openStream connects to an event endpoint and returns a reader of its
// events. The connection closes with the test.
func (f *fixture) openStream(t *testing.T, target string) (*http.Response, <-chan sseEvent) {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+target, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	events := make(chan sseEvent, 64)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		var ev sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			case line == "" && ev.name != "":
				events <- ev
				ev = sseEvent{}
			}
		}
	}()
	return resp, events
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("stream ended")
		}
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
	}
	return sseEvent{}
}

func expectEnd(t *testing.T, events <-chan sseEvent) {
	t.Helper()
	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("unexpected event after terminal one: %+v", ev)
		}
	case <-time.After(waitFor):
		t.Fatal("stream did not end")
	}
}

func TestItemEventsDownload(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeJPEG(t, "a.jpg")
	src.Set(ref, item.NotMaterializedStatus())
	src.SimulateDownloads(4, 10*time.Millisecond)

	resp, events := f.openStream(t, "/api/events/item/a.jpg?interval=10ms")
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	if rec := f.do(t, "POST", "/api/materialize/a.jpg", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("materialize = %d", rec.Code)
	}

	last := -1.0
	for {
		ev := nextEvent(t, events)
		var p ProgressPayload
		if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
			t.Fatal(err)
		}
		if p.Path != "a.jpg" {
			t.Errorf("event path = %q", p.Path)
		}
		if p.Progress < last {
			t.Errorf("progress went backwards: %v after %v", p.Progress, last)
		}
		last = p.Progress
		if ev.name == "done" {
			if !p.Done || p.Progress != 1 || p.State != "materialized" {
				t.Errorf("done payload = %+v", p)
			}
			break
		}
		if ev.name != "progress" {
			t.Fatalf("unexpected event %q", ev.name)
		}
	}
	expectEnd(t, events)
	src.Wait()
}

func TestItemEventsError(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeJPEG(t, "a.jpg")
	src.Set(ref, item.MaterializingStatus(0.1))

	_, events := f.openStream(t, "/api/events/item/a.jpg?interval=10ms")
	if ev := nextEvent(t, events); ev.name != "progress" {
		t.Fatalf("first event = %q, want progress", ev.name)
	}

	src.SetUnavailable(true)
	ev := nextEvent(t, events)
	if ev.name != "error" {
		t.Fatalf("event = %q, want error", ev.name)
	}
	var e eventError
	if err := json.Unmarshal([]byte(ev.data), &e); err != nil {
		t.Fatal(err)
	}
	if e.Kind != "provider_unavailable" || e.Path != "a.jpg" {
		t.Errorf("error payload = %+v", e)
	}
	expectEnd(t, events)
}

func TestCompletionEventsAlreadyMaterialized(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeJPEG(t, "a.jpg")
	src.Set(ref, item.MaterializedStatus())

	_, events := f.openStream(t, "/api/events/completion/a.jpg")
	ev := nextEvent(t, events)
	if ev.name != "done" || !strings.Contains(ev.data, `"path":"a.jpg"`) {
		t.Errorf("event = %+v", ev)
	}
	expectEnd(t, events)
}

func TestDirectoryEvents(t *testing.T) {
	f, _ := newMemoryFixture(t)
	f.writeFile(t, "a.txt", "x")

	_, events := f.openStream(t, "/api/events/directory/?interval=20ms")

	var snap SnapshotPayload
	ev := nextEvent(t, events)
	if err := json.Unmarshal([]byte(ev.data), &snap); err != nil {
		t.Fatal(err)
	}
	if ev.name != "snapshot" || !snap.IsInitial || len(snap.Children) != 1 || snap.Children[0].Path != "a.txt" {
		t.Fatalf("initial snapshot = %s %+v", ev.name, snap)
	}

	if err := os.Mkdir(filepath.Join(f.root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	ev = nextEvent(t, events)
	snap = SnapshotPayload{}
	if err := json.Unmarshal([]byte(ev.data), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.IsInitial || len(snap.Children) != 2 {
		t.Fatalf("update snapshot = %+v", snap)
	}
	if c := snap.Children[1]; c.Name != "sub" || c.Kind != item.KindDirectory {
		t.Errorf("second child = %+v", c)
	}
}

func TestEventRequestErrors(t *testing.T) {
	f, _ := newMemoryFixture(t)
	f.writeFile(t, "a.txt", "x")

	tests := []struct {
		target string
		want   int
	}{
		{"/api/events/item/missing.jpg", http.StatusNotFound},
		{"/api/events/item/a.txt?interval=soon", http.StatusBadRequest},
		{"/api/events/item/a.txt?interval=-5ms", http.StatusBadRequest},
		{"/api/events/directory/a.txt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := f.do(t, "GET", tt.target, ""); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"250ms", 250 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"400", 400 * time.Millisecond},
		{"1ns", minEventInterval},
	}
	for _, tt := range tests {
		got, err := parseInterval(tt.raw)
		if err != nil {
			t.Errorf("parseInterval(%q) error = %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseInterval(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestKeepAlivePings(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeJPEG(t, "a.jpg")
	src.Set(ref, item.NotMaterializedStatus())

	srv := httptest.NewServer(f.router)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/api/events/completion/a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != ": ping\n" {
		t.Errorf("first line = %q, want a ping comment", line)
	}
}
