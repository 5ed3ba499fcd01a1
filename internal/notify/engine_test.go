package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lazythumb/internal/database"
	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/provider"
)

const waitFor = 3 * time.Second

func newEngine(t *testing.T, src provider.Source, strategy string) *Engine {
	t.Helper()
	e := New(src, Options{Strategy: strategy, DefaultInterval: 20 * time.Millisecond})
	t.Cleanup(e.Close)
	return e
}

func collect[T any](t *testing.T, ch <-chan T) []T {
	t.Helper()
	var got []T
	timeout := time.After(waitFor)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("stream did not end; received %d events", len(got))
		}
	}
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("stream closed early")
		}
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an event")
	}
	var zero T
	return zero
}

func TestItemThrottleScenario(t *testing.T) {
	src := provider.NewMemorySource()
	ref := item.NewFile("/cloud/x.mov")
	src.Set(ref, item.NotMaterializedStatus())

	e := newEngine(t, src, StrategyQuery)
	ch, sub := e.SubscribeToItem(context.Background(), ref, 500*time.Millisecond)
	defer sub.Cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		src.Set(ref, item.MaterializingStatus(0.1))
		time.Sleep(100 * time.Millisecond)
		src.Set(ref, item.MaterializingStatus(0.3))
		time.Sleep(100 * time.Millisecond)
		src.Set(ref, item.MaterializingStatus(0.3))
		time.Sleep(100 * time.Millisecond)
		src.Set(ref, item.MaterializedStatus())
	}()

	got := collect(t, ch)
	if len(got) != 2 {
		t.Fatalf("got %d emissions %+v, want 2", len(got), got)
	}
	if got[0].Done || got[0].Progress != 0.1 {
		t.Errorf("first emission = %+v, want progress 0.1", got[0])
	}
	if !got[1].Done || got[1].Progress != 1 {
		t.Errorf("last emission = %+v, want completion", got[1])
	}
}

func TestItemStalledProgressIsDelivered(t *testing.T) {
	for _, strategy := range []string{StrategyQuery, StrategyPolling} {
		t.Run(strategy, func(t *testing.T) {
			src := provider.NewMemorySource()
			ref := item.NewFile("/cloud/stall.mov")
			src.Set(ref, item.MaterializingStatus(0.1))

			e := newEngine(t, src, strategy)
			ch, sub := e.SubscribeToItem(context.Background(), ref, 100*time.Millisecond)
			defer sub.Cancel()

			if first := next(t, ch); first.Progress != 0.1 {
				t.Fatalf("first emission = %+v, want progress 0.1", first)
			}
			// The download then stalls with no further reports.
			time.Sleep(20 * time.Millisecond)
			src.Set(ref, item.MaterializingStatus(0.9))

			select {
			case ev := <-ch:
				if ev.Progress != 0.9 || ev.Done {
					t.Errorf("held emission = %+v, want progress 0.9", ev)
				}
			case <-time.After(time.Second):
				t.Fatal("progress reported inside the throttle window was never delivered")
			}
		})
	}
}

func TestItemProgressNeverDecreases(t *testing.T) {
	for _, strategy := range []string{StrategyQuery, StrategyPolling} {
		t.Run(strategy, func(t *testing.T) {
			src := provider.NewMemorySource()
			ref := item.NewFile("/cloud/song.flac")
			src.Set(ref, item.MaterializingStatus(0.2))

			e := newEngine(t, src, strategy)
			ch, _ := e.SubscribeToItem(context.Background(), ref, 10*time.Millisecond)

			go func() {
				steps := []item.Status{
					item.MaterializingStatus(0.5),
					item.MaterializingStatus(0.4),
					item.NotMaterializedStatus(),
					item.MaterializingStatus(0.7),
					item.MaterializedStatus(),
				}
				for _, st := range steps {
					time.Sleep(25 * time.Millisecond)
					src.Set(ref, st)
				}
			}()

			got := collect(t, ch)
			if len(got) == 0 {
				t.Fatal("no emissions")
			}
			for i := 1; i < len(got); i++ {
				if got[i].Progress < got[i-1].Progress {
					t.Errorf("progress regressed: %v then %v", got[i-1].Progress, got[i].Progress)
				}
			}
			if last := got[len(got)-1]; !last.Done || last.Progress != 1 || last.Err != nil {
				t.Errorf("final emission = %+v, want completion", last)
			}
		})
	}
}

func TestItemAlreadyMaterialized(t *testing.T) {
	src := provider.NewMemorySource()
	ref := item.NewFile("/cloud/done.jpg")
	src.Set(ref, item.MaterializedStatus())

	e := newEngine(t, src, StrategyQuery)
	ch, sub := e.SubscribeToItem(context.Background(), ref, time.Second)

	got := collect(t, ch)
	if len(got) != 1 || !got[0].Done {
		t.Fatalf("got %+v, want a single completion", got)
	}
	<-sub.Done()
	if sub.State() != StateCancelled {
		t.Errorf("State() after natural completion = %v, want cancelled", sub.State())
	}
}

func TestDirectoryRefIsAlwaysMaterialized(t *testing.T) {
	src := provider.NewMemorySource()
	src.SetUnavailable(true)

	e := newEngine(t, src, StrategyPolling)
	ch, _ := e.SubscribeToItemCompletion(context.Background(), item.NewDirectory(t.TempDir()))

	got := collect(t, ch)
	if len(got) != 1 || got[0].Err != nil {
		t.Errorf("got %+v, want one successful completion", got)
	}
}

func TestCompletion(t *testing.T) {
	src := provider.NewMemorySource()
	ref := item.NewFile("/cloud/later.mp4")
	src.Set(ref, item.NotMaterializedStatus())

	e := newEngine(t, src, StrategyQuery)
	ch, _ := e.SubscribeToItemCompletion(context.Background(), ref)

	src.Set(ref, item.MaterializingStatus(0.5))
	time.Sleep(30 * time.Millisecond)
	src.Set(ref, item.MaterializedStatus())

	got := collect(t, ch)
	if len(got) != 1 || got[0].Err != nil || got[0].Ref != ref {
		t.Errorf("got %+v, want exactly one completion for %v", got, ref)
	}
}

func TestCompletionFromAnotherManifestHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	server, err := database.New(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = server.Close() })
	daemon, err := database.New(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = daemon.Close() })

	ref := item.NewFile("/cloud/remote.mkv")
	if err := daemon.SetStatus(context.Background(), ref, item.NotMaterializedStatus()); err != nil {
		t.Fatal(err)
	}

	src := provider.NewManifestSource(server, filesystem.DefaultRetryConfig())
	e := newEngine(t, src, StrategyQuery)
	ch, sub := e.SubscribeToItemCompletion(context.Background(), ref)
	defer sub.Cancel()

	time.Sleep(50 * time.Millisecond)
	if err := daemon.SetStatus(context.Background(), ref, item.MaterializedStatus()); err != nil {
		t.Fatal(err)
	}

	select {
	case ev, ok := <-ch:
		if !ok || ev.Err != nil || ev.Ref != ref {
			t.Errorf("completion = %+v (open %v), want one for %v", ev, ok, ref)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completion for a write made through another handle")
	}
}

func TestCompletionWithSimulatedDownload(t *testing.T) {
	src := provider.NewMemorySource()
	src.SimulateDownloads(4, 5*time.Millisecond)
	ref := item.NewFile("/cloud/sim.png")
	src.Set(ref, item.NotMaterializedStatus())

	e := newEngine(t, src, StrategyQuery)
	ch, _ := e.SubscribeToItemCompletion(context.Background(), ref)
	if err := src.BeginMaterializing(context.Background(), ref); err != nil {
		t.Fatal(err)
	}

	if got := collect(t, ch); len(got) != 1 {
		t.Errorf("got %d completion events, want 1", len(got))
	}
	src.Wait()
}

func TestTerminalErrorEvent(t *testing.T) {
	for _, strategy := range []string{StrategyQuery, StrategyPolling} {
		t.Run(strategy, func(t *testing.T) {
			src := provider.NewMemorySource()
			ref := item.NewFile("/cloud/a.jpg")
			src.Set(ref, item.MaterializingStatus(0.1))

			e := newEngine(t, src, strategy)
			ch, _ := e.SubscribeToItem(context.Background(), ref, 10*time.Millisecond)

			if ev := next(t, ch); ev.Err != nil || ev.Progress != 0.1 {
				t.Fatalf("first event = %+v", ev)
			}

			src.SetUnavailable(true)
			src.Notify(ref)

			got := collect(t, ch)
			if len(got) != 1 {
				t.Fatalf("got %d events after outage, want exactly 1 terminal error", len(got))
			}
			if !errors.Is(got[0].Err, item.ErrProviderUnavailable) {
				t.Errorf("terminal event error = %v, want ErrProviderUnavailable", got[0].Err)
			}
		})
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	src := provider.NewMemorySource()
	ref := item.NewFile("/cloud/flaky.jpg")
	src.Set(ref, item.MaterializedStatus())
	src.FailNext(DefaultMaxTransientFailures, errors.New("blip"))

	e := newEngine(t, src, StrategyPolling)
	ch, _ := e.SubscribeToItem(context.Background(), ref, 10*time.Millisecond)

	got := collect(t, ch)
	if len(got) != 1 || !got[0].Done || got[0].Err != nil {
		t.Errorf("got %+v, want completion after retries", got)
	}
}

func TestMissingItemIsTerminal(t *testing.T) {
	src := provider.NewMemorySource()
	e := newEngine(t, src, StrategyQuery)

	ch, _ := e.SubscribeToItem(context.Background(), item.NewFile("/cloud/ghost"), time.Second)
	got := collect(t, ch)
	if len(got) != 1 || !errors.Is(got[0].Err, item.ErrItemNotFound) {
		t.Errorf("got %+v, want one ErrItemNotFound event", got)
	}
}

func TestNoEmissionsAfterCancel(t *testing.T) {
	src := provider.NewMemorySource()
	ref := item.NewFile("/cloud/busy.bin")
	src.Set(ref, item.MaterializingStatus(0))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		p := 0.0
		for ctx.Err() == nil {
			p += 0.000001
			src.Set(ref, item.MaterializingStatus(p))
			time.Sleep(100 * time.Microsecond)
		}
	}()

	e := newEngine(t, src, StrategyQuery)
	for trial := range 50 {
		ch, sub := e.SubscribeToItem(context.Background(), ref, time.Millisecond)
		next(t, ch)

		sub.Cancel()

		if ev, ok := <-ch; ok {
			t.Fatalf("trial %d: emission after Cancel returned: %+v", trial, ev)
		}
		if sub.State() != StateCancelled {
			t.Fatalf("trial %d: State() = %v", trial, sub.State())
		}
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	src := provider.NewMemorySource()
	ref := item.NewFile("/cloud/wait.jpg")
	src.Set(ref, item.NotMaterializedStatus())

	e := newEngine(t, src, StrategyQuery)
	_, a := e.SubscribeToItem(context.Background(), ref, time.Second)
	_, b := e.SubscribeToItemCompletion(context.Background(), ref)

	deadline := time.Now().Add(waitFor)
	for (a.State() != StateActive || b.State() != StateActive) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.Active() != 2 {
		t.Fatalf("Active() = %d, want 2", e.Active())
	}

	a.Cancel()
	a.Cancel()
	if e.Active() != 1 {
		t.Errorf("Active() after Cancel = %d, want 1", e.Active())
	}

	e.Close()
	select {
	case <-b.Done():
	case <-time.After(waitFor):
		t.Fatal("Close() did not end remaining subscriptions")
	}
	if e.Active() != 0 {
		t.Errorf("Active() after Close = %d, want 0", e.Active())
	}

	ch, late := e.SubscribeToItem(context.Background(), ref, time.Second)
	if _, ok := <-ch; ok || late.State() != StateCancelled {
		t.Error("subscription on a closed engine should end immediately")
	}
}

func TestCallerContextEndsSubscription(t *testing.T) {
	src := provider.NewMemorySource()
	ref := item.NewFile("/cloud/a.jpg")
	src.Set(ref, item.NotMaterializedStatus())

	e := newEngine(t, src, StrategyPolling)
	ctx, cancel := context.WithCancel(context.Background())
	ch, sub := e.SubscribeToItem(ctx, ref, 10*time.Millisecond)
	cancel()

	if got := collect(t, ch); len(got) != 0 {
		t.Errorf("got %d events after caller cancellation", len(got))
	}
	<-sub.Done()
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func names(refs []item.Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Name()
	}
	return out
}

func TestDirectoryInitialFlag(t *testing.T) {
	for _, strategy := range []string{StrategyQuery, StrategyPolling} {
		t.Run(strategy, func(t *testing.T) {
			dir := t.TempDir()
			touch(t, dir, "b.jpg")
			touch(t, dir, "a.jpg")
			touch(t, dir, ".hidden")
			if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
				t.Fatal(err)
			}

			e := newEngine(t, provider.NewLocalSource(filesystem.DefaultRetryConfig()), strategy)
			ch, sub := e.SubscribeToDirectory(context.Background(), item.NewDirectory(dir), 20*time.Millisecond)
			defer sub.Cancel()

			first := next(t, ch)
			if first.Err != nil || !first.Snapshot.IsInitial {
				t.Fatalf("first event = %+v, want initial snapshot", first)
			}
			if got := names(first.Snapshot.Children); len(got) != 3 || got[0] != "a.jpg" || got[1] != "b.jpg" || got[2] != "sub" {
				t.Errorf("initial children = %v, want [a.jpg b.jpg sub]", got)
			}
			if !first.Snapshot.Children[2].IsDir() {
				t.Error("sub should be a directory ref")
			}

			for i, name := range []string{"c.jpg", "d.jpg"} {
				touch(t, dir, name)
				ev := next(t, ch)
				if ev.Snapshot.IsInitial {
					t.Errorf("update %d has IsInitial set", i)
				}
				if n := len(ev.Snapshot.Children); n != 4+i {
					t.Errorf("update %d has %d children, want %d", i, n, 4+i)
				}
			}
		})
	}
}

func TestDirectoryBurstIsDebounced(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, provider.NewLocalSource(filesystem.DefaultRetryConfig()), StrategyQuery)
	ch, sub := e.SubscribeToDirectory(context.Background(), item.NewDirectory(dir), 300*time.Millisecond)
	defer sub.Cancel()

	if ev := next(t, ch); !ev.Snapshot.IsInitial || len(ev.Snapshot.Children) != 0 {
		t.Fatalf("initial = %+v", ev)
	}

	for i := range 10 {
		touch(t, dir, string(rune('a'+i))+".png")
	}

	var updates []DirectoryEvent
	timeout := time.After(900 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-ch:
			updates = append(updates, ev)
		case <-timeout:
			break loop
		}
	}

	if len(updates) == 0 || len(updates) > 2 {
		t.Fatalf("got %d updates for a burst of 10 creates, want 1 or 2", len(updates))
	}
	if last := updates[len(updates)-1]; len(last.Snapshot.Children) != 10 {
		t.Errorf("last update lists %d children, want 10", len(last.Snapshot.Children))
	}
}

// manualStrategy hands the test control of directory change signals.
type manualStrategy struct {
	dir chan struct{}
}

func (m *manualStrategy) Name() string { return "manual" }

func (m *manualStrategy) ItemChanges(ctx context.Context, _ item.Ref, interval time.Duration) <-chan struct{} {
	return ticks(ctx, interval)
}

func (m *manualStrategy) DirectoryChanges(context.Context, item.Ref, time.Duration) <-chan struct{} {
	return m.dir
}

func TestDirectoryTrailingPassOnSourceEnd(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, provider.NewLocalSource(filesystem.DefaultRetryConfig()), StrategyQuery)
	manual := &manualStrategy{dir: make(chan struct{}, 1)}
	e.strategy = manual

	ch, sub := e.SubscribeToDirectory(context.Background(), item.NewDirectory(dir), time.Hour)
	if ev := next(t, ch); !ev.Snapshot.IsInitial {
		t.Fatal("missing initial snapshot")
	}

	touch(t, dir, "late.jpg")
	manual.dir <- struct{}{}
	// The hour-long window would hold this back; ending the source must not lose it.
	time.Sleep(20 * time.Millisecond)
	close(manual.dir)

	got := collect(t, ch)
	if len(got) != 1 || len(got[0].Snapshot.Children) != 1 || got[0].Snapshot.IsInitial {
		t.Errorf("got %+v, want one trailing snapshot with late.jpg", got)
	}
	<-sub.Done()
}

func TestDirectoryMissingIsTerminal(t *testing.T) {
	e := newEngine(t, provider.NewLocalSource(filesystem.DefaultRetryConfig()), StrategyPolling)
	ch, _ := e.SubscribeToDirectory(context.Background(), item.NewDirectory(filepath.Join(t.TempDir(), "nope")), 10*time.Millisecond)

	got := collect(t, ch)
	if len(got) != 1 || !errors.Is(got[0].Err, item.ErrItemNotFound) {
		t.Errorf("got %+v, want one ErrItemNotFound event", got)
	}
}

func TestQueryStrategyFallsBackToPolling(t *testing.T) {
	q := NewStrategy(StrategyQuery, provider.NewLocalSource(filesystem.DefaultRetryConfig()))
	ctx, cancel := context.WithCancel(context.Background())

	ch := q.ItemChanges(ctx, item.NewFile("/x"), 5*time.Millisecond)
	next(t, ch)

	cancel()
	collect(t, ch)
}

func TestMergeClosesWhenInputsClose(t *testing.T) {
	a, b := make(chan struct{}), make(chan struct{})
	out := merge(context.Background(), a, b)

	a <- struct{}{}
	next(t, out)

	close(a)
	close(b)
	collect(t, out)
}
