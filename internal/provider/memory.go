package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"lazythumb/internal/broadcast"
	"lazythumb/internal/item"
)

// MemorySource is an in-process Source and Watcher. Statuses are set
// directly; failures can be injected; BeginMaterializing calls are counted
// and may drive a simulated download.
type MemorySource struct {
	mu       sync.Mutex
	statuses map[string]item.Status
	begins   map[string]int
	failNext int
	failErr  error
	down     error
	download *simulation
	hooks    []func(item.Ref)
	hub      *broadcast.Hub
	wg       sync.WaitGroup
}

type simulation struct {
	steps    int
	interval time.Duration
}

// NewMemorySource returns an empty MemorySource. Unknown items report
// ErrItemNotFound.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		statuses: make(map[string]item.Status),
		begins:   make(map[string]int),
		hub:      broadcast.New(),
	}
}

// Set stores status for ref and signals watchers of ref and its parent
// directory. A transition into Materialized runs OnMaterialized hooks
// first.
func (m *MemorySource) Set(ref item.Ref, status item.Status) {
	status = status.Normalize()

	m.mu.Lock()
	prev, known := m.statuses[ref.Path]
	m.statuses[ref.Path] = status
	var hooks []func(item.Ref)
	if status.IsMaterialized() && (!known || !prev.IsMaterialized()) {
		hooks = append(hooks, m.hooks...)
	}
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(ref)
	}
	m.Notify(ref)
}

// OnMaterialized registers fn to run when Set moves an item into
// Materialized.
func (m *MemorySource) OnMaterialized(fn func(item.Ref)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Remove forgets ref.
func (m *MemorySource) Remove(ref item.Ref) {
	m.mu.Lock()
	delete(m.statuses, ref.Path)
	m.mu.Unlock()

	m.Notify(ref)
}

// Notify sends a raw change notification for ref without changing state.
func (m *MemorySource) Notify(ref item.Ref) {
	m.hub.Publish(ref.Path, filepath.Dir(ref.Path))
}

// FailNext makes the next n CurrentStatus calls return err.
func (m *MemorySource) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// SetUnavailable makes every call fail with ErrProviderUnavailable until
// called again with false.
func (m *MemorySource) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if down {
		m.down = fmt.Errorf("memory source offline: %w", item.ErrProviderUnavailable)
	} else {
		m.down = nil
	}
}

// SimulateDownloads makes BeginMaterializing start a background download
// that reports steps evenly spaced progress updates, interval apart, then
// completes.
func (m *MemorySource) SimulateDownloads(steps int, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if steps < 1 {
		steps = 1
	}
	m.download = &simulation{steps: steps, interval: interval}
}

// BeginCount returns how many times BeginMaterializing was called for ref.
func (m *MemorySource) BeginCount(ref item.Ref) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begins[ref.Path]
}

// CurrentStatus returns the stored status for ref.
func (m *MemorySource) CurrentStatus(ctx context.Context, ref item.Ref) (st item.Status, err error) {
	defer func() { observe("memory", "status", err) }()

	if err := ctx.Err(); err != nil {
		return item.Status{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.down != nil {
		return item.Status{}, m.down
	}
	if m.failNext > 0 {
		m.failNext--
		return item.Status{}, m.failErr
	}
	st, ok := m.statuses[ref.Path]
	if !ok {
		return item.Status{}, fmt.Errorf("%s: %w", ref.Path, item.ErrItemNotFound)
	}
	return st, nil
}

// BeginMaterializing counts the call and, when downloads are simulated and
// the item is not already in flight, starts one.
func (m *MemorySource) BeginMaterializing(ctx context.Context, ref item.Ref) (err error) {
	defer func() { observe("memory", "begin", err) }()

	m.mu.Lock()
	if m.down != nil {
		m.mu.Unlock()
		return m.down
	}
	m.begins[ref.Path]++
	st, known := m.statuses[ref.Path]
	sim := m.download
	start := sim != nil && known && st.State == item.NotMaterialized
	if start {
		m.statuses[ref.Path] = item.MaterializingStatus(0)
	}
	m.mu.Unlock()

	if !known {
		return fmt.Errorf("%s: %w", ref.Path, item.ErrItemNotFound)
	}
	if start {
		m.Notify(ref)
		m.wg.Add(1)
		go m.simulate(ref, *sim)
	}
	return nil
}

func (m *MemorySource) simulate(ref item.Ref, sim simulation) {
	defer m.wg.Done()

	for i := 1; i < sim.steps; i++ {
		time.Sleep(sim.interval)
		m.Set(ref, item.MaterializingStatus(float64(i)/float64(sim.steps)))
	}
	time.Sleep(sim.interval)
	m.Set(ref, item.MaterializedStatus())
}

// Wait blocks until every simulated download has finished.
func (m *MemorySource) Wait() {
	m.wg.Wait()
}

// WatchItem signals on every Set, Remove or Notify touching ref or, for a
// directory, its direct children.
func (m *MemorySource) WatchItem(ctx context.Context, ref item.Ref) (<-chan struct{}, error) {
	m.mu.Lock()
	down := m.down
	m.mu.Unlock()
	if down != nil {
		return nil, down
	}

	ch, cancel := m.hub.Subscribe(ref.Path)
	return forwardUntilDone(ctx, ch, cancel), nil
}

// Watchers returns the number of live WatchItem registrations.
func (m *MemorySource) Watchers() int {
	return m.hub.Count()
}
