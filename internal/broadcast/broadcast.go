package broadcast

import "sync"

// Hub fans out changes to watchers keyed by path. Each
// watcher channel holds at most one pending signal, so a burst of writes
// coalesces into one wake-up and a slow reader never blocks a writer or
// misses the last change.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan struct{}]struct{}
	closed bool
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers a watcher for key. The returned cancel function
// removes the watcher and closes its channel; it is safe to call twice.
func (b *Hub) Subscribe(key string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := b.subs[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[key] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(key, ch) })
	}
}

func (b *Hub) remove(key string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[key]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(b.subs, key)
	}
	close(ch)
}

// Publish signals every watcher of the given keys.
func (b *Hub) Publish(keys ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range keys {
		for ch := range b.subs[key] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// Count returns the number of registered watchers.
func (b *Hub) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

// Close closes every watcher channel and rejects new subscriptions.
func (b *Hub) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, key)
	}
}
