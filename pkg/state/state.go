// Package state holds the shared multiplayer state: a process-wide key/value
// dictionary that connected clients mutate to publish interactive data such
// as avatar poses and pointers.
package state

import (
	"sync"
	"sync/atomic"
)

// Change is a set of updates and removals applied atomically to a
// Dictionary.
type Change struct {
	Updates  map[string]any
	Removals map[string]struct{}
}

// NewChange returns a change with the given updates and removal keys.
func NewChange(updates map[string]any, removals ...string) Change {
	c := Change{
		Updates:  make(map[string]any, len(updates)),
		Removals: make(map[string]struct{}, len(removals)),
	}
	for k, v := range updates {
		c.Updates[k] = v
	}
	for _, k := range removals {
		c.Removals[k] = struct{}{}
	}
	return c
}

// Empty reports whether the change has nothing to apply.
func (c Change) Empty() bool {
	return len(c.Updates) == 0 && len(c.Removals) == 0
}

// Dictionary is safe for concurrent use. Writers do not coordinate: the last
// applied change for a key wins.
type Dictionary struct {
	mu      sync.RWMutex
	content map[string]any
	version atomic.Uint64

	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSubID   int
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{
		content:     make(map[string]any),
		subscribers: make(map[int]func(Change)),
	}
}

// Apply writes the change's updates and then deletes its removals. A key
// both updated and removed in the same change ends up removed.
func (d *Dictionary) Apply(change Change) {
	if change.Empty() {
		return
	}

	d.mu.Lock()
	for k, v := range change.Updates {
		d.content[k] = v
	}
	for k := range change.Removals {
		delete(d.content, k)
	}
	d.version.Add(1)
	d.mu.Unlock()

	d.notify(change)
}

// Get returns the value for key.
func (d *Dictionary) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.content[key]
	return v, ok
}

// Snapshot returns a shallow copy of the whole dictionary.
func (d *Dictionary) Snapshot() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.content))
	for k, v := range d.content {
		out[k] = v
	}
	return out
}

// Len returns the number of keys.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.content)
}

// Version increases by one for every applied non-empty change.
func (d *Dictionary) Version() uint64 {
	return d.version.Load()
}

// Subscribe registers fn to be called after every applied change. Calls
// happen on the applying goroutine, so fn must not block. The returned
// function removes the subscription.
func (d *Dictionary) Subscribe(fn func(Change)) (unsubscribe func()) {
	d.subMu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.subscribers[id] = fn
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		delete(d.subscribers, id)
		d.subMu.Unlock()
	}
}

func (d *Dictionary) notify(change Change) {
	d.subMu.Lock()
	fns := make([]func(Change), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		fns = append(fns, fn)
	}
	d.subMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
