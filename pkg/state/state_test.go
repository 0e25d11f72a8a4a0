package state

import (
	"fmt"
	"sync"
	"testing"
)

func TestDictionary_ApplyUpdatesThenRemovals(t *testing.T) {
	d := NewDictionary()
	d.Apply(NewChange(map[string]any{"a": 1, "b": 2}))
	d.Apply(NewChange(map[string]any{"c": 3, "b": 20}, "a", "c"))

	if _, ok := d.Get("a"); ok {
		t.Fatal("a should be removed")
	}
	if _, ok := d.Get("c"); ok {
		t.Fatal("c updated and removed in one change should end up removed")
	}
	if v, _ := d.Get("b"); v != 20 {
		t.Fatalf("b = %v, want 20 (last write wins)", v)
	}
	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}
	if d.Version() != 2 {
		t.Fatalf("Version = %d, want 2", d.Version())
	}
}

func TestDictionary_EmptyChangeIsNoop(t *testing.T) {
	d := NewDictionary()
	d.Apply(Change{})
	d.Apply(NewChange(nil))
	if d.Version() != 0 {
		t.Fatalf("Version = %d, want 0", d.Version())
	}
}

func TestDictionary_RemoveMissingKey(t *testing.T) {
	d := NewDictionary()
	d.Apply(NewChange(nil, "missing"))
	if d.Len() != 0 {
		t.Fatalf("Len = %d", d.Len())
	}
}

func TestDictionary_SnapshotIsCopy(t *testing.T) {
	d := NewDictionary()
	d.Apply(NewChange(map[string]any{"k": "v"}))
	snap := d.Snapshot()
	snap["k"] = "changed"
	if v, _ := d.Get("k"); v != "v" {
		t.Fatalf("k = %v, snapshot mutation leaked", v)
	}
}

func TestDictionary_Subscribe(t *testing.T) {
	d := NewDictionary()
	var got []Change
	unsubscribe := d.Subscribe(func(c Change) { got = append(got, c) })

	d.Apply(NewChange(map[string]any{"x": 1}))
	unsubscribe()
	d.Apply(NewChange(map[string]any{"y": 1}))

	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	if _, ok := got[0].Updates["x"]; !ok {
		t.Fatalf("notification = %+v", got[0])
	}
}

func TestDictionary_ConcurrentWriters(t *testing.T) {
	d := NewDictionary()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d.Apply(NewChange(map[string]any{fmt.Sprintf("w%d.%d", w, i): i}))
				_ = d.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	if d.Len() != 800 {
		t.Fatalf("Len = %d, want 800", d.Len())
	}
	if d.Version() != 800 {
		t.Fatalf("Version = %d, want 800", d.Version())
	}
}
