package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMemorySetGetPrunesEmptyValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Set(ctx, "classes/4b/state", map[string]any{
		"currentDay":     2,
		"completedSteps": map[string]any{},
		"completedDays":  []int{},
		"note":           nil,
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, err := m.Get(ctx, "classes/4b/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(raw) != `{"currentDay":2}` {
		t.Fatalf("unexpected value %s", raw)
	}

	if err := m.Set(ctx, "classes/4b/empty", map[string]any{}); err != nil {
		t.Fatalf("set empty: %v", err)
	}
	raw, _ = m.Get(ctx, "classes/4b/empty")
	if !IsAbsent(raw) {
		t.Fatalf("expected empty object to be absent, got %s", raw)
	}
}

func TestMemoryDeleteRemovesEmptyAncestors(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Set(ctx, "a/b/c", "x")

	if err := m.Delete(ctx, "a/b/c"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	keys, _ := m.Keys(ctx, "")
	if len(keys) != 0 {
		t.Fatalf("expected empty root, got %v", keys)
	}
}

func TestMemoryPushKeysAreOrdered(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var pushed []string
	for i := 0; i < 5; i++ {
		key, err := m.Push(ctx, "boards/ABC234/posts", map[string]any{"text": "hi", "n": i})
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		pushed = append(pushed, key)
	}
	keys, err := m.Keys(ctx, "boards/ABC234/posts")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if strings.Join(keys, ",") != strings.Join(pushed, ",") {
		t.Fatalf("keys %v not in push order %v", keys, pushed)
	}
}

func TestMemoryRejectsEmptyPath(t *testing.T) {
	m := NewMemory()
	if err := m.Set(context.Background(), " / ", 1); err != ErrInvalidPath {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}

func TestMemoryWatchDeliversInitialAndChanges(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Set(ctx, "classes/4b/state", map[string]any{"energy": 50})

	var got []string
	stop, err := m.Watch(ctx, "classes/4b/state", func(v json.RawMessage) {
		got = append(got, string(v))
	}, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	_ = m.Set(ctx, "classes/4b/state/energy", 40)
	_ = m.Set(ctx, "classes/4b/state/energy", 40)
	_ = m.Set(ctx, "classes/other/state", map[string]any{"energy": 1})
	_ = m.Set(ctx, "classes", nil)
	stop()
	_ = m.Set(ctx, "classes/4b/state/energy", 10)

	want := []string{`{"energy":50}`, `{"energy":40}`, ``}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("deliveries = %q, want %q", got, want)
	}
}

func TestMemoryWatchAbsentNodeDeliversNil(t *testing.T) {
	m := NewMemory()
	var calls int
	first := json.RawMessage("sentinel")
	stop, err := m.Watch(context.Background(), "classes/new/state", func(v json.RawMessage) {
		calls++
		first = v
	}, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()
	if calls != 1 || first != nil {
		t.Fatalf("expected one nil delivery, got %d calls value %q", calls, first)
	}
}

func TestMemoryWatchStopsWithContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	if _, err := m.Watch(ctx, "x", func(json.RawMessage) { calls++ }, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()
	// AfterFunc runs in its own goroutine; wait until the watcher is gone.
	for i := 0; i < 1000; i++ {
		m.mu.Lock()
		n := len(m.watchers)
		m.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	_ = m.Set(context.Background(), "x", 1)
	if calls != 1 {
		t.Fatalf("expected only the initial delivery, got %d", calls)
	}
}

func TestGetJSON(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Set(ctx, "boards/ABC234", map[string]any{"title": "T", "active": true})

	var board struct {
		Title  string `json:"title"`
		Active bool   `json:"active"`
	}
	ok, err := GetJSON(ctx, m, "boards/ABC234", &board)
	if err != nil || !ok {
		t.Fatalf("GetJSON ok=%v err=%v", ok, err)
	}
	if board.Title != "T" || !board.Active {
		t.Fatalf("unexpected board %+v", board)
	}
	ok, err = GetJSON(ctx, m, "boards/NOPE22", &board)
	if err != nil || ok {
		t.Fatalf("expected absent, ok=%v err=%v", ok, err)
	}
}

func TestMemoryUpdateWritesChildrenOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Set(ctx, "boards/ABC234", map[string]any{"title": "T", "active": true, "createdAt": 1})

	var deliveries int
	stop, _ := m.Watch(ctx, "boards/ABC234", func(json.RawMessage) { deliveries++ }, nil)
	defer stop()

	err := m.Update(ctx, "boards/ABC234", map[string]any{
		"active":    false,
		"createdAt": nil,
		"posts/p1":  map[string]any{"text": "hi"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	raw, _ := m.Get(ctx, "boards/ABC234")
	if string(raw) != `{"active":false,"posts":{"p1":{"text":"hi"}},"title":"T"}` {
		t.Fatalf("unexpected board %s", raw)
	}
	if deliveries != 2 {
		t.Fatalf("expected initial plus one change delivery, got %d", deliveries)
	}
}

func TestMemoryCreateWritesOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := m.Create(ctx, "boards/ABC123", map[string]any{"title": i})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("%d writers created the node, want 1", winners)
	}

	created, err := m.Create(ctx, "boards/EMPTY1", map[string]any{})
	if err != nil || created {
		t.Fatalf("create empty = %v, %v", created, err)
	}
	if _, err := m.Create(ctx, "", 1); err != ErrInvalidPath {
		t.Fatalf("create root = %v, want ErrInvalidPath", err)
	}
}
