package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It backs tests and single-node deployments.
// Watchers are called synchronously by the writing goroutine, outside the lock.
type Memory struct {
	mu       sync.Mutex
	root     any
	version  uint64
	nextID   int
	watchers map[int]*memoryWatcher
}

type memoryWatcher struct {
	parts    []string
	onChange ChangeFunc

	mu      sync.Mutex
	stopped bool
	seen    uint64
	last    string
	primed  bool
}

type delivery struct {
	w       *memoryWatcher
	version uint64
	value   json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{watchers: map[int]*memoryWatcher{}}
}

func (m *Memory) Get(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return encode(lookup(m.root, SplitPath(path)))
}

func (m *Memory) Set(_ context.Context, path string, value any) error {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return ErrInvalidPath
	}
	tree, err := normalize(value)
	if err != nil {
		return err
	}
	return m.write(change{parts: parts, tree: tree})
}

func (m *Memory) Create(_ context.Context, path string, value any) (bool, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return false, ErrInvalidPath
	}
	tree, err := normalize(value)
	if err != nil || tree == nil {
		return false, err
	}
	absent := func() bool { return lookup(m.root, parts) == nil }
	return m.writeIf(absent, change{parts: parts, tree: tree})
}

func (m *Memory) Update(_ context.Context, path string, children map[string]any) error {
	changes := make([]change, 0, len(children))
	for key, value := range children {
		parts := SplitPath(JoinPath(path, key))
		if len(parts) == 0 {
			return ErrInvalidPath
		}
		tree, err := normalize(value)
		if err != nil {
			return err
		}
		changes = append(changes, change{parts: parts, tree: tree})
	}
	return m.write(changes...)
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	if len(SplitPath(path)) == 0 {
		return "", ErrInvalidPath
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("store: push key: %w", err)
	}
	key := id.String()
	if err := m.Set(ctx, JoinPath(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return ErrInvalidPath
	}
	return m.write(change{parts: parts})
}

func (m *Memory) Keys(_ context.Context, path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(lookup(m.root, SplitPath(path))), nil
}

func (m *Memory) Watch(ctx context.Context, path string, onChange ChangeFunc, _ ErrorFunc) (func(), error) {
	if onChange == nil {
		return nil, fmt.Errorf("store: watch %q: nil callback", path)
	}
	w := &memoryWatcher{parts: SplitPath(path), onChange: onChange}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = w
	value, err := encode(lookup(m.root, w.parts))
	version := m.version
	m.mu.Unlock()
	if err != nil {
		m.remove(id)
		return nil, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			w.mu.Lock()
			w.stopped = true
			w.mu.Unlock()
			m.remove(id)
		})
	}
	if ctx != nil {
		context.AfterFunc(ctx, stop)
	}

	w.deliver(version, value)
	return stop, nil
}

type change struct {
	parts []string
	tree  any
}

func (m *Memory) write(changes ...change) error {
	_, err := m.writeIf(nil, changes...)
	return err
}

// writeIf applies changes when cond, evaluated under the lock, holds.
func (m *Memory) writeIf(cond func() bool, changes ...change) (bool, error) {
	if len(changes) == 0 {
		return false, nil
	}
	m.mu.Lock()
	if cond != nil && !cond() {
		m.mu.Unlock()
		return false, nil
	}
	for _, c := range changes {
		m.root = assign(m.root, c.parts, c.tree)
	}
	m.version++
	version := m.version
	var pending []delivery
	for _, w := range m.watchers {
		if !touches(changes, w.parts) {
			continue
		}
		value, err := encode(lookup(m.root, w.parts))
		if err != nil {
			m.mu.Unlock()
			return false, err
		}
		pending = append(pending, delivery{w: w, version: version, value: value})
	}
	m.mu.Unlock()

	for _, d := range pending {
		d.w.deliver(d.version, d.value)
	}
	return true, nil
}

func touches(changes []change, parts []string) bool {
	for _, c := range changes {
		if overlaps(c.parts, parts) {
			return true
		}
	}
	return false
}

func (m *Memory) remove(id int) {
	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
}

// deliver drops versions older than what the watcher already saw and values
// equal to the last one delivered.
func (w *memoryWatcher) deliver(version uint64, value json.RawMessage) {
	w.mu.Lock()
	if w.stopped || (w.primed && version <= w.seen) {
		w.mu.Unlock()
		return
	}
	w.seen = version
	if w.primed && w.last == string(value) {
		w.mu.Unlock()
		return
	}
	w.primed = true
	w.last = string(value)
	w.mu.Unlock()

	w.onChange(value)
}

var _ Store = (*Memory)(nil)
