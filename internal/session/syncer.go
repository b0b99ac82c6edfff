// Package session keeps per-class progress in sync with the shared store.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/store"
)

const (
	defaultDebounce = 2 * time.Second
	writeTimeout    = 10 * time.Second
)

type Options struct {
	Store    store.Store
	Device   *Device
	Debounce time.Duration
	Logger   *infra.Logger
	Metrics  *infra.Metrics
}

// Syncer reads, watches and writes class session state. Failures of the
// store are logged and never surface to Subscribe or Save callers.
type Syncer struct {
	store    store.Store
	device   *Device
	debounce time.Duration
	logger   *infra.Logger
	metrics  *infra.Metrics
	now      func() time.Time
	after    afterFunc

	remoteUpdate atomic.Bool

	mu         sync.Mutex
	schedulers map[string]*Scheduler[domain.SessionState]
	// delivering counts the remote deliveries running per class.
	delivering map[string]int
}

func NewSyncer(opts Options) *Syncer {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	device := opts.Device
	if device == nil {
		device = NewDevice()
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NewDiscardLogger()
	}
	return &Syncer{
		store:      opts.Store,
		device:     device,
		debounce:   debounce,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        time.Now,
		after:      realAfterFunc,
		schedulers: map[string]*Scheduler[domain.SessionState]{},
		delivering: map[string]int{},
	}
}

func (s *Syncer) Device() *Device {
	return s.device
}

// SetRemoteUpdate marks that the caller is applying remote state, so Save
// calls made meanwhile are dropped instead of echoed back. Deliveries made by
// Subscribe never touch this flag.
func (s *Syncer) SetRemoteUpdate(v bool) {
	s.remoteUpdate.Store(v)
}

// RemoteUpdate reports the flag set with SetRemoteUpdate.
func (s *Syncer) RemoteUpdate() bool {
	return s.remoteUpdate.Load()
}

// Delivering reports whether a remote snapshot of class is being handed to a
// subscriber right now.
func (s *Syncer) Delivering(class string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivering[class] > 0
}

func statePath(class string) string {
	return store.JoinPath("classes", class, "state")
}

// Subscribe calls onChange with the current state of class, or nil when the
// class has none yet, and again after every change. Saves of the same class
// made while onChange runs are dropped as echoes. The returned function stops
// the subscription.
func (s *Syncer) Subscribe(ctx context.Context, class string, onChange func(*domain.SessionState)) func() {
	noop := func() {}
	if class == "" || onChange == nil {
		s.logger.Warn().Str("class", class).Msg("session: subscribe without class or callback")
		return noop
	}
	log := s.logger.With().Str("class", class).Logger()
	stop, err := s.store.Watch(ctx, statePath(class), func(raw json.RawMessage) {
		s.deliver(class, raw, onChange)
	}, func(err error) {
		log.Error().Err(err).Msg("session: subscription error")
	})
	if err != nil {
		log.Error().Err(err).Msg("session: subscribe failed")
		return noop
	}
	return stop
}

func (s *Syncer) deliver(class string, raw json.RawMessage, onChange func(*domain.SessionState)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("class", class).Interface("panic", r).Msg("session: subscriber panicked")
		}
	}()
	state, ok := domain.DecodeSessionState(raw)
	if !ok {
		s.applyRemote(class, func() { onChange(nil) })
		return
	}
	state.Volume = s.device.Volume()
	s.applyRemote(class, func() { onChange(&state) })
}

// applyRemote runs fn with class marked as delivering. Overlapping deliveries
// of the same class nest; other classes are unaffected.
func (s *Syncer) applyRemote(class string, fn func()) {
	s.mu.Lock()
	s.delivering[class]++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.delivering[class]--; s.delivering[class] <= 0 {
			delete(s.delivering, class)
		}
		s.mu.Unlock()
	}()
	fn()
}

// Load reads the current state once. It reports nil for a class without state.
func (s *Syncer) Load(ctx context.Context, class string) (*domain.SessionState, error) {
	raw, err := s.store.Get(ctx, statePath(class))
	if err != nil {
		return nil, fmt.Errorf("load class %s: %w", class, err)
	}
	state, ok := domain.DecodeSessionState(raw)
	if !ok {
		return nil, nil
	}
	state.Volume = s.device.Volume()
	return &state, nil
}

// Save schedules a debounced write of state. Calls made while the
// remote-update flag is raised, or while a remote snapshot of the same class
// is being delivered, are dropped.
func (s *Syncer) Save(class string, state domain.SessionState) {
	if class == "" {
		return
	}
	if s.RemoteUpdate() || s.Delivering(class) {
		s.countWrite("suppressed")
		return
	}
	s.scheduler(class).Schedule(state.RemoteCopy())
}

// Write stores state immediately, replacing any pending debounced write.
func (s *Syncer) Write(ctx context.Context, class string, state domain.SessionState) error {
	if class == "" {
		return domain.ErrInvalidClass
	}
	s.mu.Lock()
	if sch, ok := s.schedulers[class]; ok {
		sch.Stop()
		delete(s.schedulers, class)
	}
	s.mu.Unlock()
	return s.write(ctx, class, state.RemoteCopy())
}

func (s *Syncer) scheduler(class string) *Scheduler[domain.SessionState] {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schedulers[class]
	if !ok {
		sch = newScheduler(s.debounce, func(ctx context.Context, state domain.SessionState) {
			if err := s.write(ctx, class, state); err != nil {
				s.logger.Error().Err(err).Str("class", class).Msg("session: save failed")
			}
		}, s.after)
		s.schedulers[class] = sch
	}
	return sch
}

func (s *Syncer) write(ctx context.Context, class string, state domain.SessionState) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.store.Set(ctx, statePath(class), state); err != nil {
		s.countWrite("error")
		return fmt.Errorf("save class %s: %w", class, err)
	}
	s.countWrite("ok")
	if err := s.store.Set(ctx, store.JoinPath("classes", class, "lastUpdated"), s.now().UnixMilli()); err != nil {
		s.logger.Debug().Err(err).Str("class", class).Msg("session: lastUpdated not written")
	}
	return nil
}

// Flush writes every pending state now.
func (s *Syncer) Flush(ctx context.Context) {
	s.mu.Lock()
	pending := make([]*Scheduler[domain.SessionState], 0, len(s.schedulers))
	for _, sch := range s.schedulers {
		pending = append(pending, sch)
	}
	s.mu.Unlock()
	for _, sch := range pending {
		sch.FlushNow(ctx)
	}
}

// Close flushes pending writes and releases the device.
func (s *Syncer) Close(ctx context.Context) {
	s.Flush(ctx)
	s.mu.Lock()
	for class, sch := range s.schedulers {
		sch.Stop()
		delete(s.schedulers, class)
	}
	s.mu.Unlock()
	s.device.Close()
}

// ListClasses returns the known class names. Store errors yield an empty list.
func (s *Syncer) ListClasses(ctx context.Context) []string {
	keys, err := s.store.Keys(ctx, "classes")
	if err != nil {
		s.logger.Error().Err(err).Msg("session: list classes failed")
		return []string{}
	}
	if keys == nil {
		return []string{}
	}
	sort.Strings(keys)
	return keys
}

// DeleteClass removes all data of class, dropping any pending write first.
func (s *Syncer) DeleteClass(ctx context.Context, class string) error {
	if class == "" {
		return domain.ErrInvalidClass
	}
	s.mu.Lock()
	if sch, ok := s.schedulers[class]; ok {
		sch.Stop()
		delete(s.schedulers, class)
	}
	s.mu.Unlock()
	if err := s.store.Delete(ctx, store.JoinPath("classes", class)); err != nil {
		return fmt.Errorf("delete class %s: %w", class, err)
	}
	return nil
}

func (s *Syncer) countWrite(result string) {
	if s.metrics != nil {
		s.metrics.SessionWrites.WithLabelValues(result).Inc()
	}
}
