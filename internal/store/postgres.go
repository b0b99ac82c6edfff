package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"weltverbinder/internal/infra"
	"weltverbinder/internal/sqlinline"
)

const notifyChannel = "store_changes"

// Postgres keeps the tree in the store_nodes table and fans LISTEN/NOTIFY
// events out to watchers. One pooled connection is held by the listener
// while at least one watch is active.
type Postgres struct {
	sql    *infra.SQLRunner
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu         sync.Mutex
	nextID     int
	watchers   map[int]*pgWatcher
	listening  bool
	stopListen context.CancelFunc
}

type pgWatcher struct {
	path     string
	parts    []string
	onChange ChangeFunc
	onError  ErrorFunc

	mu      sync.Mutex
	stopped bool
	primed  bool
	last    string
}

func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{
		sql:      infra.NewSQLRunner(pool, logger),
		pool:     pool,
		logger:   logger,
		watchers: map[int]*pgWatcher{},
	}
}

// EnsureSchema creates the backing table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.sql.Exec(ctx, sqlinline.QEnsureStoreSchema); err != nil {
		return fmt.Errorf("ensure store schema: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, path string) (json.RawMessage, error) {
	tree, err := p.read(ctx, p.sql, SplitPath(path))
	if err != nil {
		return nil, err
	}
	return encode(tree)
}

func (p *Postgres) read(ctx context.Context, runner *infra.SQLRunner, parts []string) (any, error) {
	if len(parts) > 0 {
		var rowPath string
		var doc json.RawMessage
		err := runner.QueryRow(ctx, sqlinline.QSelectStoreCovering, prefixes(parts, true)).Scan(&rowPath, &doc)
		switch {
		case err == nil:
			var tree any
			if err := json.Unmarshal(doc, &tree); err != nil {
				return nil, fmt.Errorf("decode node %s: %w", rowPath, err)
			}
			return lookup(tree, parts[len(SplitPath(rowPath)):]), nil
		case !infra.IsNoRows(err):
			return nil, fmt.Errorf("read node %s: %w", JoinPath(parts...), err)
		}
	}

	base := JoinPath(parts...)
	rows, err := runner.Query(ctx, sqlinline.QSelectStoreDescendants, base)
	if err != nil {
		return nil, fmt.Errorf("read subtree %s: %w", base, err)
	}
	defer rows.Close()

	var root any
	for rows.Next() {
		var rowPath string
		var doc json.RawMessage
		if err := rows.Scan(&rowPath, &doc); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		rowParts := SplitPath(rowPath)
		if len(rowParts) <= len(parts) || !strings.HasPrefix(rowPath, base) {
			continue
		}
		var tree any
		if err := json.Unmarshal(doc, &tree); err != nil {
			return nil, fmt.Errorf("decode node %s: %w", rowPath, err)
		}
		root = assign(root, rowParts[len(parts):], tree)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read subtree %s: %w", base, err)
	}
	return root, nil
}

func (p *Postgres) Set(ctx context.Context, path string, value any) error {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return ErrInvalidPath
	}
	tree, err := normalize(value)
	if err != nil {
		return err
	}
	full := JoinPath(parts...)

	err = p.sql.InTx(ctx, func(tx *infra.SQLRunner) error {
		return setTx(ctx, tx, parts, tree)
	})
	if err != nil {
		return fmt.Errorf("store set %s: %w", full, err)
	}

	if _, err := p.sql.Exec(ctx, sqlinline.QNotifyStoreChange, full); err != nil {
		p.logger.Warn().Err(err).Str("path", full).Msg("store change notify failed")
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, path string, value any) (bool, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return false, ErrInvalidPath
	}
	tree, err := normalize(value)
	if err != nil {
		return false, err
	}
	full := JoinPath(parts...)

	created := false
	err = p.sql.InTx(ctx, func(tx *infra.SQLRunner) error {
		// setTx takes the same lock again; advisory xact locks are reentrant.
		if _, err := tx.Exec(ctx, sqlinline.QLockStoreSubtree, parts[0]); err != nil {
			return fmt.Errorf("lock subtree: %w", err)
		}
		current, err := p.read(ctx, tx, parts)
		if err != nil {
			return err
		}
		if current != nil || tree == nil {
			return nil
		}
		created = true
		return setTx(ctx, tx, parts, tree)
	})
	if err != nil {
		return false, fmt.Errorf("store create %s: %w", full, err)
	}
	if !created {
		return false, nil
	}
	if _, err := p.sql.Exec(ctx, sqlinline.QNotifyStoreChange, full); err != nil {
		p.logger.Warn().Err(err).Str("path", full).Msg("store change notify failed")
	}
	return true, nil
}

func (p *Postgres) Update(ctx context.Context, path string, children map[string]any) error {
	if len(children) == 0 {
		return nil
	}
	type pending struct {
		parts []string
		tree  any
	}
	writes := make([]pending, 0, len(children))
	for key, value := range children {
		parts := SplitPath(JoinPath(path, key))
		if len(parts) == 0 || len(SplitPath(key)) == 0 {
			return ErrInvalidPath
		}
		tree, err := normalize(value)
		if err != nil {
			return err
		}
		writes = append(writes, pending{parts: parts, tree: tree})
	}
	base := JoinPath(path)
	err := p.sql.InTx(ctx, func(tx *infra.SQLRunner) error {
		for _, w := range writes {
			if err := setTx(ctx, tx, w.parts, w.tree); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store update %s: %w", base, err)
	}
	if _, err := p.sql.Exec(ctx, sqlinline.QNotifyStoreChange, base); err != nil {
		p.logger.Warn().Err(err).Str("path", base).Msg("store change notify failed")
	}
	return nil
}

// setTx writes one node inside tx, either by patching the covering ancestor
// row or by replacing the node's own row and any rows below it.
func setTx(ctx context.Context, tx *infra.SQLRunner, parts []string, tree any) error {
	full := JoinPath(parts...)
	if _, err := tx.Exec(ctx, sqlinline.QLockStoreSubtree, parts[0]); err != nil {
		return fmt.Errorf("lock subtree: %w", err)
	}

	var rowPath string
	var doc json.RawMessage
	err := tx.QueryRow(ctx, sqlinline.QSelectStoreCoveringForUpdate, prefixes(parts, false)).Scan(&rowPath, &doc)
	if err == nil {
		var current any
		if err := json.Unmarshal(doc, &current); err != nil {
			return fmt.Errorf("decode node %s: %w", rowPath, err)
		}
		patched := assign(current, parts[len(SplitPath(rowPath)):], tree)
		if patched == nil {
			_, err := tx.Exec(ctx, sqlinline.QDeleteStoreSubtree, rowPath)
			return err
		}
		return upsert(ctx, tx, rowPath, patched)
	}
	if !infra.IsNoRows(err) {
		return fmt.Errorf("read ancestor of %s: %w", full, err)
	}

	if _, err := tx.Exec(ctx, sqlinline.QDeleteStoreSubtree, full); err != nil {
		return fmt.Errorf("clear subtree %s: %w", full, err)
	}
	if tree == nil {
		return nil
	}
	return upsert(ctx, tx, full, tree)
}

func upsert(ctx context.Context, tx *infra.SQLRunner, path string, tree any) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode node %s: %w", path, err)
	}
	if _, err := tx.Exec(ctx, sqlinline.QUpsertStoreNode, path, string(data)); err != nil {
		return fmt.Errorf("write node %s: %w", path, err)
	}
	return nil
}

func (p *Postgres) Push(ctx context.Context, path string, value any) (string, error) {
	if len(SplitPath(path)) == 0 {
		return "", ErrInvalidPath
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("store: push key: %w", err)
	}
	key := id.String()
	if err := p.Set(ctx, JoinPath(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	return p.Set(ctx, path, nil)
}

func (p *Postgres) Keys(ctx context.Context, path string) ([]string, error) {
	tree, err := p.read(ctx, p.sql, SplitPath(path))
	if err != nil {
		return nil, err
	}
	return sortedKeys(tree), nil
}

func (p *Postgres) Watch(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (func(), error) {
	if onChange == nil {
		return nil, fmt.Errorf("store: watch %q: nil callback", path)
	}
	w := &pgWatcher{path: JoinPath(path), parts: SplitPath(path), onChange: onChange, onError: onError}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = w
	if !p.listening {
		listenCtx, cancel := context.WithCancel(context.Background())
		p.listening = true
		p.stopListen = cancel
		go p.listen(listenCtx)
	}
	p.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			w.mu.Lock()
			w.stopped = true
			w.mu.Unlock()
			p.remove(id)
		})
	}
	context.AfterFunc(ctx, stop)

	if err := p.refresh(ctx, w); err != nil {
		stop()
		return nil, err
	}
	return stop, nil
}

// Close stops the shared listener. Active watches stop receiving changes.
func (p *Postgres) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopListen != nil {
		p.stopListen()
	}
	p.listening = false
	p.stopListen = nil
}

func (p *Postgres) remove(id int) {
	p.mu.Lock()
	delete(p.watchers, id)
	if len(p.watchers) == 0 && p.stopListen != nil {
		p.stopListen()
		p.stopListen = nil
		p.listening = false
	}
	p.mu.Unlock()
}

func (p *Postgres) listen(ctx context.Context) {
	backoff := 500 * time.Millisecond
	for ctx.Err() == nil {
		err := p.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("store listener disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (p *Postgres) listenOnce(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "listen "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// Changes may have been missed while disconnected.
	p.fanOut(ctx, nil)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Channel != notifyChannel {
			continue
		}
		p.fanOut(ctx, SplitPath(n.Payload))
	}
}

// fanOut refreshes every watcher overlapping changed. A nil changed refreshes all.
func (p *Postgres) fanOut(ctx context.Context, changed []string) {
	p.mu.Lock()
	targets := make([]*pgWatcher, 0, len(p.watchers))
	for _, w := range p.watchers {
		if changed == nil || overlaps(changed, w.parts) {
			targets = append(targets, w)
		}
	}
	p.mu.Unlock()

	for _, w := range targets {
		if err := p.refresh(ctx, w); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn().Err(err).Str("path", w.path).Msg("store watch refresh failed")
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (p *Postgres) refresh(ctx context.Context, w *pgWatcher) error {
	value, err := p.Get(ctx, w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if w.stopped || (w.primed && w.last == string(value)) {
		w.mu.Unlock()
		return nil
	}
	w.primed = true
	w.last = string(value)
	w.mu.Unlock()
	w.onChange(value)
	return nil
}

// prefixes lists the ancestor paths of parts, including parts itself when self is set.
func prefixes(parts []string, self bool) []string {
	n := len(parts)
	if !self {
		n--
	}
	out := make([]string, 0, max(n, 0))
	for i := 1; i <= n; i++ {
		out = append(out, strings.Join(parts[:i], "/"))
	}
	return out
}

var _ Store = (*Postgres)(nil)
