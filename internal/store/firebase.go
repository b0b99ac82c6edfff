package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"firebase.google.com/go/v4/db"
	"github.com/rs/zerolog"
)

// Firebase stores nodes in a Firebase Realtime Database. Watches poll with
// ETags because the admin SDK has no streaming listener.
type Firebase struct {
	client       *db.Client
	pollInterval time.Duration
	logger       zerolog.Logger
}

func NewFirebase(client *db.Client, pollInterval time.Duration, logger zerolog.Logger) *Firebase {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Firebase{client: client, pollInterval: pollInterval, logger: logger}
}

func (f *Firebase) ref(path string) *db.Ref {
	return f.client.NewRef("/" + JoinPath(path))
}

func (f *Firebase) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := f.ref(path).Get(ctx, &raw); err != nil {
		return nil, fmt.Errorf("firebase get %s: %w", path, err)
	}
	if IsAbsent(raw) {
		return nil, nil
	}
	return raw, nil
}

func (f *Firebase) Set(ctx context.Context, path string, value any) error {
	if len(SplitPath(path)) == 0 {
		return ErrInvalidPath
	}
	tree, err := normalize(value)
	if err != nil {
		return err
	}
	if tree == nil {
		return f.Delete(ctx, path)
	}
	if err := f.ref(path).Set(ctx, tree); err != nil {
		return fmt.Errorf("firebase set %s: %w", path, err)
	}
	return nil
}

var errNodeExists = errors.New("store: node exists")

func (f *Firebase) Create(ctx context.Context, path string, value any) (bool, error) {
	if len(SplitPath(path)) == 0 {
		return false, ErrInvalidPath
	}
	tree, err := normalize(value)
	if err != nil {
		return false, err
	}
	if tree == nil {
		return false, nil
	}
	err = f.ref(path).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var current any
		if err := node.Unmarshal(&current); err != nil {
			return nil, err
		}
		if current != nil {
			return nil, errNodeExists
		}
		return tree, nil
	})
	switch {
	case errors.Is(err, errNodeExists):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("firebase create %s: %w", path, err)
	}
	return true, nil
}

func (f *Firebase) Update(ctx context.Context, path string, children map[string]any) error {
	if len(children) == 0 {
		return nil
	}
	patch := make(map[string]any, len(children))
	for key, value := range children {
		if len(SplitPath(key)) == 0 {
			return ErrInvalidPath
		}
		tree, err := normalize(value)
		if err != nil {
			return err
		}
		// A null member deletes the child in a multi-path update.
		patch[JoinPath(key)] = tree
	}
	if err := f.ref(path).Update(ctx, patch); err != nil {
		return fmt.Errorf("firebase update %s: %w", path, err)
	}
	return nil
}

func (f *Firebase) Push(ctx context.Context, path string, value any) (string, error) {
	if len(SplitPath(path)) == 0 {
		return "", ErrInvalidPath
	}
	tree, err := normalize(value)
	if err != nil {
		return "", err
	}
	child, err := f.ref(path).Push(ctx, tree)
	if err != nil {
		return "", fmt.Errorf("firebase push %s: %w", path, err)
	}
	return child.Key, nil
}

func (f *Firebase) Delete(ctx context.Context, path string) error {
	if len(SplitPath(path)) == 0 {
		return ErrInvalidPath
	}
	if err := f.ref(path).Delete(ctx); err != nil {
		return fmt.Errorf("firebase delete %s: %w", path, err)
	}
	return nil
}

func (f *Firebase) Keys(ctx context.Context, path string) ([]string, error) {
	var shallow map[string]any
	if err := f.ref(path).GetShallow(ctx, &shallow); err != nil {
		return nil, fmt.Errorf("firebase keys %s: %w", path, err)
	}
	return sortedKeys(shallow), nil
}

func (f *Firebase) Watch(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (func(), error) {
	if onChange == nil {
		return nil, fmt.Errorf("store: watch %q: nil callback", path)
	}
	ref := f.ref(path)
	var initial json.RawMessage
	etag, err := ref.GetWithETag(ctx, &initial)
	if err != nil {
		return nil, fmt.Errorf("firebase watch %s: %w", path, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	onChange(absentToNil(initial))

	go func() {
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}
			var next json.RawMessage
			changed, nextTag, err := ref.GetIfChanged(watchCtx, etag, &next)
			if err != nil {
				if watchCtx.Err() != nil {
					return
				}
				f.logger.Warn().Err(err).Str("path", path).Msg("firebase watch poll failed")
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !changed {
				continue
			}
			etag = nextTag
			if watchCtx.Err() != nil {
				return
			}
			onChange(absentToNil(next))
		}
	}()
	return cancel, nil
}

func absentToNil(raw json.RawMessage) json.RawMessage {
	if IsAbsent(raw) {
		return nil
	}
	return raw
}

var _ Store = (*Firebase)(nil)
