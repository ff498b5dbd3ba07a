// Package archive stores point-in-time ledger snapshots in a blob store.
// Keys follow snapshots/<unix-nanos>.json so lexical order is creation order.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kittyledger/internal/infra/archive/core"
	"kittyledger/internal/infra/archive/fs"
	"kittyledger/internal/infra/archive/memory"
	"kittyledger/internal/infra/archive/s3"
)

// Prefix is the key prefix every snapshot is stored under.
const Prefix = "snapshots/"

const contentType = "application/json"

// Config selects and configures the archive backend.
type Config struct {
	Driver string    `mapstructure:"driver"`
	FSRoot string    `mapstructure:"fs_root"`
	S3     s3.Config `mapstructure:"s3"`
}

// Open builds the blob store named by cfg.Driver (default memory).
func Open(ctx context.Context, cfg Config) (core.Store, error) {
	switch core.Driver(strings.ToLower(cfg.Driver)) {
	case "", core.DriverMemory:
		return memory.New(), nil
	case core.DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case core.DriverS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

// Archive writes and reads JSON snapshots through a blob store.
type Archive struct {
	store core.Store
	now   func() time.Time
}

// New wraps store. A nil now defaults to time.Now.
func New(store core.Store, now func() time.Time) *Archive {
	if now == nil {
		now = time.Now
	}
	return &Archive{store: store, now: now}
}

// Store returns the underlying blob store.
func (a *Archive) Store() core.Store { return a.store }

// Key returns the archive key for a snapshot taken at t.
func Key(t time.Time) string {
	return fmt.Sprintf("%s%020d.json", Prefix, t.UnixNano())
}

// Save encodes v as JSON under a fresh timestamped key.
func (a *Archive) Save(ctx context.Context, v any, metadata map[string]string) (core.Info, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return core.Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	info, err := a.store.Put(ctx, Key(a.now().UTC()), bytes.NewReader(data), core.PutOptions{ContentType: contentType, Metadata: metadata})
	if err != nil {
		return core.Info{}, fmt.Errorf("archive snapshot: %w", err)
	}
	return info, nil
}

// Load decodes the snapshot stored at key into v.
func (a *Archive) Load(ctx context.Context, key string, v any) error {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	defer func() { _ = rc.Close() }()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return nil
}

// List returns every archived snapshot, oldest first.
func (a *Archive) List(ctx context.Context) ([]core.Info, error) {
	return a.store.List(ctx, Prefix)
}

// Latest returns the most recent snapshot.
func (a *Archive) Latest(ctx context.Context) (core.Info, error) {
	infos, err := a.List(ctx)
	if err != nil {
		return core.Info{}, err
	}
	if len(infos) == 0 {
		return core.Info{}, fmt.Errorf("latest snapshot: %w", core.ErrNotFound)
	}
	return infos[len(infos)-1], nil
}

// Delete removes the snapshot at key.
func (a *Archive) Delete(ctx context.Context, key string) (bool, error) {
	return a.store.Delete(ctx, key)
}
