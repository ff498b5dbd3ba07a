// Package memory implements an in-memory archive Store for tests and for
// ledgers that do not need snapshots to outlive the process.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"kittyledger/internal/infra/archive/core"
)

var _ core.Store = (*Store)(nil)

type entry struct {
	info core.Info
	data []byte
}

// Store keeps snapshots in a key-sorted slice so List is a range scan.
type Store struct {
	mu      sync.RWMutex
	entries []entry
}

// New returns an empty store.
func New() *Store { return &Store{} }

// Driver returns the archive driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// find returns the index of key, or where it would be inserted.
func (s *Store) find(key string) (int, bool) {
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].info.Key >= key })
	return i, i < len(s.entries) && s.entries[i].info.Key == key
}

// Put stores the content of r under key; existing keys are rejected.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	sum := sha256.Sum256(data)
	e := entry{
		info: core.Info{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  opts.ContentType,
			ETag:         hex.EncodeToString(sum[:]),
			Metadata:     core.CloneMetadata(opts.Metadata),
			LastModified: time.Now().UTC(),
		},
		data: data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(key)
	if ok {
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrExists)
	}
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	return cloneInfo(e.info), nil
}

// Get returns the snapshot info and a reader over its content.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.find(key)
	if !ok {
		return core.Info{}, nil, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	// Stored bytes are never mutated, so readers may share them.
	return cloneInfo(s.entries[i].info), io.NopCloser(bytes.NewReader(s.entries[i].data)), nil
}

// Head returns the snapshot info.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.find(key)
	if !ok {
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return cloneInfo(s.entries[i].info), nil
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(key)
	if !ok {
		return false, nil
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true, nil
}

// List returns the snapshots whose key has prefix, key ascending.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Info
	for i, _ := s.find(prefix); i < len(s.entries); i++ {
		if !strings.HasPrefix(s.entries[i].info.Key, prefix) {
			break
		}
		out = append(out, cloneInfo(s.entries[i].info))
	}
	return out, nil
}

func cloneInfo(info core.Info) core.Info {
	info.Metadata = core.CloneMetadata(info.Metadata)
	return info
}
