// Package fs implements the archive Store on the local filesystem.
//
// Every access goes through an os.Root so keys cannot reach outside the
// archive directory, including through symlinks. Each snapshot file has a
// JSON sidecar (key + ".meta") carrying its checksum and metadata.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"kittyledger/internal/infra/archive/core"
)

var _ core.Store = (*Store)(nil)

const (
	defaultRoot = "./archive"
	metaSuffix  = ".meta"
)

// Store keeps snapshots as files under a root directory.
type Store struct {
	dir string
}

// New returns a store rooted at dir (default ./archive), creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = defaultRoot
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("archive dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Driver returns the archive driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the archive directory.
func (s *Store) Root() string { return s.dir }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
	Size        int64             `json:"size"`
	WrittenAt   time.Time         `json:"written_at"`
}

func (m sidecar) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.SHA256,
		Metadata:     core.CloneMetadata(m.Metadata),
		LastModified: m.WrittenAt,
	}
}

func checkKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return errors.New("archive: empty key")
	case path.IsAbs(key):
		return fmt.Errorf("archive: absolute key %q", key)
	case strings.HasSuffix(key, metaSuffix):
		return fmt.Errorf("archive: key %q uses the reserved %s suffix", key, metaSuffix)
	}
	return nil
}

// open validates key and opens the archive root for one operation.
func (s *Store) open(key string) (*os.Root, string, error) {
	if err := checkKey(key); err != nil {
		return nil, "", err
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, "", fmt.Errorf("open archive root: %w", err)
	}
	return root, filepath.FromSlash(key), nil
}

// Put writes r to a temporary file and hard-links it into place, so an
// existing key is never overwritten.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	root, name, err := s.open(key)
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = root.Close() }()

	if _, err := root.Stat(name); err == nil {
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrExists)
	} else if !errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, err
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := root.MkdirAll(dir, 0o750); err != nil {
			return core.Info{}, err
		}
	}

	tmp := filepath.Join(filepath.Dir(name), ".tmp-"+uuid.NewString())
	defer func() { _ = root.Remove(tmp) }()
	sum, size, err := writeFile(root, tmp, r)
	if err != nil {
		return core.Info{}, err
	}
	if err := root.Link(tmp, name); err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrExists)
		}
		return core.Info{}, err
	}

	meta := sidecar{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		SHA256:      sum,
		Size:        size,
		WrittenAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return core.Info{}, err
	}
	if err := root.WriteFile(name+metaSuffix, raw, 0o600); err != nil {
		return core.Info{}, err
	}
	return meta.info(key), nil
}

func writeFile(root *os.Root, name string, r io.Reader) (string, int64, error) {
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, err
	}
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// Get opens the snapshot for reading.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	root, name, err := s.open(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	defer func() { _ = root.Close() }()

	f, err := root.Open(name)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	meta, err := readSidecar(root, name+metaSuffix)
	if err != nil {
		_ = f.Close()
		return core.Info{}, nil, err
	}
	return meta.info(key), f, nil
}

// Head returns the snapshot's sidecar information.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	root, name, err := s.open(key)
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = root.Close() }()

	meta, err := readSidecar(root, name+metaSuffix)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, err
	}
	return meta.info(key), nil
}

// Delete removes the snapshot and its sidecar, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	root, name, err := s.open(key)
	if err != nil {
		return false, err
	}
	defer func() { _ = root.Close() }()

	if err := root.Remove(name); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = root.Remove(name + metaSuffix)
	return true, nil
}

// List walks the archive and returns sidecars whose key has prefix, key ascending.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, fmt.Errorf("open archive root: %w", err)
	}
	defer func() { _ = root.Close() }()

	var infos []core.Info
	err = iofs.WalkDir(root.FS(), ".", func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		key := strings.TrimSuffix(p, metaSuffix)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := readSidecar(root, filepath.FromSlash(p))
		if err != nil {
			return err
		}
		infos = append(infos, meta.info(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func readSidecar(root *os.Root, name string) (sidecar, error) {
	raw, err := root.ReadFile(name)
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return sidecar{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return meta, nil
}
