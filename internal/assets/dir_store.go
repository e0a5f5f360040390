package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DirStore keeps each asset as a file named after its endpoint file name
// (model.onnx, labels.json, mean_std.json), so the same directory can be
// served as the asset root. Writes go to a temp file that is renamed into
// place.
type DirStore struct {
	root string

	mu   sync.Mutex
	sums map[Key]dirSum
}

type dirSum struct {
	size    int64
	modTime time.Time
	digest  string
}

// OpenDirStore uses root as the asset directory, creating it when missing.
func OpenDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}
	return &DirStore{root: root, sums: make(map[Key]dirSum)}, nil
}

// Root returns the asset directory.
func (s *DirStore) Root() string {
	return s.root
}

// FilePath returns the on-disk location of key.
func (s *DirStore) FilePath(key Key) string {
	name := string(key)
	if a, ok := Lookup(key); ok {
		name = a.FileName
	}
	return filepath.Join(s.root, name)
}

func (s *DirStore) Has(ctx context.Context, key Key) (bool, error) {
	info, err := os.Stat(s.FilePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat asset %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *DirStore) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := os.ReadFile(s.FilePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", key, err)
	}
	return data, nil
}

// Meta hashes the file on first use and reuses the digest until the file's
// size or modification time changes.
func (s *DirStore) Meta(ctx context.Context, key Key) (Meta, error) {
	path := s.FilePath(key)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Meta{}, ErrNotFound
	}
	if err != nil {
		return Meta{}, fmt.Errorf("stat asset %s: %w", key, err)
	}

	s.mu.Lock()
	sum, ok := s.sums[key]
	s.mu.Unlock()
	if ok && sum.size == info.Size() && sum.modTime.Equal(info.ModTime()) {
		return Meta{Size: sum.size, Digest: sum.digest, StoredAt: sum.modTime.UTC()}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return Meta{}, fmt.Errorf("open asset %s: %w", key, err)
	}
	defer file.Close()
	digest, size, err := digestReader(file)
	if err != nil {
		return Meta{}, fmt.Errorf("hash asset %s: %w", key, err)
	}

	s.mu.Lock()
	s.sums[key] = dirSum{size: size, modTime: info.ModTime(), digest: digest}
	s.mu.Unlock()
	return Meta{Size: size, Digest: digest, StoredAt: info.ModTime().UTC()}, nil
}

func (s *DirStore) Put(ctx context.Context, key Key, data []byte) (Meta, error) {
	path := s.FilePath(key)
	tmp, err := os.CreateTemp(s.root, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return Meta{}, fmt.Errorf("create temp asset %s: %w", key, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return Meta{}, fmt.Errorf("write asset %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return Meta{}, fmt.Errorf("sync asset %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return Meta{}, fmt.Errorf("close asset %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return Meta{}, fmt.Errorf("commit asset %s: %w", key, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Meta{}, fmt.Errorf("stat asset %s: %w", key, err)
	}
	digest := Digest(data)
	s.mu.Lock()
	s.sums[key] = dirSum{size: info.Size(), modTime: info.ModTime(), digest: digest}
	s.mu.Unlock()
	return Meta{Size: info.Size(), Digest: digest, StoredAt: info.ModTime().UTC()}, nil
}

func (s *DirStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	delete(s.sums, key)
	s.mu.Unlock()
	if err := os.Remove(s.FilePath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete asset %s: %w", key, err)
	}
	return nil
}

func (s *DirStore) Close() error {
	return nil
}
