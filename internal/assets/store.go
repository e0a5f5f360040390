package assets

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// ErrNotFound is returned by a Store when a key has never been written.
var ErrNotFound = errors.New("asset not found")

// Store persists whole asset values under their key. A Put replaces the
// previous value atomically: readers see either the old or the new value,
// never a partial write.
type Store interface {
	Has(ctx context.Context, key Key) (bool, error)
	Get(ctx context.Context, key Key) ([]byte, error)
	Meta(ctx context.Context, key Key) (Meta, error)
	Put(ctx context.Context, key Key, data []byte) (Meta, error)
	Delete(ctx context.Context, key Key) error
	Close() error
}

// Digest returns the hex xxhash64 of data.
func Digest(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func digestReader(r io.Reader) (string, int64, error) {
	h := xxhash.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%016x", h.Sum64()), n, nil
}
