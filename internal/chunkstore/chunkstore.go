// Package chunkstore keeps content-addressed byte blobs on local disk.
//
// A chunk is named by the lowercase hex BLAKE3 digest of its contents and
// lives at root/hex[0:2]/hex[2:4]/hex.
package chunkstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// IDLen is the length of a chunk id in hex characters.
const IDLen = 64

var (
	ErrNotFound  = errors.New("chunk not found")
	ErrInvalidID = errors.New("invalid chunk id")
)

// Store reads and writes chunks under a root directory.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's data directory.
func (s *Store) Root() string { return s.root }

// ID returns the chunk id of data.
func ID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidID reports whether id is 64 lowercase hex characters.
func ValidID(id string) bool {
	if len(id) != IDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Path returns the on-disk location of chunk id under root. id must be at
// least four characters long.
func Path(root, id string) string {
	return filepath.Join(root, id[0:2], id[2:4], id)
}

// Put stores data and returns its chunk id. Writing a chunk that already
// exists leaves the existing file untouched.
func (s *Store) Put(data []byte) (string, error) {
	id := ID(data)
	p := Path(s.root, id)

	if _, err := os.Stat(p); err == nil {
		return id, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat chunk %s: %w", id, err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create chunk directory %q: %w", filepath.Dir(p), err)
	}

	tmp := p + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create chunk temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write chunk %s: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync chunk %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close chunk %s: %w", id, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename chunk %s: %w", id, err)
	}
	return id, nil
}

// Get returns the contents of chunk id.
func (s *Store) Get(id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	data, err := os.ReadFile(Path(s.root, id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", id, err)
	}
	return data, nil
}

// Has reports whether chunk id is present on disk.
func (s *Store) Has(id string) bool {
	if !ValidID(id) {
		return false
	}
	_, err := os.Stat(Path(s.root, id))
	return err == nil
}
