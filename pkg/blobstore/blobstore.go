// Package blobstore is the content-addressed file store behind
// `RequestBlob` (§3, §6): textures and comments are written once,
// keyed by the SHA-1 hash of their content, and served back lazily.
// It modernizes teacher's `lock_unix.go` (pre-Go1: os.Error,
// log.Stderr) into a present-day store, keeping the same PID-liveness
// lockfile strategy for exclusive access to the directory.
package blobstore

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Get when no blob with the given hash
// exists in the store.
var ErrNotFound = errors.New("blobstore: blob not found")

// BlobStore is a directory of content-addressed files, one per blob,
// named by the hex SHA-1 of their content (§3 "Blob | content hash").
type BlobStore struct {
	dir string
}

// Open acquires the store's lockfile under dir and returns a
// BlobStore rooted there, creating dir if necessary.
func Open(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if err := AcquireLockFile(filepath.Join(dir, ".lock")); err != nil {
		return nil, err
	}
	return &BlobStore{dir: dir}, nil
}

// Close releases the store's lockfile.
func (b *BlobStore) Close() error {
	return ReleaseLockFile(filepath.Join(b.dir, ".lock"))
}

// Hash returns the content-address hex string for data, without
// storing anything.
func Hash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data under its content hash, returning the hash.
// Writing is idempotent: an existing blob with the same hash is left
// untouched rather than rewritten.
func (b *BlobStore) Put(data []byte) (string, error) {
	hash := Hash(data)
	path := b.path(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	tmp, err := os.CreateTemp(b.dir, "blob-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return hash, nil
}

// Get fetches the content stored under hash, or ErrNotFound.
func (b *BlobStore) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(b.path(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *BlobStore) path(hash string) string {
	// Two-level fan-out (first 2 hex chars) keeps any one directory
	// from accumulating too many entries, matching the shape common
	// git-style content stores use.
	if len(hash) < 2 {
		return filepath.Join(b.dir, hash)
	}
	sub := filepath.Join(b.dir, hash[:2])
	os.MkdirAll(sub, 0700)
	return filepath.Join(sub, hash[2:])
}
