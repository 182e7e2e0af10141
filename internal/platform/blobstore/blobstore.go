// Package blobstore stores referral document bytes. The Store interface hides
// whether bytes live on local disk, in S3 or in memory; callers keep only the
// returned locator.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"
)

var ErrBlobNotFound = errors.New("blob not found")

// Store persists opaque byte streams.
type Store interface {
	// Put stores size bytes from r under key and returns the locator used for
	// later retrieval.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Open returns the stored bytes or ErrBlobNotFound.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, locator string) error
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SafeName replaces every character outside [a-zA-Z0-9._-] with "_".
func SafeName(name string) string {
	safe := unsafeNameChars.ReplaceAllString(name, "_")
	if safe == "" || safe == "." || safe == ".." {
		return "file"
	}
	return safe
}

// DocumentKey builds "referrals/<referralID>/<unix-millis>-<safe name>".
func DocumentKey(referralID string, now time.Time, fileName string) string {
	return fmt.Sprintf("referrals/%s/%d-%s", referralID, now.UnixMilli(), SafeName(fileName))
}

// MemoryStore keeps blobs in process memory. Only tests use it; the server
// always runs on a LocalStore or S3Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return key, nil
}

func (s *MemoryStore) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[locator]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, locator)
	return nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
