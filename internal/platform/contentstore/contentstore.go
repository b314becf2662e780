// Package contentstore provides off-chain content storage for audit entries.
// Content is addressed by its SHA-256 digest, so a reference both locates the
// bytes and lets a reader re-verify them. The ledger only ever sees the
// reference; the bytes themselves stay here.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrContentNotFound = errors.New("content not found")
	ErrEmptyContent    = errors.New("content is empty")
	ErrInvalidRef      = errors.New("invalid content reference")
)

// RefPrefix marks references produced by this store.
const RefPrefix = "sha256:"

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store defines the contract for content storage backends.
type Store interface {
	// Put stores data and returns its content-addressed reference. Storing
	// the same bytes twice returns the same reference.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the bytes a reference addresses.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether a reference is resolvable.
	Exists(ctx context.Context, ref string) (bool, error)
}

// Ref computes the content-addressed reference for data without storing it.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return RefPrefix + hex.EncodeToString(sum[:])
}

// ValidRef reports whether ref has the shape this store produces.
func ValidRef(ref string) bool {
	hexPart, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// Memory is a thread-safe, in-memory Store for testing and development.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns a ready-to-use Memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (s *Memory) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyContent
	}

	ref := Ref(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.blobs[ref] = cp
	}
	return ref, nil
}

func (s *Memory) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidRef(ref) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, ErrContentNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *Memory) Exists(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !ValidRef(ref) {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[ref]
	return ok, nil
}

var _ Store = (*Memory)(nil)
