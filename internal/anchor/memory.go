package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Client for tests and gateway-less development
// (ANCHOR_GATEWAY_URL=memory). Submit is idempotent: a fingerprint that is
// already anchored gets back the reference it was first issued.
type Memory struct {
	mu         sync.Mutex
	anchored   map[string]string
	authorized map[string]bool

	// SubmitErr and QueryErr force subsequent calls to fail. Set them
	// before handing the client to the code under test.
	SubmitErr error
	QueryErr  error

	submits int
	queries int
}

var _ Client = (*Memory)(nil)
var _ Admin = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		anchored:   make(map[string]string),
		authorized: make(map[string]bool),
	}
}

func (m *Memory) Submit(ctx context.Context, fingerprint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	if ref, ok := m.anchored[fingerprint]; ok {
		return ref, nil
	}
	ref := memRef(fingerprint, len(m.anchored))
	m.anchored[fingerprint] = ref
	return ref, nil
}

func (m *Memory) Query(ctx context.Context, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.QueryErr != nil {
		return false, m.QueryErr
	}
	_, ok := m.anchored[fingerprint]
	return ok, nil
}

func (m *Memory) Status(ctx context.Context) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Status{
		Configured:     true,
		Reachable:      true,
		Endpoint:       "memory",
		Ledger:         "memory",
		LatestPosition: int64(len(m.anchored)),
		Submitter:      "memory",
		Authorized:     true,
		CheckedAt:      time.Now().UTC(),
	}, nil
}

func (m *Memory) Authorize(ctx context.Context, account string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorized[account] = true
	return memRef("authorize:"+account, len(m.authorized)), nil
}

func (m *Memory) Deauthorize(ctx context.Context, account string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.authorized, account)
	return memRef("deauthorize:"+account, len(m.authorized)), nil
}

func (m *Memory) Authorized(ctx context.Context, account string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorized[account], nil
}

// SubmitCalls reports how many Submit attempts were made, failures included.
func (m *Memory) SubmitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits
}

// QueryCalls reports how many Query attempts were made, failures included.
func (m *Memory) QueryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// Anchored reports whether a fingerprint has been committed.
func (m *Memory) Anchored(fingerprint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.anchored[fingerprint]
	return ok
}

// memRef fabricates a transaction-hash-shaped reference.
func memRef(seed string, seq int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", seed, seq)))
	return "0x" + hex.EncodeToString(sum[:])
}
