// Package cursor stores Dropbox listing cursors per account.
//
// Every backend is last-write-wins with no per-account serialization:
// overlapping passes for the same account may overwrite each other.
package cursor

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no cursor is stored for an account.
var ErrNotFound = errors.New("cursor not found")

// Store holds the most recent listing cursor for each account.
type Store interface {
	Get(ctx context.Context, accountID string) (string, error)
	Set(ctx context.Context, accountID, cursor string) error
}

// MemoryStore keeps cursors for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]string
}

// NewMemoryStore creates an empty in-process cursor store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]string)}
}

// Get returns the stored cursor for accountID.
func (m *MemoryStore) Get(_ context.Context, accountID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[accountID]
	if !ok {
		return "", ErrNotFound
	}
	return c, nil
}

// Set overwrites the cursor for accountID.
func (m *MemoryStore) Set(_ context.Context, accountID, cursor string) error {
	m.mu.Lock()
	m.cursors[accountID] = cursor
	m.mu.Unlock()
	return nil
}

// Len returns the number of accounts with a stored cursor.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cursors)
}
