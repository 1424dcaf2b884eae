package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/backend/internal/store"
)

var errStoreDown = errors.New("store unavailable")

// faultyStore wraps a Memory store and fails selected operations.
type faultyStore struct {
	*store.Memory

	mu         sync.Mutex
	failGet    bool
	failPushTo string
	failRemove string
	failUpdate bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Memory: store.NewMemory()}
}

func (f *faultyStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return f.Memory.Get(ctx, path)
}

func (f *faultyStore) Push(ctx context.Context, path string, value interface{}) (string, error) {
	f.mu.Lock()
	fail := f.failPushTo != "" && strings.HasPrefix(path, f.failPushTo)
	f.mu.Unlock()
	if fail {
		return "", errStoreDown
	}
	return f.Memory.Push(ctx, path, value)
}

func (f *faultyStore) Remove(ctx context.Context, path string) error {
	f.mu.Lock()
	fail := f.failRemove != "" && strings.HasPrefix(path, f.failRemove)
	f.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return f.Memory.Remove(ctx, path)
}

func (f *faultyStore) Update(ctx context.Context, path string, children map[string]interface{}) error {
	f.mu.Lock()
	fail := f.failUpdate
	f.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return f.Memory.Update(ctx, path, children)
}

type mockLease struct {
	mock.Mock
}

func (m *mockLease) Acquire(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustGet(t *testing.T, db store.Store, path string) json.RawMessage {
	t.Helper()
	raw, err := db.Get(context.Background(), path)
	require.NoError(t, err)
	return raw
}

// slowStore delays every push so a dispatch cycle outlives a short lease.
type slowStore struct {
	*store.Memory
	delay time.Duration
}

func (s *slowStore) Push(ctx context.Context, path string, value interface{}) (string, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.Memory.Push(ctx, path, value)
}
