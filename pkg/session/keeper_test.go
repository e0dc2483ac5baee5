package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kagent-dev/jamf-agent/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, id string) (*Session, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, s *Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStore) Touch(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockStore) List(ctx context.Context, limit int) ([]*Session, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*Session), args.Error(1)
}

func (m *MockStore) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

func TestDeriveID(t *testing.T) {
	assert.Equal(t, "U123_C456", DeriveID("U123", "C456"))
}

func TestResolveOrCreate_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	keeper := NewKeeper(store, WithClock(clock.Now))

	first := keeper.ResolveOrCreate(ctx, "U1", "C1")
	assert.Equal(t, "U1_C1", first)

	clock.Set(start.Add(time.Minute))
	second := keeper.ResolveOrCreate(ctx, "U1", "C1")
	assert.Equal(t, first, second)

	sessions, err := keeper.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, start, sessions[0].CreatedAt)
	assert.Equal(t, start.Add(time.Minute), sessions[0].LastAccessed)
}

func TestResolveOrCreate_LastAccessedNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	keeper := NewKeeper(store, WithClock(clock.Now))

	keeper.ResolveOrCreate(ctx, "U1", "C1")
	clock.Set(start.Add(-time.Hour))
	keeper.ResolveOrCreate(ctx, "U1", "C1")

	s, err := store.Get(ctx, "U1_C1")
	require.NoError(t, err)
	assert.Equal(t, start, s.LastAccessed)
}

func TestResolveOrCreate_DistinctPairs(t *testing.T) {
	ctx := context.Background()
	keeper := NewKeeper(NewMemoryStore())

	a := keeper.ResolveOrCreate(ctx, "U1", "C1")
	b := keeper.ResolveOrCreate(ctx, "U1", "C2")
	assert.NotEqual(t, a, b)
}

func TestResolveOrCreate_DegradedStore(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*MockStore)
	}{
		{
			name: "read fails",
			setup: func(s *MockStore) {
				s.On("Get", mock.Anything, "U1_C1").Return(nil, errors.New("connection refused"))
			},
		},
		{
			name: "create fails",
			setup: func(s *MockStore) {
				s.On("Get", mock.Anything, "U1_C1").Return(nil, ErrNotFound)
				s.On("Create", mock.Anything, mock.Anything).Return(errors.New("disk full"))
			},
		},
		{
			name: "touch fails",
			setup: func(s *MockStore) {
				s.On("Get", mock.Anything, "U1_C1").Return(&Session{ID: "U1_C1"}, nil)
				s.On("Touch", mock.Anything, "U1_C1", mock.Anything).Return(errors.New("timeout"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			tt.setup(store)
			m := metrics.New()
			keeper := NewKeeper(store, WithMetrics(m))

			id := keeper.ResolveOrCreate(context.Background(), "U1", "C1")

			assert.Equal(t, "U1_C1", id)
			store.AssertExpectations(t)
			expected := `
# HELP jamf_agent_session_store_degraded_total Session resolutions that fell back to a non-persisted id.
# TYPE jamf_agent_session_store_degraded_total counter
jamf_agent_session_store_degraded_total 1
`
			assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "jamf_agent_session_store_degraded_total"))
		})
	}
}

func TestResolveOrCreate_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	keeper := NewKeeper(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "U1_C1", keeper.ResolveOrCreate(ctx, "U1", "C1"))
		}()
	}
	wg.Wait()

	sessions, err := keeper.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestEphemeralID(t *testing.T) {
	keeper := NewKeeper(NewMemoryStore())
	a, b := keeper.EphemeralID(), keeper.EphemeralID()
	assert.Contains(t, a, "session_")
	assert.NotEqual(t, a, b)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	keeper := NewKeeper(store, WithClock(clock.Now), WithTTL(time.Hour))

	keeper.ResolveOrCreate(ctx, "U1", "stale")
	clock.Set(start.Add(90 * time.Minute))
	keeper.ResolveOrCreate(ctx, "U1", "fresh")

	n, err := keeper.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "U1_stale")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "U1_fresh")
	assert.NoError(t, err)
}

func TestPrune_Disabled(t *testing.T) {
	store := new(MockStore)
	keeper := NewKeeper(store)

	n, err := keeper.Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	store.AssertNotCalled(t, "DeleteIdleSince", mock.Anything, mock.Anything)
}
