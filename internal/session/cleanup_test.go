package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

// countingSweeper records how many sweeps ran and whether their context was live
type countingSweeper struct {
	mu        sync.Mutex
	calls     int
	liveCalls int
	err       error
	firstCall chan struct{}
}

func newCountingSweeper(err error) *countingSweeper {
	return &countingSweeper{err: err, firstCall: make(chan struct{})}
}

func (s *countingSweeper) DeleteExpired(ctx context.Context, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if ctx.Err() == nil {
		s.liveCalls++
	}
	if s.calls == 1 {
		close(s.firstCall)
	}
	return 0, s.err
}

func (s *countingSweeper) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.liveCalls
}

func TestCleaner_SweepsOnStartAndStop(t *testing.T) {
	sweeper := new(mockSweeper)
	sweeper.On("DeleteExpired", mock.Anything, mock.Anything).Return(0, nil)

	c := NewCleaner(sweeper, time.Hour)
	c.Start(context.Background())
	c.Stop()

	sweeper.AssertNumberOfCalls(t, "DeleteExpired", 2)
}

func TestCleaner_FinalSweepAfterCancel(t *testing.T) {
	sweeper := newCountingSweeper(nil)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewCleaner(sweeper, time.Hour)
	c.Start(ctx)
	<-sweeper.firstCall
	cancel()
	<-c.doneChan

	calls, live := sweeper.counts()
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, live, "final sweep runs on a context detached from cancellation")
}

func TestCleaner_ErrorsDoNotStopLoop(t *testing.T) {
	sweeper := newCountingSweeper(errors.New("unavailable"))

	c := NewCleaner(sweeper, 10*time.Millisecond)
	c.Start(context.Background())
	require.Eventually(t, func() bool {
		calls, _ := sweeper.counts()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)
	c.Stop()
}

func TestCleaner_MemoryStore(t *testing.T) {
	store, err := NewMemoryStore(testEncryptor(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("stale", time.Minute)))
	require.NoError(t, store.Save(ctx, testRecord("live", time.Hour)))

	c := NewCleaner(store, time.Hour)
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	c.Start(ctx)
	c.Stop()

	assert.Equal(t, 1, store.Len())
}
