package background

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/assetdesk/internal/auth"
	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAttemptPurger struct {
	mu        sync.Mutex
	calls     int
	retention time.Duration
	err       error
}

func (f *fakeAttemptPurger) PurgeAttempts(_ context.Context, retention time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.retention = retention
	return 3, f.err
}

func (f *fakeAttemptPurger) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEventPurger struct {
	cutoff time.Time
	calls  int
}

func (f *fakeEventPurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 1, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_PurgesWithRetention(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	attempts := &fakeAttemptPurger{}
	events := &fakeEventPurger{}

	cm := NewCleanupManager(attempts, events, nil, clock.NewFake(now), CleanupConfig{
		Interval:         time.Hour,
		AttemptRetention: 24 * time.Hour,
		EventRetention:   90 * 24 * time.Hour,
	}, discardLogger())
	cm.RunOnce(context.Background())

	assert.Equal(t, 1, attempts.Calls())
	assert.Equal(t, 24*time.Hour, attempts.retention)
	assert.Equal(t, 1, events.calls)
	assert.Equal(t, now.Add(-90*24*time.Hour), events.cutoff)
}

func TestRunOnce_ZeroEventRetentionKeepsEvents(t *testing.T) {
	events := &fakeEventPurger{}
	cm := NewCleanupManager(&fakeAttemptPurger{}, events, nil, nil, CleanupConfig{
		Interval:         time.Hour,
		AttemptRetention: time.Hour,
	}, discardLogger())
	cm.RunOnce(context.Background())

	assert.Zero(t, events.calls)
}

func TestRunOnce_FailureDoesNotStopSweeps(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	windows := ratelimit.NewMemoryStore()
	_, err := windows.Take(context.Background(), "login:a", ratelimit.Policy{Name: "login", Window: time.Minute, Max: 5}, clk.Now())
	require.NoError(t, err)

	sessions := auth.NewMemorySessionStore(clk)
	require.NoError(t, sessions.Save(context.Background(), &auth.Session{
		ID: "s1", CreatedAt: clk.Now(), ExpiresAt: clk.Now().Add(time.Minute),
	}))

	clk.Advance(2 * time.Minute)

	cm := NewCleanupManager(&fakeAttemptPurger{err: assert.AnError}, nil, nil, clk, CleanupConfig{
		Interval:         time.Hour,
		AttemptRetention: time.Hour,
	}, discardLogger())
	cm.AddSweeper("rate_limit_windows", windows)
	swept := &countingSweeper{next: sessions}
	cm.AddSweeper("sessions", swept)
	cm.RunOnce(context.Background())

	assert.Zero(t, windows.Len())
	assert.Equal(t, 1, swept.removed)
}

type countingSweeper struct {
	next    Sweeper
	removed int
}

func (c *countingSweeper) Sweep(now time.Time) int {
	n := c.next.Sweep(now)
	c.removed += n
	return n
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	attempts := &fakeAttemptPurger{}
	cm := NewCleanupManager(attempts, nil, nil, nil, CleanupConfig{
		Interval:         time.Hour,
		AttemptRetention: time.Hour,
	}, discardLogger())

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return attempts.Calls() == 1 }, time.Second, 5*time.Millisecond)

	cm.Stop()
	cm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	cm := NewCleanupManager(&fakeAttemptPurger{}, nil, nil, nil, CleanupConfig{
		Interval:         time.Hour,
		AttemptRetention: time.Hour,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager ignored context cancellation")
	}
}
