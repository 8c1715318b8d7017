package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lockoutStart = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type lockoutFixture struct {
	svc      *LockoutService
	attempts *MemoryLoginAttemptRepository
	lockouts *MemoryAccountLockoutRepository
	events   *RecordingEventLogger
	clock    *clock.Fake
}

func newLockoutFixture(mutate func(*LockoutConfig)) *lockoutFixture {
	f := &lockoutFixture{
		attempts: &MemoryLoginAttemptRepository{},
		lockouts: NewMemoryAccountLockoutRepository(),
		events:   &RecordingEventLogger{},
		clock:    clock.NewFake(lockoutStart),
	}
	cfg := DefaultLockoutConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f.svc = NewLockoutService(f.attempts, f.lockouts, f.events, nil, f.clock, cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

var testRC = models.RequestContext{IPAddress: "1.2.3.4", UserAgent: "test-agent"}

func (f *lockoutFixture) fail(t *testing.T, identifier string, n int) *models.FailedAttemptResult {
	t.Helper()
	var res *models.FailedAttemptResult
	for i := 0; i < n; i++ {
		var err error
		res, err = f.svc.RecordFailedAttempt(context.Background(), identifier, testRC)
		require.NoError(t, err)
	}
	return res
}

func TestLockout_ThresholdBoundary(t *testing.T) {
	f := newLockoutFixture(nil)
	ctx := context.Background()

	res := f.fail(t, "a@x.com", 4)
	assert.False(t, res.Locked)
	assert.Equal(t, 4, res.FailedCount)
	assert.Equal(t, 1, res.RemainingAttempts)

	status, err := f.svc.IsLocked(ctx, "a@x.com")
	require.NoError(t, err)
	assert.False(t, status.Locked)

	res = f.fail(t, "a@x.com", 1)
	assert.True(t, res.Locked)
	assert.Equal(t, 30*time.Minute, res.LockoutDuration)
	assert.Equal(t, 1, res.AttemptCount)
	require.NotNil(t, res.LockedUntil)
	assert.Equal(t, lockoutStart.Add(30*time.Minute), *res.LockedUntil)

	status, err = f.svc.IsLocked(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Equal(t, 1, status.AttemptCount)

	assert.Contains(t, f.events.Kinds(), models.EventAccountLocked)
}

func TestLockout_ThresholdForAnyMax(t *testing.T) {
	for _, max := range []int{1, 3, 5, 10} {
		f := newLockoutFixture(func(c *LockoutConfig) { c.MaxAttempts = max })
		ctx := context.Background()

		if max > 1 {
			f.fail(t, "id", max-1)
			status, err := f.svc.IsLocked(ctx, "id")
			require.NoError(t, err)
			assert.False(t, status.Locked, "max=%d after max-1 failures", max)
		}

		f.fail(t, "id", 1)
		status, err := f.svc.IsLocked(ctx, "id")
		require.NoError(t, err)
		assert.True(t, status.Locked, "max=%d after max failures", max)
	}
}

func TestLockout_FailuresOutsideLookbackDoNotCount(t *testing.T) {
	f := newLockoutFixture(nil)

	f.fail(t, "a@x.com", 4)
	f.clock.Advance(61 * time.Minute)

	res := f.fail(t, "a@x.com", 1)
	assert.False(t, res.Locked)
	assert.Equal(t, 1, res.FailedCount)
}

func TestLockout_ExpiresWithoutUnlock(t *testing.T) {
	f := newLockoutFixture(nil)
	ctx := context.Background()

	f.fail(t, "a@x.com", 5)

	f.clock.Advance(29 * time.Minute)
	status, _ := f.svc.IsLocked(ctx, "a@x.com")
	assert.True(t, status.Locked)

	f.clock.Advance(time.Minute)
	status, _ = f.svc.IsLocked(ctx, "a@x.com")
	assert.False(t, status.Locked, "locked_until is exclusive")
}

func TestLockout_RepeatLockoutIncrementsAttemptCount(t *testing.T) {
	f := newLockoutFixture(nil)

	f.fail(t, "a@x.com", 5)
	f.clock.Advance(31 * time.Minute)

	// Earlier failures are still inside the hour, so the next one relocks
	res := f.fail(t, "a@x.com", 1)
	assert.True(t, res.Locked)
	assert.Equal(t, 2, res.AttemptCount)
}

func TestLockout_IdentifierCaseIsFolded(t *testing.T) {
	f := newLockoutFixture(nil)

	f.fail(t, "A@X.com", 3)
	f.fail(t, "a@x.COM", 2)

	status, err := f.svc.IsLocked(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Len(t, f.lockouts.Rows, 1)
}

func TestLockout_SuccessfulLoginClearsEverything(t *testing.T) {
	for _, failures := range []int{0, 2, 5, 9} {
		f := newLockoutFixture(nil)
		ctx := context.Background()

		if failures > 0 {
			f.fail(t, "a@x.com", failures)
		}
		f.svc.RecordSuccessfulLogin(ctx, "a@x.com", testRC)

		status, err := f.svc.IsLocked(ctx, "a@x.com")
		require.NoError(t, err)
		assert.False(t, status.Locked)

		count, err := f.svc.CountRecentFailures(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		// the success itself is kept in the ledger
		assert.Equal(t, 1, f.attempts.Count())
	}
}

// Scenario: administrator unlocks, next correct login clears the ledger
func TestLockout_AdminUnlock(t *testing.T) {
	f := newLockoutFixture(nil)
	ctx := context.Background()

	f.fail(t, "a@x.com", 5)

	removed, err := f.svc.Unlock(ctx, "a@x.com", "admin-1")
	require.NoError(t, err)
	assert.True(t, removed)

	status, _ := f.svc.IsLocked(ctx, "a@x.com")
	assert.False(t, status.Locked)

	last, ok := f.events.Last()
	require.True(t, ok)
	assert.Equal(t, models.EventAdminUnlock, last.Kind)
	assert.Equal(t, models.SeverityInfo, last.Severity)

	removed, err = f.svc.Unlock(ctx, "a@x.com", "admin-1")
	require.NoError(t, err)
	assert.False(t, removed)

	f.svc.RecordSuccessfulLogin(ctx, "a@x.com", testRC)
	count, _ := f.svc.CountRecentFailures(ctx, "a@x.com")
	assert.Equal(t, 0, count)
}

type recordingThrottle struct {
	mu    sync.Mutex
	reset []string
	err   error
}

func (r *recordingThrottle) ResetLogin(_ context.Context, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset = append(r.reset, identifier)
	return r.err
}

func TestLockout_UnlockAndCleanLoginResetThrottle(t *testing.T) {
	f := newLockoutFixture(nil)
	throttle := &recordingThrottle{}
	f.svc.SetLoginThrottle(throttle)
	ctx := context.Background()

	f.fail(t, "a@x.com", 5)
	assert.Empty(t, throttle.reset)

	_, err := f.svc.Unlock(ctx, "a@x.com", "admin-1")
	require.NoError(t, err)
	f.svc.RecordSuccessfulLogin(ctx, "a@x.com", testRC)

	assert.Equal(t, []string{"a@x.com", "a@x.com"}, throttle.reset)
}

func TestLockout_ThrottleResetFailureIsNonFatal(t *testing.T) {
	f := newLockoutFixture(nil)
	f.svc.SetLoginThrottle(&recordingThrottle{err: errors.New("redis down")})
	ctx := context.Background()

	f.fail(t, "a@x.com", 5)

	removed, err := f.svc.Unlock(ctx, "a@x.com", "admin-1")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestLockout_ListActive(t *testing.T) {
	f := newLockoutFixture(nil)
	ctx := context.Background()

	f.fail(t, "a@x.com", 5)
	f.clock.Advance(10 * time.Minute)
	f.fail(t, "b@x.com", 5)

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "b@x.com", active[0].Identifier)

	f.clock.Advance(25 * time.Minute)
	active, err = f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b@x.com", active[0].Identifier)
}

func TestLockout_ConcurrentFailuresProduceOneRow(t *testing.T) {
	f := newLockoutFixture(nil)
	f.fail(t, "a@x.com", 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.RecordFailedAttempt(context.Background(), "a@x.com", testRC)
		}()
	}
	wg.Wait()

	require.Len(t, f.lockouts.Rows, 1)
	assert.Equal(t, 1, f.lockouts.Rows["a@x.com"].AttemptCount)
}

func TestLockout_LedgerWriteFailureIsNonFatal(t *testing.T) {
	f := newLockoutFixture(nil)
	ledger := &flakyLedger{MemoryLoginAttemptRepository: f.attempts, failWrites: true}
	f.svc.attempts = ledger

	res, err := f.svc.RecordFailedAttempt(context.Background(), "a@x.com", testRC)
	require.NoError(t, err)
	assert.False(t, res.Locked)
	assert.Equal(t, 0, res.FailedCount)

	last, _ := f.events.Last()
	assert.Equal(t, models.EventLedgerWriteFailed, last.Kind)
	assert.Equal(t, models.SeverityError, last.Severity)
}

func TestLockout_CountFailureReturnsError(t *testing.T) {
	f := newLockoutFixture(nil)
	f.attempts.Err = errors.New("timeout")

	_, err := f.svc.RecordFailedAttempt(context.Background(), "a@x.com", testRC)
	require.Error(t, err)
	assert.Contains(t, f.events.Kinds(), models.EventLockoutCheckFailed)
}

// Store outages fail open unless configured otherwise
func TestLockout_IsLocked_StoreUnavailable(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		f := newLockoutFixture(nil)
		f.lockouts.Err = errors.New("connection refused")

		status, err := f.svc.IsLocked(context.Background(), "a@x.com")
		require.NoError(t, err)
		assert.False(t, status.Locked)

		last, _ := f.events.Last()
		assert.Equal(t, models.EventLockoutCheckFailed, last.Kind)
		assert.Equal(t, models.SeverityError, last.Severity)
		assert.Equal(t, false, last.Fields["fail_closed"])
	})

	t.Run("fail closed", func(t *testing.T) {
		f := newLockoutFixture(func(c *LockoutConfig) { c.FailClosed = true })
		f.lockouts.Err = errors.New("connection refused")

		_, err := f.svc.IsLocked(context.Background(), "a@x.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrLockoutUnavailable)

		last, _ := f.events.Last()
		assert.Equal(t, models.SeverityError, last.Severity)
	})
}

func TestLockout_QueryTimeoutIsApplied(t *testing.T) {
	f := newLockoutFixture(func(c *LockoutConfig) { c.QueryTimeout = 50 * time.Millisecond })
	f.svc.lockouts = &deadlineCheckingLockouts{MemoryAccountLockoutRepository: f.lockouts, t: t}

	_, err := f.svc.IsLocked(context.Background(), "a@x.com")
	require.NoError(t, err)
}

func TestLockout_PurgeAttempts(t *testing.T) {
	f := newLockoutFixture(nil)
	f.fail(t, "a@x.com", 2)
	f.clock.Advance(25 * time.Hour)
	f.fail(t, "b@x.com", 1)

	removed, err := f.svc.PurgeAttempts(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, 1, f.attempts.Count())
}

type flakyLedger struct {
	*MemoryLoginAttemptRepository
	failWrites bool
}

func (l *flakyLedger) RecordAttempt(ctx context.Context, a *models.LoginAttempt) error {
	if l.failWrites {
		return errors.New("disk full")
	}
	return l.MemoryLoginAttemptRepository.RecordAttempt(ctx, a)
}

type deadlineCheckingLockouts struct {
	*MemoryAccountLockoutRepository
	t *testing.T
}

func (d *deadlineCheckingLockouts) GetActive(ctx context.Context, identifier string, now time.Time) (*models.AccountLockout, error) {
	_, ok := ctx.Deadline()
	assert.True(d.t, ok, "store call should carry a deadline")
	return d.MemoryAccountLockoutRepository.GetActive(ctx, identifier, now)
}
