package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/metrics"
)

// AttemptPurger removes ledger rows past the retention window
type AttemptPurger interface {
	PurgeAttempts(ctx context.Context, retention time.Duration) (int64, error)
}

// EventPurger removes persisted security events written before cutoff
type EventPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper drops expired in-memory entries (rate-limit windows, sessions)
type Sweeper interface {
	Sweep(now time.Time) int
}

// CleanupConfig holds the maintenance schedule and retention windows
type CleanupConfig struct {
	Interval         time.Duration
	AttemptRetention time.Duration
	// EventRetention of zero keeps security events forever
	EventRetention time.Duration
	Timeout        time.Duration
}

type namedSweeper struct {
	name    string
	sweeper Sweeper
}

// CleanupManager periodically purges the attempt ledger and old security
// events, and sweeps expired in-memory state
type CleanupManager struct {
	attempts AttemptPurger
	events   EventPurger
	sweepers []namedSweeper
	metrics  *metrics.Metrics
	clock    clock.Clock
	logger   *slog.Logger
	config   CleanupConfig

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. events may be nil.
func NewCleanupManager(
	attempts AttemptPurger,
	events EventPurger,
	m *metrics.Metrics,
	clk clock.Clock,
	config CleanupConfig,
	logger *slog.Logger,
) *CleanupManager {
	if clk == nil {
		clk = clock.Real{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &CleanupManager{
		attempts: attempts,
		events:   events,
		metrics:  m,
		clock:    clk,
		logger:   logger,
		config:   config,
		stopCh:   make(chan struct{}),
	}
}

// AddSweeper registers in-memory state to sweep on every run. Call before Start.
func (cm *CleanupManager) AddSweeper(name string, s Sweeper) {
	cm.sweepers = append(cm.sweepers, namedSweeper{name: name, sweeper: s})
}

// Start runs a cleanup immediately, then on every interval until ctx is
// cancelled or Stop is called
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.config.Interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs one maintenance pass. Failures are logged and the
// remaining steps still run.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.config.Timeout)
	defer cancel()

	if cm.attempts != nil && cm.config.AttemptRetention > 0 {
		n, err := cm.attempts.PurgeAttempts(cleanupCtx, cm.config.AttemptRetention)
		cm.report(ctx, "login_attempts", n, err)
	}

	if cm.events != nil && cm.config.EventRetention > 0 {
		n, err := cm.events.PurgeOlderThan(cleanupCtx, cm.clock.Now().Add(-cm.config.EventRetention))
		cm.report(ctx, "security_events", n, err)
	}

	now := cm.clock.Now()
	for _, s := range cm.sweepers {
		cm.report(ctx, s.name, int64(s.sweeper.Sweep(now)), nil)
	}
}

func (cm *CleanupManager) report(ctx context.Context, target string, n int64, err error) {
	if err != nil {
		cm.logger.ErrorContext(ctx, "cleanup failed",
			slog.String("target", target),
			slog.Any("error", err),
		)
		return
	}

	cm.metrics.ObservePurged(target, n)
	if n > 0 {
		cm.logger.InfoContext(ctx, "cleanup completed",
			slog.String("target", target),
			slog.Int64("rows_deleted", n),
		)
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
