package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/assetdesk/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIdentifierFunc func(ctx context.Context, identifier string) (*models.User, error)
}

func (m *MockUserRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	if m.GetByIdentifierFunc != nil {
		return m.GetByIdentifierFunc(ctx, identifier)
	}
	return nil, models.ErrNotFound
}

// MemoryLoginAttemptRepository is an in-memory attempt ledger for tests
type MemoryLoginAttemptRepository struct {
	mu       sync.Mutex
	Attempts []models.LoginAttempt

	// Err, when set, is returned by every call
	Err error
}

func (r *MemoryLoginAttemptRepository) RecordAttempt(_ context.Context, attempt *models.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Attempts = append(r.Attempts, *attempt)
	return nil
}

func (r *MemoryLoginAttemptRepository) CountRecentFailures(_ context.Context, identifier string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	count := 0
	for _, a := range r.Attempts {
		if strings.EqualFold(a.Identifier, identifier) && a.AttemptType == models.AttemptFailed && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryLoginAttemptRepository) Clear(_ context.Context, identifier string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	kept := r.Attempts[:0]
	var removed int64
	for _, a := range r.Attempts {
		if strings.EqualFold(a.Identifier, identifier) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	r.Attempts = kept
	return removed, nil
}

func (r *MemoryLoginAttemptRepository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	kept := r.Attempts[:0]
	var removed int64
	for _, a := range r.Attempts {
		if a.AttemptTime.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	r.Attempts = kept
	return removed, nil
}

// Count returns the number of stored attempts
func (r *MemoryLoginAttemptRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Attempts)
}

// MemoryAccountLockoutRepository mirrors the SQL upsert semantics in memory
type MemoryAccountLockoutRepository struct {
	mu   sync.Mutex
	Rows map[string]*models.AccountLockout

	Err error
}

func NewMemoryAccountLockoutRepository() *MemoryAccountLockoutRepository {
	return &MemoryAccountLockoutRepository{Rows: make(map[string]*models.AccountLockout)}
}

func (r *MemoryAccountLockoutRepository) GetActive(_ context.Context, identifier string, now time.Time) (*models.AccountLockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	row, ok := r.Rows[identifier]
	if !ok || !row.IsActive(now) {
		return nil, models.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryAccountLockoutRepository) Upsert(_ context.Context, identifier string, now, until time.Time, reason models.LockoutReason) (*models.AccountLockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}

	row, ok := r.Rows[identifier]
	switch {
	case !ok:
		row = &models.AccountLockout{Identifier: identifier, LockedAt: now, LockedUntil: until, AttemptCount: 1}
		r.Rows[identifier] = row
	case row.LockedUntil.After(now):
		if until.After(row.LockedUntil) {
			row.LockedUntil = until
		}
	default:
		row.LockedAt = now
		row.LockedUntil = until
		row.AttemptCount++
	}
	row.Reason = reason

	cp := *row
	return &cp, nil
}

func (r *MemoryAccountLockoutRepository) Delete(_ context.Context, identifier string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	_, ok := r.Rows[identifier]
	delete(r.Rows, identifier)
	return ok, nil
}

func (r *MemoryAccountLockoutRepository) ListActive(_ context.Context, now time.Time) ([]*models.AccountLockout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]*models.AccountLockout, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.IsActive(now) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockedUntil.After(out[j].LockedUntil) })
	return out, nil
}

// LoggedEvent is one call captured by RecordingEventLogger
type LoggedEvent struct {
	Kind     string
	Severity models.Severity
	Fields   map[string]interface{}
}

// RecordingEventLogger captures security events for assertions
type RecordingEventLogger struct {
	mu     sync.Mutex
	Events []LoggedEvent
}

func (l *RecordingEventLogger) LogEvent(_ context.Context, kind string, severity models.Severity, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Events = append(l.Events, LoggedEvent{Kind: kind, Severity: severity, Fields: fields})
}

// Kinds returns the kinds logged so far, in order
func (l *RecordingEventLogger) Kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]string, len(l.Events))
	for i, e := range l.Events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Last returns the most recent event, or false if none
func (l *RecordingEventLogger) Last() (LoggedEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Events) == 0 {
		return LoggedEvent{}, false
	}
	return l.Events[len(l.Events)-1], true
}

// MockSecurityEventRepository implements SecurityEventRepository for testing
type MockSecurityEventRepository struct {
	CreateFunc func(ctx context.Context, ev *models.SecurityEvent) error
	Created    []*models.SecurityEvent
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, ev *models.SecurityEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, ev)
	}
	m.Created = append(m.Created, ev)
	return nil
}
