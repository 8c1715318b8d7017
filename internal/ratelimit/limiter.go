// Package ratelimit implements fixed-window request counting per protected
// surface. Counters live in a Store: MemoryStore for a single instance,
// RedisStore when several instances must share limits.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/BradenHooton/assetdesk/internal/clock"
)

// Policy is the window configuration for one protected surface
type Policy struct {
	Name   string
	Window time.Duration
	Max    int
}

// Window is the counter state after a Take
type Window struct {
	Start   time.Time
	Count   int
	Allowed bool
}

// Store counts hits per key in fixed windows. Take must not increment a
// window that has already reached p.Max.
//
// Keys may also be filed under a group so every window that belongs to one
// identifier can be dropped together, whatever client address it was keyed by.
type Store interface {
	Take(ctx context.Context, key string, p Policy, now time.Time) (Window, error)
	Reset(ctx context.Context, key string) error
	AddToGroup(ctx context.Context, group, key string, ttl time.Duration) error
	ResetGroup(ctx context.Context, group string) (int, error)
	Close() error
}

// Decision is what a surface check needs to allow or deny a request
type Decision struct {
	Allowed    bool
	Key        string
	Count      int
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

type Limiter struct {
	store Store
	clock clock.Clock
}

func NewLimiter(store Store, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{store: store, clock: clk}
}

// Allow records one hit for key under p and reports whether it fits the window
func (l *Limiter) Allow(ctx context.Context, p Policy, key string) (Decision, error) {
	now := l.clock.Now()

	w, err := l.store.Take(ctx, key, p, now)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store %s: %w", p.Name, err)
	}

	resetAt := w.Start.Add(p.Window)
	remaining := p.Max - w.Count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   w.Allowed,
		Key:       key,
		Count:     w.Count,
		Limit:     p.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !w.Allowed {
		d.RetryAfter = resetAt.Sub(now)
	}

	return d, nil
}

// AllowGrouped is Allow, and also files key under group for ResetGroup
func (l *Limiter) AllowGrouped(ctx context.Context, p Policy, key, group string) (Decision, error) {
	d, err := l.Allow(ctx, p, key)
	if err != nil || group == "" {
		return d, err
	}
	if err := l.store.AddToGroup(ctx, group, key, p.Window); err != nil {
		return d, fmt.Errorf("rate limit group %s: %w", p.Name, err)
	}
	return d, nil
}

// Reset forgets the window for key
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// ResetGroup forgets every window filed under group
func (l *Limiter) ResetGroup(ctx context.Context, group string) (int, error) {
	return l.store.ResetGroup(ctx, group)
}

// ResetLogin drops the login windows of identifier from every client address.
// Called when an account is unlocked or logs in cleanly.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if _, err := l.store.ResetGroup(ctx, LoginGroup(identifier)); err != nil {
		return fmt.Errorf("reset login windows: %w", err)
	}
	return nil
}
