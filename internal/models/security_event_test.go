package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityContext_ScanBytes(t *testing.T) {
	var sc SecurityContext
	err := sc.Scan([]byte(`{"path":"/auth/login","hits":6}`))

	require.NoError(t, err)
	assert.Equal(t, "/auth/login", sc["path"])
	assert.Equal(t, float64(6), sc["hits"])
}

func TestSecurityContext_ScanNil(t *testing.T) {
	var sc SecurityContext
	require.NoError(t, sc.Scan(nil))
	assert.NotNil(t, sc)
	assert.Empty(t, sc)
}

func TestSecurityContext_ScanUnsupportedType(t *testing.T) {
	var sc SecurityContext
	assert.ErrorIs(t, sc.Scan(42), ErrBadRequest)
}

func TestSecurityContext_ValueNil(t *testing.T) {
	var sc SecurityContext
	v, err := sc.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)
}

func TestAccountLockout_IsActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lock := &AccountLockout{
		Identifier:  "a@x.com",
		LockedAt:    now.Add(-10 * time.Minute),
		LockedUntil: now.Add(20 * time.Minute),
	}

	assert.True(t, lock.IsActive(now))
	assert.Equal(t, 20*time.Minute, lock.Remaining(now))

	// locked_until == now is no longer active
	assert.False(t, lock.IsActive(now.Add(20*time.Minute)))
	assert.Equal(t, time.Duration(0), lock.Remaining(now.Add(time.Hour)))

	var none *AccountLockout
	assert.False(t, none.IsActive(now))
}
