package lockout_test

import (
	"testing"
	"time"

	"github.com/BradenHooton/lockbox/internal/lockout"
	"github.com/BradenHooton/lockbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestApplyFailure_LocksAtThreshold(t *testing.T) {
	policy := lockout.Policy{MaxAttempts: 5, Duration: 15 * time.Minute}
	acct := &models.Account{}

	for i := 1; i < 5; i++ {
		out := lockout.ApplyFailure(acct, epoch, policy)
		assert.False(t, out.Locked, "attempt %d should not lock", i)
		assert.Equal(t, i, out.Attempts)
		assert.Equal(t, lockout.Active, lockout.Evaluate(acct, epoch))
	}

	out := lockout.ApplyFailure(acct, epoch, policy)
	assert.True(t, out.Locked)
	assert.Equal(t, 5, out.Attempts)
	assert.Equal(t, epoch.Add(15*time.Minute), out.LockedUntil)
	assert.True(t, lockout.IsLocked(acct, epoch))
	assert.Equal(t, lockout.Locked, lockout.Evaluate(acct, epoch))
}

func TestIsLocked_ExpiresWithoutUnlock(t *testing.T) {
	policy := lockout.Policy{MaxAttempts: 3, Duration: 900 * time.Second}
	acct := &models.Account{}

	for i := 0; i < 3; i++ {
		lockout.ApplyFailure(acct, epoch, policy)
	}

	assert.True(t, lockout.IsLocked(acct, epoch.Add(899*time.Second)))
	assert.False(t, lockout.IsLocked(acct, epoch.Add(900*time.Second)))
	assert.False(t, lockout.IsLocked(acct, epoch.Add(time.Hour)))

	// time alone never resets the counter
	assert.Equal(t, 3, acct.FailedAttempts)
	require.NotNil(t, acct.LockedUntil)
}

func TestRemaining(t *testing.T) {
	until := epoch.Add(10 * time.Minute)
	acct := &models.Account{FailedAttempts: 5, LockedUntil: &until}

	assert.Equal(t, 10*time.Minute, lockout.Remaining(acct, epoch))
	assert.Equal(t, time.Minute, lockout.Remaining(acct, epoch.Add(9*time.Minute)))
	assert.Equal(t, time.Duration(0), lockout.Remaining(acct, epoch.Add(10*time.Minute)))
	assert.Equal(t, time.Duration(0), lockout.Remaining(&models.Account{}, epoch))
}

func TestApplyFailure_AfterExpiredLockoutRelocks(t *testing.T) {
	policy := lockout.Policy{MaxAttempts: 5, Duration: 15 * time.Minute}
	acct := &models.Account{}
	for i := 0; i < 5; i++ {
		lockout.ApplyFailure(acct, epoch, policy)
	}

	later := epoch.Add(16 * time.Minute)
	require.False(t, lockout.IsLocked(acct, later))

	out := lockout.ApplyFailure(acct, later, policy)
	assert.True(t, out.Locked)
	assert.Equal(t, 6, out.Attempts)
	assert.Equal(t, later.Add(15*time.Minute), *acct.LockedUntil)
}

func TestApplySuccess_ResetsRegardlessOfCounter(t *testing.T) {
	counters := []int{0, 1, 4, 5, 42}
	for _, c := range counters {
		until := epoch.Add(-time.Minute)
		acct := &models.Account{FailedAttempts: c, LockedUntil: &until}

		lockout.ApplySuccess(acct, epoch)

		assert.Equal(t, 0, acct.FailedAttempts)
		assert.Nil(t, acct.LockedUntil)
		require.NotNil(t, acct.LastLoginAt)
		assert.Equal(t, epoch, *acct.LastLoginAt)
		assert.Equal(t, lockout.Active, lockout.Evaluate(acct, epoch))
	}
}

func TestUnlock(t *testing.T) {
	until := epoch.Add(time.Hour)
	acct := &models.Account{FailedAttempts: 7, LockedUntil: &until}
	require.True(t, lockout.IsLocked(acct, epoch))

	lockout.Unlock(acct)

	assert.False(t, lockout.IsLocked(acct, epoch))
	assert.Equal(t, 0, acct.FailedAttempts)
	assert.Nil(t, acct.LockedUntil)
	assert.Nil(t, acct.LastLoginAt)
}

func TestPolicy_ZeroValueFallsBackToDefaults(t *testing.T) {
	acct := &models.Account{}
	for i := 0; i < lockout.DefaultMaxAttempts-1; i++ {
		out := lockout.ApplyFailure(acct, epoch, lockout.Policy{})
		assert.False(t, out.Locked)
	}

	out := lockout.ApplyFailure(acct, epoch, lockout.Policy{})
	assert.True(t, out.Locked)
	assert.Equal(t, epoch.Add(lockout.DefaultDuration), out.LockedUntil)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", lockout.Active.String())
	assert.Equal(t, "locked", lockout.Locked.String())
}
