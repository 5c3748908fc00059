package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig controls the response-time floor applied to failed logins
type TimingConfig struct {
	// Floor is the minimum duration of a padded operation
	Floor time.Duration
	// Jitter adds up to this much random time on top of Floor
	Jitter time.Duration
	// DelayOnSuccess pads successful operations too
	DelayOnSuccess bool
}

// DefaultTimingConfig pads failures to at least 250ms plus up to 50ms of jitter
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		Floor:  250 * time.Millisecond,
		Jitter: 50 * time.Millisecond,
	}
}

// TimingDelay pads operations so that every failure takes roughly the same time,
// whatever path produced it (unknown account, wrong password, locked account).
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a TimingDelay
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandDuration returns a uniformly distributed duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

func (td *TimingDelay) target() time.Duration {
	return td.config.Floor + cryptoRandDuration(td.config.Jitter)
}

// Wait sleeps for the full target delay
func (td *TimingDelay) Wait(success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	time.Sleep(td.target())
}

// WaitFrom sleeps until at least the target delay has passed since start.
// Work already done since start counts toward the delay.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	td.WaitFromContext(context.Background(), start, success)
}

// WaitFromContext is WaitFrom that returns early when ctx is done
func (td *TimingDelay) WaitFromContext(ctx context.Context, start time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
