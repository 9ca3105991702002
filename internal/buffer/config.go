package buffer

import "time"

// Config holds the per-gateway buffer and flush tunables from spec §4.6.
// Zero-value fields are filled in by DefaultConfig.
type Config struct {
	MaxBufferBytes      int
	MaxBufferAgeMs       int64
	MaxPushPayloadBytes  int
	MaxDeltasPerPush     int
	MaxPullLimit         int
	DefaultPullLimit     int
	BackpressureHighWaterBytes int // 0 means "equal to MaxBufferBytes"
	BaseRetryBackoff     time.Duration
	MaxRetryBackoff      time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxBufferBytes:      4 * 1024 * 1024,
		MaxBufferAgeMs:       30_000,
		MaxPushPayloadBytes:  1024 * 1024,
		MaxDeltasPerPush:     10_000,
		MaxPullLimit:         10_000,
		DefaultPullLimit:     100,
		BaseRetryBackoff:     1000 * time.Millisecond,
		MaxRetryBackoff:      30_000 * time.Millisecond,
	}
}

// HighWaterBytes returns the backpressure threshold: the configured
// override, or MaxBufferBytes when no override was set.
func (c Config) HighWaterBytes() int {
	if c.BackpressureHighWaterBytes > 0 {
		return c.BackpressureHighWaterBytes
	}
	return c.MaxBufferBytes
}
