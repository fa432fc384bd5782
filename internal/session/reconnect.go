package session

import "time"

// Defaults for the reconnect policy.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// BackoffConfig bounds the automatic reconnect policy.
type BackoffConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Reconnector tracks consecutive automatic reconnection attempts and
// computes the bounded exponential backoff delay for each.
type Reconnector struct {
	cfg     BackoffConfig
	attempt int
}

func NewReconnector(cfg BackoffConfig) *Reconnector {
	return &Reconnector{cfg: cfg.withDefaults()}
}

// Next returns the delay before the next automatic attempt, computed as
// baseDelay * 2^attempt, and advances the counter. It returns false once
// the attempt ceiling is reached; no further attempt may be scheduled
// until Reset.
func (r *Reconnector) Next() (time.Duration, bool) {
	if r.attempt >= r.cfg.MaxAttempts {
		return 0, false
	}
	delay := r.cfg.BaseDelay * time.Duration(1<<uint(r.attempt))
	r.attempt++
	return delay, true
}

// Reset clears the attempt counter. Called on a manual reconnect request
// and after a connection stays open past one full heartbeat interval.
func (r *Reconnector) Reset() {
	r.attempt = 0
}

// Attempt returns the number of automatic attempts made since the last
// reset.
func (r *Reconnector) Attempt() int {
	return r.attempt
}
