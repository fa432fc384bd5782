package session

import "time"

// DefaultHeartbeatInterval is how often a liveness ping goes out while the
// session is active.
const DefaultHeartbeatInterval = 30 * time.Second

// heartbeat owns the liveness ticker. It runs only while the session is in
// Active or Streaming; the run loop stops it the moment the session leaves
// those states. A missed acknowledgment never forces a disconnect: the
// controlling death signal is the transport-level close.
type heartbeat struct {
	interval time.Duration
	ticker   *time.Ticker
	ch       <-chan time.Time
}

func newHeartbeat(interval time.Duration) *heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &heartbeat{interval: interval}
}

func (h *heartbeat) start() {
	if h.ticker != nil {
		return
	}
	h.ticker = time.NewTicker(h.interval)
	h.ch = h.ticker.C
}

func (h *heartbeat) stop() {
	if h.ticker == nil {
		return
	}
	h.ticker.Stop()
	h.ticker = nil
	h.ch = nil
}

// tick returns the ticker channel, or nil (blocking forever in a select)
// while the heartbeat is stopped.
func (h *heartbeat) tick() <-chan time.Time {
	return h.ch
}
