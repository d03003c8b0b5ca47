package common

import (
	"time"
)

type Pong struct{}

// Heartbeat keeps an eye on the liveness of a duplex connection by sending
// periodic pings and expecting a pong for each of them within a timeout.
type Heartbeat struct {
	// How often to send pings.
	Interval time.Duration
	// After which time to consider the communication stalled.
	Timeout time.Duration
	// Called when a ping is due. Returns false if the ping could not be sent.
	SendPing func() bool
	// Called once Timeout is reached without a pong.
	OnTimeout func()
}

// Starts the heartbeat loop. The returned channel is where the caller reports
// received pongs. The loop stops once the channel is closed or after the
// first missed pong (OnTimeout fires exactly once).
func (h *Heartbeat) Start() chan<- Pong {
	pong := make(chan Pong, UnboundedChannelSize)

	go func() {
		ticker := time.NewTicker(h.Interval)
		defer ticker.Stop()

		for range ticker.C {
			if !h.sendWithRetry() {
				return
			}

			select {
			case <-time.After(h.Timeout):
				h.OnTimeout()
				return
			case _, ok := <-pong:
				if !ok {
					return
				}
			}
		}
	}()

	return pong
}

func (h *Heartbeat) sendWithRetry() bool {
	const retries = 3
	retryInterval := h.Timeout / retries

	for i := 0; i < retries; i++ {
		if !h.SendPing() {
			time.Sleep(retryInterval)
			continue
		}
		return true
	}

	return false
}
