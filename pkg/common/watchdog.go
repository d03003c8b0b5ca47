package common

import (
	"sync"
	"time"
)

// Watchdog fires a callback when no activity has been reported for a given
// timeout. The relay attaches one to each signaling connection so that a
// silently dead socket does not keep a ghost participant in the meeting.
type Watchdog struct {
	timeout   time.Duration
	onTimeout func()

	channel chan struct{}
	mutex   sync.Mutex
	closed  bool
}

func NewWatchdog(timeout time.Duration, onTimeout func()) *Watchdog {
	return &Watchdog{
		timeout:   timeout,
		onTimeout: onTimeout,
		channel:   make(chan struct{}, UnboundedChannelSize),
	}
}

// Starts the watchdog loop. The returned channel is closed when the loop has
// terminated, i.e. after Close.
func (w *Watchdog) Start() <-chan struct{} {
	terminated := make(chan struct{})

	go func() {
		defer close(terminated)
		for {
			select {
			case _, ok := <-w.channel:
				if !ok {
					return
				}
			case <-time.After(w.timeout):
				w.onTimeout()
			}
		}
	}()

	return terminated
}

// Notify reports activity, resetting the timeout. Returns false once the
// watchdog is closed.
func (w *Watchdog) Notify() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return false
	}

	w.channel <- struct{}{}
	return true
}

// Close stops the watchdog. Safe to call multiple times.
func (w *Watchdog) Close() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}
