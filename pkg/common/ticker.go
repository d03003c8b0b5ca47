package common

import "time"

// Ticker is the periodic tick source that drives sensor sampling and the
// attention fusion loop. All time-based components receive their ticks
// through this interface so that tests can drive them with a manual clock.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker for a given interval.
type TickerFactory func(interval time.Duration) Ticker

// NewTicker is the production factory backed by time.Ticker.
func NewTicker(interval time.Duration) Ticker {
	return &realTicker{time.NewTicker(interval)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) Chan() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()                  { t.ticker.Stop() }

// ManualTicker is a hand-driven tick source for deterministic tests.
// Each call to Tick delivers the given instant to the consumer.
type ManualTicker struct {
	ch chan time.Time
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time, UnboundedChannelSize)}
}

func (t *ManualTicker) Chan() <-chan time.Time { return t.ch }
func (t *ManualTicker) Stop()                  {}

// Tick queues a tick carrying the given timestamp. The timestamp is what the
// consumer treats as "now", which makes dwell and debounce logic reproducible.
func (t *ManualTicker) Tick(now time.Time) {
	t.ch <- now
}
