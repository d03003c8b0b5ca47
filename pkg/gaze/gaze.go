package gaze

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// A single gaze estimate in screen coordinates. Samples are ephemeral:
// the signal keeps only the most recent one, there is no queue.
type Sample struct {
	X, Y float64
	At   time.Time
}

// An axis-aligned screen rectangle, typically a participant's video tile.
type Rect struct {
	X, Y, Width, Height float64
}

func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Estimator is the black-box gaze estimation feed. It pushes raw screen
// coordinates through the callback handed to Start and accepts calibration
// samples keyed by screen coordinate.
type Estimator interface {
	Start(onSample func(Sample)) error
	Stop()
	RecordSample(x, y float64)
}

// Signal wraps the estimator feed and answers the only question the fusion
// engine asks: which registered screen region does the user look at right now.
type Signal struct {
	logger    *logrus.Entry
	estimator Estimator

	mutex      sync.Mutex
	available  bool
	calibrated bool
	latest     *Sample
}

func NewSignal(estimator Estimator, logger *logrus.Entry) *Signal {
	return &Signal{
		logger:    logger,
		estimator: estimator,
	}
}

// Init establishes the estimator feed. A false return means gaze estimation
// is unavailable for the rest of the session: the caller must treat it as a
// permanently degraded mode, not as an error to retry.
func (s *Signal) Init() bool {
	if err := s.estimator.Start(s.onSample); err != nil {
		s.logger.WithError(err).Warn("gaze estimator unavailable, attention tracking disabled")
		return false
	}

	s.mutex.Lock()
	s.available = true
	s.mutex.Unlock()
	return true
}

func (s *Signal) onSample(sample Sample) {
	s.mutex.Lock()
	s.latest = &sample
	s.mutex.Unlock()
}

// Latest returns the most recent raw coordinate, if any arrived yet.
func (s *Signal) Latest() (Sample, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.latest == nil {
		return Sample{}, false
	}
	return *s.latest, true
}

func (s *Signal) Calibrated() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calibrated
}

// Target resolves the latest gaze coordinate against the given regions and
// returns the id of a region containing it. Returns false unconditionally
// while not calibrated: uncalibrated estimates are noise.
func (s *Signal) Target(regions map[string]Rect) (string, bool) {
	s.mutex.Lock()
	calibrated, latest := s.calibrated, s.latest
	s.mutex.Unlock()

	if !calibrated || latest == nil {
		return "", false
	}

	for id, region := range regions {
		if region.Contains(latest.X, latest.Y) {
			return id, true
		}
	}

	return "", false
}

// Stop tears down the estimator feed. Idempotent.
func (s *Signal) Stop() {
	s.mutex.Lock()
	wasAvailable := s.available
	s.available = false
	s.mutex.Unlock()

	if wasAvailable {
		s.estimator.Stop()
	}
}

func (s *Signal) markCalibrated(calibrated bool) {
	s.mutex.Lock()
	s.calibrated = calibrated
	s.mutex.Unlock()
}
