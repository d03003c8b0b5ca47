package gaze

import (
	"sync"
)

// A screen anchor the user is asked to click at during calibration.
type Point struct {
	X, Y float64
}

type CalibrationState int

const (
	// A point is active and collecting clicks.
	CalibrationActive CalibrationState = iota
	// All points collected their required clicks.
	CalibrationComplete
	// The user bailed out; the signal stays uncalibrated.
	CalibrationSkipped
)

// Calibration walks the user through an ordered sequence of anchor points.
// Each accepted click on the active point records a calibration sample with
// the estimator; once every point reached the required count the session
// completes and the owning signal becomes calibrated. The point index only
// ever moves forward.
type Calibration struct {
	signal   *Signal
	points   []Point
	required int

	mutex    sync.Mutex
	state    CalibrationState
	index    int
	count    int
	resolved bool
	done     chan bool
}

// StartCalibration begins a new calibration session over the given anchors.
// Point 0 is active immediately. The signal loses any previous calibration
// until the new session completes. A session over zero anchors has nothing
// to collect and completes on the spot.
func (s *Signal) StartCalibration(points []Point, clicksPerPoint int) *Calibration {
	s.markCalibrated(false)

	c := &Calibration{
		signal:   s,
		points:   points,
		required: clicksPerPoint,
		state:    CalibrationActive,
		done:     make(chan bool, 1),
	}

	if len(points) == 0 {
		c.mutex.Lock()
		c.state = CalibrationComplete
		s.markCalibrated(true)
		c.resolve(true)
		c.mutex.Unlock()
	}

	return c
}

func (c *Calibration) State() CalibrationState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// ActivePoint returns the index of the point currently collecting clicks.
func (c *Calibration) ActivePoint() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.index
}

// Done resolves exactly once per session: true for complete, false for
// skipped.
func (c *Calibration) Done() <-chan bool {
	return c.done
}

// Click reports a click on the given point. Clicks on anything but the
// active point are ignored and do not advance the session.
func (c *Calibration) Click(pointIndex int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != CalibrationActive || pointIndex != c.index {
		return
	}

	point := c.points[c.index]
	c.signal.estimator.RecordSample(point.X, point.Y)
	c.count++

	if c.count < c.required {
		return
	}

	c.index++
	c.count = 0

	if c.index == len(c.points) {
		c.state = CalibrationComplete
		c.signal.markCalibrated(true)
		c.resolve(true)
	}
}

// Skip aborts the session from whatever point it is at. The signal remains
// uncalibrated.
func (c *Calibration) Skip() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != CalibrationActive {
		return
	}

	c.state = CalibrationSkipped
	c.signal.markCalibrated(false)
	c.resolve(false)
}

// Caller must hold the mutex.
func (c *Calibration) resolve(result bool) {
	if c.resolved {
		return
	}
	c.resolved = true
	c.done <- result
}
