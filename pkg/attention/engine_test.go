package attention_test

import (
	"testing"
	"time"

	"github.com/meetworks/sightline/pkg/attention"
	"github.com/meetworks/sightline/pkg/common"
	"github.com/meetworks/sightline/pkg/gaze"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushEstimator struct {
	onSample func(gaze.Sample)
}

func (p *pushEstimator) Start(onSample func(gaze.Sample)) error {
	p.onSample = onSample
	return nil
}

func (p *pushEstimator) Stop() {}

func (p *pushEstimator) RecordSample(x, y float64) {}

type engineHarness struct {
	engine        *attention.Engine
	estimator     *pushEstimator
	ticker        *common.ManualTicker
	announcements chan attention.Announcement
}

// Two side-by-side tiles.
var testRegions = map[string]gaze.Rect{
	"alice": {X: 0, Y: 0, Width: 100, Height: 100},
	"bob":   {X: 100, Y: 0, Width: 100, Height: 100},
}

func newEngineHarness(t *testing.T, calibrated bool) *engineHarness {
	t.Helper()

	estimator := &pushEstimator{}
	signal := gaze.NewSignal(estimator, logrus.NewEntry(logrus.New()))
	require.True(t, signal.Init())

	if calibrated {
		calibration := signal.StartCalibration([]gaze.Point{{}}, 1)
		calibration.Click(0)
		require.True(t, <-calibration.Done())
	}

	ticker := common.NewManualTicker()
	announcements := make(chan attention.Announcement, 16)

	engine := attention.NewEngine(
		attention.Config{
			TickInterval:   100 * time.Millisecond,
			DwellThreshold: 2 * time.Second,
			NewTicker:      func(time.Duration) common.Ticker { return ticker },
		},
		signal,
		func() map[string]gaze.Rect { return testRegions },
		func(a attention.Announcement) { announcements <- a },
		logrus.NewEntry(logrus.New()),
	)
	engine.Start()
	t.Cleanup(engine.Stop)

	return &engineHarness{
		engine:        engine,
		estimator:     estimator,
		ticker:        ticker,
		announcements: announcements,
	}
}

func (h *engineHarness) lookAt(target string) {
	switch target {
	case "alice":
		h.estimator.onSample(gaze.Sample{X: 50, Y: 50})
	case "bob":
		h.estimator.onSample(gaze.Sample{X: 150, Y: 50})
	default:
		h.estimator.onSample(gaze.Sample{X: 500, Y: 500})
	}
}

func (h *engineHarness) expect(t *testing.T, expected attention.Announcement) {
	t.Helper()
	select {
	case got := <-h.announcements:
		assert.Equal(t, expected, got)
	case <-time.After(time.Second):
		t.Fatalf("expected announcement %+v, got none", expected)
	}
}

func (h *engineHarness) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-h.announcements:
		t.Fatalf("unexpected announcement %+v", got)
	default:
	}
}

func TestDwellActivatesExactlyAtThreshold(t *testing.T) {
	h := newEngineHarness(t, true)
	start := time.Unix(0, 0)

	h.lookAt("alice")
	for ms := 0; ms <= 1900; ms += 100 {
		h.ticker.Tick(start.Add(time.Duration(ms) * time.Millisecond))
	}
	h.ticker.Tick(start.Add(2 * time.Second))

	// Exactly one activation, delivered by the tick at the threshold and
	// none of the nineteen ticks before it.
	h.expect(t, attention.Announcement{TargetID: "alice", Active: true})
	h.expectNone(t)
}

func TestInactivePrecedesNextActive(t *testing.T) {
	h := newEngineHarness(t, true)
	start := time.Unix(0, 0)

	h.lookAt("alice")
	h.ticker.Tick(start)
	h.ticker.Tick(start.Add(2 * time.Second))
	h.expect(t, attention.Announcement{TargetID: "alice", Active: true})

	// Glancing over to bob: alice goes inactive on the very next tick,
	// long before bob earns an activation.
	h.lookAt("bob")
	h.ticker.Tick(start.Add(2100 * time.Millisecond))
	h.expect(t, attention.Announcement{TargetID: "alice", Active: false})
	h.expectNone(t)

	// Bob's dwell clock started at the switch tick.
	h.ticker.Tick(start.Add(4100 * time.Millisecond))
	h.expect(t, attention.Announcement{TargetID: "bob", Active: true})
	h.expectNone(t)
}

func TestLookingAwayClearsActive(t *testing.T) {
	h := newEngineHarness(t, true)
	start := time.Unix(0, 0)

	h.lookAt("alice")
	h.ticker.Tick(start)
	h.ticker.Tick(start.Add(2 * time.Second))
	h.expect(t, attention.Announcement{TargetID: "alice", Active: true})

	h.lookAt("nowhere")
	h.ticker.Tick(start.Add(2100 * time.Millisecond))
	h.expect(t, attention.Announcement{TargetID: "alice", Active: false})

	// No target, no dwell, no reactivation.
	h.ticker.Tick(start.Add(5 * time.Second))
	h.expectNone(t)
}

func TestUncalibratedEngineIsInert(t *testing.T) {
	h := newEngineHarness(t, false)
	start := time.Unix(0, 0)

	h.lookAt("alice")
	for ms := 0; ms <= 3000; ms += 100 {
		h.ticker.Tick(start.Add(time.Duration(ms) * time.Millisecond))
	}
	h.expectNone(t)
}

func TestSilenceClearsActiveRegardlessOfGaze(t *testing.T) {
	h := newEngineHarness(t, true)
	start := time.Unix(0, 0)

	h.lookAt("alice")
	h.ticker.Tick(start)
	h.ticker.Tick(start.Add(2 * time.Second))
	h.expect(t, attention.Announcement{TargetID: "alice", Active: true})

	// Still staring at alice, but the user went quiet.
	h.engine.OnVoiceTransition(false)
	h.expect(t, attention.Announcement{TargetID: "alice", Active: false})
}

func TestStopEmitsFinalInactive(t *testing.T) {
	h := newEngineHarness(t, true)
	start := time.Unix(0, 0)

	h.lookAt("alice")
	h.ticker.Tick(start)
	h.ticker.Tick(start.Add(2 * time.Second))
	h.expect(t, attention.Announcement{TargetID: "alice", Active: true})

	h.engine.Stop()
	h.expect(t, attention.Announcement{TargetID: "alice", Active: false})

	// Stop is idempotent; no duplicate inactive.
	h.engine.Stop()
	h.expectNone(t)
}

func TestAtMostOneActiveAcrossArbitraryTicks(t *testing.T) {
	h := newEngineHarness(t, true)
	start := time.Unix(0, 0)

	// Bounce between targets and away, with dwells long enough to trigger
	// activations, and count the balance of active announcements.
	targets := []string{"alice", "bob", "nowhere", "bob", "alice"}
	now := start
	for _, target := range targets {
		h.lookAt(target)
		for i := 0; i < 25; i++ {
			now = now.Add(100 * time.Millisecond)
			h.ticker.Tick(now)
		}
	}
	h.engine.Stop()

	activeCount := 0
	for {
		select {
		case a := <-h.announcements:
			if a.Active {
				activeCount++
				assert.Equal(t, 1, activeCount, "two targets active at once")
			} else {
				activeCount--
				assert.Equal(t, 0, activeCount)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 0, activeCount, "an active target survived Stop")
}
