package attention

import (
	"sync"
	"time"

	"github.com/meetworks/sightline/pkg/common"
	"github.com/meetworks/sightline/pkg/gaze"
	"github.com/meetworks/sightline/pkg/voice"
	"github.com/sirupsen/logrus"
)

// Whether an attention announcement additionally requires the user to be
// speaking. Kept switched off: announcements currently fire on gaze dwell
// alone, and the fused behavior stays parked here until the interaction
// design settles.
const requireSpeech = false

// A single outbound attention announcement. One is emitted per transition,
// never per tick.
type Announcement struct {
	TargetID string
	Active   bool
}

type Announcer func(Announcement)

// RegionSource returns the current mapping from participant id to the screen
// region of their video tile. The caller is expected to exclude the local
// participant; you cannot address yourself.
type RegionSource func() map[string]gaze.Rect

type Config struct {
	// Fixed fusion tick interval.
	TickInterval time.Duration
	// How long a gaze target must be held before it is announced.
	DwellThreshold time.Duration
	// Tick source; NewTicker in production, a manual one in tests.
	NewTicker common.TickerFactory
}

// Engine fuses the gaze and voice signals into discrete "addressing this
// participant" events. It runs on its own fixed tick, independent of sensor
// arrival timing, and maintains two invariants: at most one target is
// announced active at any time, and an active target is always announced
// inactive before another becomes active.
type Engine struct {
	logger   *logrus.Entry
	config   Config
	gaze     *gaze.Signal
	voice    *voice.Detector
	regions  RegionSource
	announce Announcer

	voiceEvents chan bool
	stop        chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
	started     bool

	// Owned by the run loop; no lock needed.
	resolved   string
	dwellStart time.Time
	active     string
	speaking   bool
}

func NewEngine(
	config Config,
	gazeSignal *gaze.Signal,
	regions RegionSource,
	announce Announcer,
	logger *logrus.Entry,
) *Engine {
	if config.NewTicker == nil {
		config.NewTicker = common.NewTicker
	}

	return &Engine{
		logger:      logger,
		config:      config,
		gaze:        gazeSignal,
		regions:     regions,
		announce:    announce,
		voiceEvents: make(chan bool, common.UnboundedChannelSize),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// BindVoice attaches the voice activity detector whose transitions feed this
// engine. The detector must have been constructed with OnVoiceTransition as
// its callback.
func (e *Engine) BindVoice(detector *voice.Detector) {
	e.voice = detector
}

// OnVoiceTransition is the voice detector callback. Safe to call from any
// goroutine.
func (e *Engine) OnVoiceTransition(speaking bool) {
	select {
	case e.voiceEvents <- speaking:
	case <-e.stop:
	}
}

// Start begins the fusion loop and the bound voice detector. A voice
// detector that fails to start only degrades the voice signal; the gaze
// dwell logic keeps running.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true

	if e.voice != nil {
		if err := e.voice.Start(); err != nil {
			e.logger.WithError(err).Warn("running without voice activity")
		}
	}

	ticker := e.config.NewTicker(e.config.TickInterval)
	go e.run(ticker)
}

// Stop cancels the tick, the underlying sensors and any standing
// announcement, emitting one final inactive event if a target was active so
// peers never see a stuck highlight. Safe to call from any state.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		if e.started {
			<-e.stopped
		}

		e.clearActive()

		if e.voice != nil {
			e.voice.Stop()
		}
		e.gaze.Stop()
	})
}

func (e *Engine) run(ticker common.Ticker) {
	defer close(e.stopped)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case speaking := <-e.voiceEvents:
			e.speaking = speaking
			if !speaking {
				// An explicit "stop addressing" signal: going quiet clears
				// the announcement no matter where the gaze is.
				e.clearActive()
			}
		case now := <-ticker.Chan():
			e.step(now)
		}
	}
}

func (e *Engine) step(now time.Time) {
	// Attention is an optional feature; without calibration every tick is
	// a no-op.
	if !e.gaze.Calibrated() {
		return
	}

	target, ok := e.gaze.Target(e.regions())
	if !ok {
		target = ""
	}

	if target != e.resolved {
		e.resolved = target
		if target != "" {
			e.dwellStart = now
		} else {
			e.dwellStart = time.Time{}
		}

		// The old target must go inactive before anything else may become
		// active; two simultaneous actives are a protocol violation.
		if e.active != "" && e.active != target {
			e.clearActive()
		}
	}

	if requireSpeech && !e.speaking {
		return
	}

	if target == "" || target == e.active || e.dwellStart.IsZero() {
		return
	}

	if now.Sub(e.dwellStart) >= e.config.DwellThreshold {
		e.clearActive()
		e.active = target
		e.logger.WithField("target", target).Debug("attention target activated")
		e.announce(Announcement{TargetID: target, Active: true})
	}
}

func (e *Engine) clearActive() {
	if e.active == "" {
		return
	}

	e.logger.WithField("target", e.active).Debug("attention target deactivated")
	e.announce(Announcement{TargetID: e.active, Active: false})
	e.active = ""
}
