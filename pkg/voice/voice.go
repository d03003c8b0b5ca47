package voice

import (
	"sync"
	"time"

	"github.com/meetworks/sightline/pkg/common"
	"github.com/sirupsen/logrus"
)

// LevelSource is the black-box audio analysis resource. Levels returns the
// current frequency-domain magnitudes (one byte per bin, 0-255); the source
// is allocated on Start and released on Stop.
type LevelSource interface {
	Levels() []byte
	Close() error
}

// SourceFactory allocates the audio analysis resource. Failure means the
// microphone is unavailable; the detector stays off for the session.
type SourceFactory func() (LevelSource, error)

type Config struct {
	// Mean amplitude above which the user counts as speaking.
	Threshold float64
	// How long the level must stay below the threshold before the speaking
	// state is released. The raw energy signal flips sub-phoneme, so the
	// release is deliberately slower than the attack.
	SilenceGrace time.Duration
	// How often to sample the source.
	SampleInterval time.Duration
	// Tick source; NewTicker in production, a manual one in tests.
	NewTicker common.TickerFactory
}

// Detector samples an audio level source periodically and reports speaking
// state transitions. The callback fires only when the state actually flips,
// not on every sample: immediately on the first sample above the threshold,
// and only after a full silence grace window when the signal goes quiet.
type Detector struct {
	logger   *logrus.Entry
	config   Config
	factory  SourceFactory
	onChange func(speaking bool)

	mutex      sync.Mutex
	running    bool
	stop       chan struct{}
	source     LevelSource
	speaking   bool
	belowSince time.Time
}

func NewDetector(config Config, factory SourceFactory, onChange func(bool), logger *logrus.Entry) *Detector {
	if config.NewTicker == nil {
		config.NewTicker = common.NewTicker
	}

	return &Detector{
		logger:   logger,
		config:   config,
		factory:  factory,
		onChange: onChange,
	}
}

// Start allocates the audio analysis resource and begins sampling. An error
// means the capability is unavailable; the caller degrades the feature and
// does not retry.
func (d *Detector) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.running {
		return nil
	}

	source, err := d.factory()
	if err != nil {
		d.logger.WithError(err).Warn("audio analysis unavailable, voice activity disabled")
		return err
	}

	d.source = source
	d.running = true
	d.stop = make(chan struct{})

	ticker := d.config.NewTicker(d.config.SampleInterval)
	go d.run(ticker, d.stop)

	return nil
}

// Speaking reports the current debounced state.
func (d *Detector) Speaking() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.speaking
}

// Stop halts sampling and releases the audio analysis resource. Safe to call
// multiple times and before Start.
func (d *Detector) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.running {
		return
	}

	d.running = false
	close(d.stop)

	if err := d.source.Close(); err != nil {
		d.logger.WithError(err).Warn("failed to release audio source")
	}
	d.source = nil
}

func (d *Detector) run(ticker common.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.Chan():
			d.sample(now)
		}
	}
}

func (d *Detector) sample(now time.Time) {
	d.mutex.Lock()

	if !d.running {
		d.mutex.Unlock()
		return
	}

	levels := d.source.Levels()
	loud := mean(levels) > d.config.Threshold

	transitioned := false
	switch {
	case loud:
		d.belowSince = time.Time{}
		if !d.speaking {
			// Fast attack: the very first loud sample flips the state.
			d.speaking = true
			transitioned = true
		}
	case d.speaking:
		if d.belowSince.IsZero() {
			d.belowSince = now
		} else if now.Sub(d.belowSince) >= d.config.SilenceGrace {
			// Slow release: the signal stayed quiet for the whole grace window.
			d.speaking = false
			d.belowSince = time.Time{}
			transitioned = true
		}
	}

	speaking, onChange := d.speaking, d.onChange
	d.mutex.Unlock()

	if transitioned && onChange != nil {
		onChange(speaking)
	}
}

func mean(levels []byte) float64 {
	if len(levels) == 0 {
		return 0
	}

	sum := 0
	for _, level := range levels {
		sum += int(level)
	}
	return float64(sum) / float64(len(levels))
}
