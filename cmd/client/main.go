package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/meetworks/sightline/pkg/attention"
	"github.com/meetworks/sightline/pkg/config"
	"github.com/meetworks/sightline/pkg/gaze"
	"github.com/meetworks/sightline/pkg/peer"
	"github.com/meetworks/sightline/pkg/profiling"
	"github.com/meetworks/sightline/pkg/session"
	"github.com/meetworks/sightline/pkg/signaling"
	"github.com/meetworks/sightline/pkg/telemetry"
	"github.com/meetworks/sightline/pkg/voice"
	"github.com/meetworks/sightline/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
)

// The core is meant to be embedded by a UI that supplies real gaze and
// microphone feeds. The standalone binary runs without either: both sensors
// report capability-unavailable and the attention engine stays dormant,
// which is exactly the degraded mode an embedder without sensors gets.
type noEstimator struct{}

func (noEstimator) Start(func(gaze.Sample)) error {
	return errors.New("no gaze estimator available")
}

func (noEstimator) Stop() {}

func (noEstimator) RecordSample(x, y float64) {}

func noAudioCapture() (voice.LevelSource, error) {
	return nil, errors.New("no audio capture available")
}

func main() {
	// Parse command line flags.
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	// Functions that are called before exiting, e.g. to stop the profiler.
	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitCPUProfiling(*cpuProfile))
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(*memProfile))
	}

	cfg, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
		return
	}

	setLogLevel(cfg.LogLevel)
	logger := logrus.NewEntry(logrus.StandardLogger())

	if cfg.Telemetry.Enabled() {
		if _, err := telemetry.SetupTelemetry(cfg.Telemetry); err != nil {
			logger.WithError(err).Warn("running without telemetry")
		}
	}

	factory, err := webrtc_ext.NewPeerConnectionFactory(webrtc_ext.Config{ICEServers: cfg.Signaling.ICEServers})
	if err != nil {
		logger.WithError(err).Fatal("could not create WebRTC API")
	}

	channel, err := signaling.Connect(signaling.Options{
		URL:          cfg.Signaling.URL,
		PingInterval: cfg.Signaling.PingIntervalDuration(),
		PingTimeout:  cfg.Signaling.PingTimeoutDuration(),
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("could not connect to the relay")
	}

	call, events := session.NewSession(
		session.Config{DisplayName: cfg.Signaling.DisplayName},
		channel,
		func() (peer.Connection, error) { return factory.CreatePeerConnection() },
		logger,
	)

	// The attention pipeline, wired the way an embedder would wire it but
	// with unavailable sensors. Tile regions come from the UI; headless we
	// have none.
	gazeSignal := gaze.NewSignal(noEstimator{}, logger)
	if !gazeSignal.Init() {
		logger.Warn("gaze estimation unavailable, attention disabled")
	}

	engine := attention.NewEngine(
		attention.Config{
			TickInterval:   cfg.Attention.TickIntervalDuration(),
			DwellThreshold: cfg.Attention.DwellThresholdDuration(),
		},
		gazeSignal,
		func() map[string]gaze.Rect { return map[string]gaze.Rect{} },
		call.AnnounceAttention,
		logger,
	)
	engine.BindVoice(voice.NewDetector(voice.Config{
		Threshold:      cfg.Attention.VoiceThreshold,
		SilenceGrace:   cfg.Attention.SilenceGraceDuration(),
		SampleInterval: cfg.Attention.TickIntervalDuration(),
	}, noAudioCapture, engine.OnVoiceTransition, logger))
	engine.Start()

	// Leave cleanly on interruption; the session loop finishes with Ended.
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		call.Leave()
	}()

	for event := range events.Channel {
		switch ev := event.(type) {
		case session.JoinedCall:
			logger.WithField("self_id", ev.SelfID).Info("in the call")
		case session.RosterChanged:
			for _, participant := range call.Participants() {
				logger.WithFields(logrus.Fields{
					"participant_id": participant.ID,
					"name":           participant.Name,
					"tracks":         len(participant.Tracks()),
				}).Info("roster entry")
			}
		case session.TrackAttached:
			logger.WithFields(logrus.Fields{
				"participant_id": ev.ParticipantID,
				"kind":           ev.Info.Kind,
			}).Info("track attached")
		case session.AttentionReceived:
			logger.WithFields(logrus.Fields{
				"from":   ev.FromName,
				"active": ev.Active,
			}).Info("attention update")
		case session.Ended:
			engine.Stop()
			for _, function := range deferredFunctions {
				function()
			}
			if ev.Err != nil {
				logger.WithError(ev.Err).Fatal("session ended abnormally")
			}
			return
		}
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
