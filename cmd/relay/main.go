package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/meetworks/sightline/pkg/config"
	"github.com/meetworks/sightline/pkg/profiling"
	"github.com/meetworks/sightline/pkg/relay"
	"github.com/meetworks/sightline/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

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

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		for _, function := range deferredFunctions {
			function()
		}
		os.Exit(0)
	}()

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

	service, err := relay.NewService(cfg.Relay, logger)
	if err != nil {
		logger.WithError(err).Fatal("could not create the relay")
	}

	// Blocks until the listener fails.
	if err := service.Run(); err != nil {
		logger.WithError(err).Fatal("relay stopped")
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
