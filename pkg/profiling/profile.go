package profiling

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

// Starts CPU profiling into the given file and returns the function that
// stops it. Meant to be called from main before anything interesting runs.
func InitCPUProfiling(path string) func() {
	logrus.Info("initializing CPU profiling")

	file, err := os.Create(path)
	if err != nil {
		logrus.WithError(err).Fatal("could not create CPU profile")
	}

	if err := pprof.StartCPUProfile(file); err != nil {
		logrus.WithError(err).Fatal("could not start CPU profile")
	}

	return func() {
		pprof.StopCPUProfile()

		if err := file.Close(); err != nil {
			logrus.WithError(err).Fatal("could not close CPU profile")
		}
	}
}

// Returns a function that writes a heap profile to the given file. The
// snapshot is taken when the returned function runs, i.e. on shutdown.
func InitMemoryProfiling(path string) func() {
	logrus.Info("initializing memory profiling")

	return func() {
		file, err := os.Create(path)
		if err != nil {
			logrus.WithError(err).Fatal("could not create memory profile")
		}

		runtime.GC()

		if err := pprof.WriteHeapProfile(file); err != nil {
			logrus.WithError(err).Fatal("could not write memory profile")
		}

		if err = file.Close(); err != nil {
			logrus.WithError(err).Fatal("could not close memory profile")
		}
	}
}
