package qnetsim

import (
	"github.com/apex/log"
)

// Logger is the logger the models write to.  Both log.Log and the *log.Entry
// values returned by its WithField(s) methods satisfy it.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)
}

// runLogger returns the logger a run writes through, tagged with the run's identity
func runLogger(logger Logger, runID string, seed uint64) Logger {
	if logger == nil {
		logger = log.Log
	}
	if fielder, ok := logger.(interface {
		WithFields(log.Fielder) *log.Entry
	}); ok {
		return fielder.WithFields(log.Fields{"runid": runID, "seed": seed})
	}
	return logger
}

// SetLogLevel sets the level of the default apex logger from a name such as "debug" or "warn"
func SetLogLevel(name string) error {
	level, err := log.ParseLevel(name)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}
