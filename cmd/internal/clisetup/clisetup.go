// Package clisetup holds the start-up steps shared by the qnetsim commands.
package clisetup

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/iti/qnetsim"
	"github.com/joho/godotenv"
)

// LogLevelEnv names the environment variable consulted when no level flag is given
const LogLevelEnv = "QNETSIM_LOG_LEVEL"

// LoadEnv reads a .env file from the working directory, if there is one.
// Variables already set in the environment are not overwritten.
func LoadEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SetupLogging directs the default logger to w and sets its level.  The flag
// value wins, then the environment variable, then fallback.
func SetupLogging(w io.Writer, flagLevel, fallback string) error {
	log.SetHandler(text.New(w))
	level := flagLevel
	if level == "" {
		level = os.Getenv(LogLevelEnv)
	}
	if level == "" {
		level = fallback
	}
	return qnetsim.SetLogLevel(level)
}
