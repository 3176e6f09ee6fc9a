// Package logflags maps the --log and --log-output command line flags
// to per-layer logrus loggers.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var frame = false
var tagger = false
var solverq = false
var bin = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.InfoLevel
	if flag {
		logger.Logger.Level = logrus.DebugLevel
	}
	return logger
}

// Frame returns true if the frame patching layer should emit debug logs.
func Frame() bool {
	return frame
}

// FrameLogger returns a logger for the frame patching layer.
func FrameLogger() *logrus.Entry {
	return makeLogger(frame, logrus.Fields{"layer": "frame"})
}

// Tagger returns true if the instruction tagger should emit debug logs.
func Tagger() bool {
	return tagger
}

// TaggerLogger returns a logger for the instruction tagger.
func TaggerLogger() *logrus.Entry {
	return makeLogger(tagger, logrus.Fields{"layer": "tagger"})
}

// Solver returns true if constraint solving should be logged.
func Solver() bool {
	return solverq
}

// SolverLogger returns a logger for constraint solving.
func SolverLogger() *logrus.Entry {
	return makeLogger(solverq, logrus.Fields{"layer": "solver"})
}

// Binary returns true if image loading should be logged.
func Binary() bool {
	return bin
}

// BinaryLogger returns a logger for image loading.
func BinaryLogger() *logrus.Entry {
	return makeLogger(bin, logrus.Fields{"layer": "binary"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets layer flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "frame"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "frame":
			frame = true
		case "tagger":
			tagger = true
		case "solver":
			solverq = true
		case "binary":
			bin = true
		}
	}
	return nil
}
