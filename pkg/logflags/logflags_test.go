package logflags

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func reset() {
	frame = false
	tagger = false
	solverq = false
	bin = false
}

func TestSetupEnablesListedLayers(t *testing.T) {
	defer reset()
	if err := Setup(true, "frame,solver"); err != nil {
		t.Fatal(err)
	}
	if !Frame() || !Solver() {
		t.Error("frame and solver layers should be enabled")
	}
	if Tagger() || Binary() {
		t.Error("unlisted layers should stay disabled")
	}
}

func TestSetupDefaultsToFrame(t *testing.T) {
	defer reset()
	if err := Setup(true, ""); err != nil {
		t.Fatal(err)
	}
	if !Frame() {
		t.Error("frame layer should be the default")
	}
}

func TestSetupRejectsOutputWithoutLog(t *testing.T) {
	defer reset()
	if err := Setup(false, "frame"); err == nil {
		t.Error("expected an error for --log-output without --log")
	}
}

func TestLoggerLevels(t *testing.T) {
	defer reset()
	if lvl := FrameLogger().Logger.Level; lvl != logrus.InfoLevel {
		t.Errorf("disabled layer should log at info, got %v", lvl)
	}
	frame = true
	if lvl := FrameLogger().Logger.Level; lvl != logrus.DebugLevel {
		t.Errorf("enabled layer should log at debug, got %v", lvl)
	}
}
