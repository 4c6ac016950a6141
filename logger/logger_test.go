package logger_test

import (
	"errors"
	"testing"

	"github.com/hydra-mesh/hydra/logger"
)

func TestLoggerDoesNotPanic(t *testing.T) {
	log := logger.NewLogger("test-service", logger.LevelDebug)
	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message", errors.New("boom"))

	withCtx := log.WithContext("ctx-1")
	withCtx.Info("scoped message")

	log.With("key", "value").With("n", 1).Info("structured message")
}

func TestCloneAndSetLevelDoNotPanic(t *testing.T) {
	log := logger.NewLogger("svc", logger.LevelInfo)
	clone := log.Clone()
	clone.SetLevel(logger.LevelError)
	// Clone shares the zerolog sink but SetLevel is process-global by
	// design (zerolog.SetGlobalLevel), so this just exercises the path
	// without asserting independent levels.
	clone.Info("after clone")
}
