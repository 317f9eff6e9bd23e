package testlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/richinsley/orbital/internal/logging"
)

// Start configures the test logging profile and returns a logger tagged with
// the running test's name.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	logger := log.Logger.With().Str("test", t.Name()).Logger()
	logger.Debug().Msg("test start")
	return logger
}
