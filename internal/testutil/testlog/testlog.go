package testlog

import (
	"testing"

	"github.com/danmuck/eshet/internal/logging"
)

// Start configures test-profile logging and logs a start line stamped with
// the test name.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logger := logging.Logger()
	logger.Info().Str("test", t.Name()).Msg("start")
}
