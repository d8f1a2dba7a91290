package orchestrator

import "github.com/tphakala/voterimport/internal/logger"

// GetLogger returns the orchestrator module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("orchestrator")
}
