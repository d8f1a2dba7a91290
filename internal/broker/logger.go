package broker

import "github.com/tphakala/voterimport/internal/logger"

// GetLogger returns the broker module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("broker")
}
