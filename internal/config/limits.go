package config

import "time"

const (
	// Messages
	MaxMessageBodyLength = 4000
	PreviewLength        = 120

	// History. Requests without a limit get the whole history.
	MaxHistoryPage = 1000

	// Streaming
	DefaultStreamQueueSize   = 64
	DefaultHeartbeatPeriod   = 25 * time.Second
	DefaultStreamIdleTimeout = 30 * time.Minute

	// Rate limiting of customer messages
	DefaultRateLimitMessages = 30
	DefaultRateLimitWindow   = time.Minute

	// Auth
	DefaultTokenTTL = 24 * time.Hour
)

// PriorityWeights orders rooms in the agent CLI listing.
var PriorityWeights = map[string]int{
	"LOW":    0,
	"NORMAL": 1,
	"HIGH":   2,
	"URGENT": 3,
}
