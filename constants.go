package xdpgeneric

import "github.com/xdpgeneric/xdpgeneric/internal/constants"

// Re-export selected defaults for public API callers.
const (
	DefaultQueueDepth    = constants.DefaultQueueDepth
	DefaultChunkSize     = constants.DefaultChunkSize
	DefaultMaxIOSize     = constants.DefaultMaxIOSize
	AutoAssignQueueCount = constants.AutoAssignQueueCount
)
