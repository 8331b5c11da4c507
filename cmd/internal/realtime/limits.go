package realtime

import "time"

// Connection defaults. GatewayConfig overrides all of these except the frame cap.
const (
	maxFrameBytes = 64 << 10

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	wsMaxPingFailures = 3

	// A connection may send rateLimitEvents frames per rateLimitWindow.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
