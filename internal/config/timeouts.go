// Package config provides configuration types and utilities for mcpconsole.
// Centralized timeout constants live here to avoid magic numbers elsewhere.
package config

import "time"

// Shutdown & Cleanup Timeouts
const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before the process exits anyway.
	ShutdownTimeout = 15 * time.Second

	// ServerDisconnectTimeout is the max time to wait for a server to disconnect
	ServerDisconnectTimeout = 10 * time.Second

	// HTTPShutdownTimeout is the time allowed for in-flight API requests to finish
	HTTPShutdownTimeout = 5 * time.Second
)

// Connection Timeouts
const (
	// DefaultConnectionTimeout is the default timeout for establishing connections
	// NPX-based servers may need to download packages on first start
	DefaultConnectionTimeout = 60 * time.Second

	// QuickOperationTimeout is used for health pings and status queries
	QuickOperationTimeout = 10 * time.Second
)

// Health Check & Monitoring Intervals
const (
	// HealthCheckInterval is how often connected servers are pinged
	HealthCheckInterval = 30 * time.Second
)

// Event Bus Buffer Sizes
const (
	// EventChannelBufferSize is the buffer size for individual event subscriptions
	EventChannelBufferSize = 100

	// EventChannelBufferSizeAll is the buffer size for subscribing to all events
	EventChannelBufferSizeAll = 500
)
