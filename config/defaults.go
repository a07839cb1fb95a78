// Package config provides configuration defaults and the yaml config loader
// for the cube-store server.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml, CLI flags, or environment
// variables (CUBED_API_KEY, CUBED_DATA_DIR).
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default server listen address.
	// Override via config: server.listen
	DefaultListenAddress = "0.0.0.0:9410"

	// DefaultHTTPListenAddress is the default HTTP gateway listen address.
	// Empty disables the gateway. Override via config: server.http_listen
	DefaultHTTPListenAddress = ""

	// DefaultMaxHeaderSize limits the request header frame to prevent OOM.
	// Override via config: server.max_header_size
	DefaultMaxHeaderSize = 4 * 1024 * 1024

	// DefaultMaxPayloadSize limits a single bulk data payload. Cubes larger
	// than this must be transferred through chunked ITER/APPEND streaming.
	// Override via config: server.max_payload_size
	DefaultMaxPayloadSize = 256 * 1024 * 1024
)

// =============================================================================
// Session Defaults
// =============================================================================

const (
	// DefaultAuthTimeoutSec is the time allowed for authentication after
	// connect. Clients must authenticate within this window or be
	// disconnected. Override via config: session.auth_timeout_sec
	DefaultAuthTimeoutSec = 30

	// DefaultAuthRateLimitPerMinute is the max FAILED auth attempts per IP
	// per minute. Only failed attempts count; a successful authentication
	// resets the counter. Override via config: session.rate_limit_per_minute
	DefaultAuthRateLimitPerMinute = 5
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory for persisted cubes.
	// Override via config: storage.data_dir or CUBED_DATA_DIR
	DefaultDataDir = "cubes"

	// DefaultChunkTargetBytes is the target byte size of a dense chunk when
	// no chunk shape is given at create time. The derived chunk shape keeps
	// trailing axes whole and splits leading axes until a chunk fits.
	// Override via config: storage.chunk_target_bytes
	DefaultChunkTargetBytes = 4 * 1024 * 1024

	// DefaultChunkCacheBytes is the capacity of the in-memory LRU chunk
	// cache sitting in front of the chunk store.
	// Override via config: storage.chunk_cache_bytes
	DefaultChunkCacheBytes = 256 * 1024 * 1024

	// DefaultChunkLockStripes is the number of stripes in the chunk lock
	// table. Must be a power of two.
	DefaultChunkLockStripes = 128
)

// =============================================================================
// Compute Defaults
// =============================================================================

const (
	// DefaultComputeWorkers is the per-request chunk fan-out limit for the
	// operation executor. Override via config: compute.workers
	DefaultComputeWorkers = 8

	// DefaultSandboxBudget is the time budget for one sandboxed function
	// evaluation over a single chunk. Exceeding it fails that chunk only.
	// Override via config: compute.sandbox_budget_ms
	DefaultSandboxBudget = 5 * time.Second

	// DefaultQuantileAccuracy is the DDSketch relative accuracy used by the
	// quantile operation (0.01 = 1% error).
	// Override via config: compute.quantile_accuracy
	DefaultQuantileAccuracy = 0.01
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeoutSec is how long to wait for in-flight requests
	// during shutdown. After this timeout, remaining work is abandoned.
	// Override via config: server.drain_timeout_sec
	DefaultDrainTimeoutSec = 30
)
