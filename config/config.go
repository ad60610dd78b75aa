// Package config hoists acpcore's scattered cooperative-buffer and timeout
// constants into one tunables struct instead of floating magic numbers
// across packages.
package config

import (
	"os"
	"strconv"
	"time"
)

// Tunables collects every timing and capacity constant the runtime needs.
// Zero-value Tunables is invalid; always construct via Defaults or Load.
type Tunables struct {
	// MessageFlushThreshold is the character count at which the trace
	// recorder flushes a streamed message/thought buffer.
	MessageFlushThreshold int

	// HistorySoftCap bounds per-session history before the oldest entries
	// are trimmed.
	HistorySoftCap int
	// PendingBufferCap bounds the per-session pending-SSE buffer before the
	// oldest entries are trimmed.
	PendingBufferCap int

	// IdleSweepInterval is how often the memory sweeper runs.
	IdleSweepInterval time.Duration
	// IdleThreshold is how long a session may sit idle, with no SSE
	// attachment and not in streaming mode, before the sweeper evicts it.
	IdleThreshold time.Duration
	// AggressiveIdleThreshold is IdleThreshold halved, used by an
	// aggressive sweep pass.
	AggressiveIdleThreshold time.Duration

	// SpawnTimeout bounds upstream subprocess spawn.
	SpawnTimeout time.Duration
	// CloseGracePeriod is how long close() waits after closing stdin before
	// hard-killing the subprocess.
	CloseGracePeriod time.Duration
	// GitTimeout bounds VCS snapshot lookups.
	GitTimeout time.Duration
	// HTTPFetchTimeout bounds outbound HTTP fetches.
	HTTPFetchTimeout time.Duration

	// DispatchInterval is the background worker's dispatch cadence.
	DispatchInterval time.Duration
	// CompletionScanInterval is the background worker's completion-scan
	// cadence.
	CompletionScanInterval time.Duration

	// DelegationConcurrency is the default concurrency limit N for
	// orchestrator delegation.
	DelegationConcurrency int

	// SSERateLimit bounds the rate at which one SSE attachment may receive
	// frames before it is considered backpressured. Expressed as frames per
	// second; see session.Store for how it is applied.
	SSERateLimit float64
	// SSEBurst is the token-bucket burst size paired with SSERateLimit.
	SSEBurst int
}

// Defaults returns reasonable out-of-the-box tunable values.
func Defaults() Tunables {
	return Tunables{
		MessageFlushThreshold: 100,

		HistorySoftCap:   500,
		PendingBufferCap: 100,

		IdleSweepInterval:       5 * time.Minute,
		IdleThreshold:           time.Hour,
		AggressiveIdleThreshold: 30 * time.Minute,

		SpawnTimeout:     120 * time.Second,
		CloseGracePeriod: 5 * time.Second,
		GitTimeout:       5 * time.Second,
		HTTPFetchTimeout: 30 * time.Second,

		DispatchInterval:       5 * time.Second,
		CompletionScanInterval: 15 * time.Second,

		DelegationConcurrency: 1,

		SSERateLimit: 200,
		SSEBurst:     400,
	}
}

// Load returns Defaults overridden by any recognised environment variables.
// Unset or unparsable variables fall back to their default silently; config
// loading never fails the server start.
func Load() Tunables {
	t := Defaults()
	if v, ok := intFromEnv("ACPCORE_HISTORY_SOFT_CAP"); ok {
		t.HistorySoftCap = v
	}
	if v, ok := intFromEnv("ACPCORE_PENDING_BUFFER_CAP"); ok {
		t.PendingBufferCap = v
	}
	if v, ok := intFromEnv("ACPCORE_DELEGATION_CONCURRENCY"); ok {
		t.DelegationConcurrency = v
	}
	if v, ok := durationFromEnv("ACPCORE_IDLE_THRESHOLD"); ok {
		t.IdleThreshold = v
		t.AggressiveIdleThreshold = v / 2
	}
	if v, ok := durationFromEnv("ACPCORE_SPAWN_TIMEOUT"); ok {
		t.SpawnTimeout = v
	}
	return t
}

func intFromEnv(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func durationFromEnv(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
