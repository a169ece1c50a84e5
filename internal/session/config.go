package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/goscar/internal/correlation"
	"github.com/danmuck/goscar/internal/protocol/frame"
)

// TxPolicy selects how Enqueue treats outbound frames.
type TxPolicy uint8

const (
	// TxImmediate writes each frame as soon as it is enqueued.
	TxImmediate TxPolicy = iota
	// TxQueued holds frames until Flush.
	TxQueued
)

func (p TxPolicy) String() string {
	switch p {
	case TxImmediate:
		return "immediate"
	case TxQueued:
		return "queued"
	default:
		return fmt.Sprintf("TxPolicy(%d)", uint8(p))
	}
}

func ParseTxPolicy(raw string) (TxPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "immediate":
		return TxImmediate, nil
	case "queued", "deferred":
		return TxQueued, nil
	default:
		return TxImmediate, fmt.Errorf("session: unknown tx policy %q", raw)
	}
}

// Config defines engine defaults for one session.
type Config struct {
	TxPolicy           TxPolicy
	TransactionBuckets int
	TransactionMaxAge  time.Duration
	CookieCapacity     int
	Limits             frame.Limits
	// ForcedLatency is the default pacing interval given to new connections.
	ForcedLatency time.Duration
	// RecvRateLimit caps dispatched frames per second. Zero disables it.
	RecvRateLimit float64
	RecvBurst     int
}

func DefaultConfig() Config {
	return Config{
		TxPolicy:           TxImmediate,
		TransactionBuckets: correlation.DefaultBuckets,
		TransactionMaxAge:  5 * time.Minute,
		CookieCapacity:     correlation.DefaultCookieCapacity,
		Limits:             frame.DefaultLimits(),
		ForcedLatency:      0,
		RecvRateLimit:      0,
		RecvBurst:          32,
	}
}
