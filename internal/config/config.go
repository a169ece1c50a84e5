package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/danmuck/goscar/internal/logging"
	"github.com/danmuck/goscar/internal/session"
)

// EngineConfig is the on-disk engine file. Empty fields keep the session
// defaults.
type EngineConfig struct {
	TxPolicy           string   `toml:"tx_policy"`
	TransactionBuckets int      `toml:"transaction_buckets"`
	TransactionMaxAge  string   `toml:"transaction_max_age"`
	CookieCapacity     int      `toml:"cookie_capacity"`
	MaxPayloadBytes    int      `toml:"max_payload_bytes"`
	ForcedLatency      string   `toml:"forced_latency"`
	RecvRateLimit      float64  `toml:"recv_rate_limit"`
	RecvBurst          int      `toml:"recv_burst"`
	RendezvousMagic    []string `toml:"rendezvous_magic"`
	LogLevel           string   `toml:"log_level"`
	MetricsAddr        string   `toml:"metrics_addr"`
	CorsOrigins        []string `toml:"cors_origins"`
}

// Engine is a validated EngineConfig. LogLevelSet reports whether the
// file named a level; otherwise LogLevel is the default.
type Engine struct {
	Session     session.Config
	LogLevel    zerolog.Level
	LogLevelSet bool
	MetricsAddr string
	CorsOrigins []string
}

func DefaultEngine() Engine {
	return Engine{
		Session:  session.DefaultConfig(),
		LogLevel: zerolog.InfoLevel,
	}
}

func LoadEngineConfig(path string) (Engine, error) {
	var raw EngineConfig
	if err := loadToml(path, &raw); err != nil {
		return Engine{}, err
	}
	return raw.Engine()
}

// Engine applies the file on top of DefaultEngine.
func (c EngineConfig) Engine() (Engine, error) {
	out := DefaultEngine()
	s := &out.Session

	policy, err := session.ParseTxPolicy(c.TxPolicy)
	if err != nil {
		return Engine{}, err
	}
	s.TxPolicy = policy

	if c.TransactionBuckets < 0 {
		return Engine{}, fmt.Errorf("transaction_buckets must be positive: %d", c.TransactionBuckets)
	}
	if c.TransactionBuckets > 0 {
		s.TransactionBuckets = c.TransactionBuckets
	}
	if d, ok, err := parseDuration("transaction_max_age", c.TransactionMaxAge); err != nil {
		return Engine{}, err
	} else if ok {
		s.TransactionMaxAge = d
	}
	if c.CookieCapacity < 0 {
		return Engine{}, fmt.Errorf("cookie_capacity must be positive: %d", c.CookieCapacity)
	}
	if c.CookieCapacity > 0 {
		s.CookieCapacity = c.CookieCapacity
	}
	if c.MaxPayloadBytes < 0 || c.MaxPayloadBytes > 0xffff {
		return Engine{}, fmt.Errorf("max_payload_bytes out of range: %d", c.MaxPayloadBytes)
	}
	if c.MaxPayloadBytes > 0 {
		s.Limits.MaxPayloadBytes = c.MaxPayloadBytes
	}
	if d, ok, err := parseDuration("forced_latency", c.ForcedLatency); err != nil {
		return Engine{}, err
	} else if ok {
		s.ForcedLatency = d
	}
	if c.RecvRateLimit < 0 {
		return Engine{}, fmt.Errorf("recv_rate_limit must not be negative: %v", c.RecvRateLimit)
	}
	s.RecvRateLimit = c.RecvRateLimit
	if c.RecvBurst > 0 {
		s.RecvBurst = c.RecvBurst
	}
	if len(c.RendezvousMagic) > 0 {
		magics, err := parseMagics(c.RendezvousMagic)
		if err != nil {
			return Engine{}, err
		}
		s.Limits.RendezvousMagics = magics
	}

	if strings.TrimSpace(c.LogLevel) != "" {
		level, ok := logging.ParseLevel(c.LogLevel)
		if !ok {
			return Engine{}, fmt.Errorf("unknown log_level %q", c.LogLevel)
		}
		out.LogLevel = level
		out.LogLevelSet = true
	}
	out.MetricsAddr = strings.TrimSpace(c.MetricsAddr)
	out.CorsOrigins = normalizeOrigins(c.CorsOrigins)
	return out, nil
}

func parseDuration(key, raw string) (time.Duration, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("%s must not be negative: %s", key, raw)
	}
	return d, true, nil
}

// parseMagics accepts four-character tags ("ODC2") or eight hex digits.
func parseMagics(in []string) ([][4]byte, error) {
	out := make([][4]byte, 0, len(in))
	for _, raw := range in {
		v := strings.TrimSpace(raw)
		var m [4]byte
		switch len(v) {
		case 4:
			copy(m[:], v)
		case 8:
			b, err := hex.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("rendezvous_magic %q: %w", raw, err)
			}
			copy(m[:], b)
		default:
			return nil, fmt.Errorf("rendezvous_magic %q: want 4 characters or 8 hex digits", raw)
		}
		out = append(out, m)
	}
	return out, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
