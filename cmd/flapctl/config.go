package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/goscar/internal/protocol"
)

type fileConfig struct {
	Engine  string `toml:"engine"`
	Input   string `toml:"input"`
	Format  string `toml:"format"`
	Framing string `toml:"framing"`
	Table   bool   `toml:"table"`
	Serve   bool   `toml:"serve"`
}

type cliConfig struct {
	EnginePath string
	Input      string
	Format     string
	Framing    protocol.FramingKind
	Table      bool
	Serve      bool
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Format:  "raw",
		Framing: protocol.FramingStream,
		Table:   true,
	}
}

func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load flapctl config: %w", err)
	}
	base := filepath.Dir(path)

	if meta.IsDefined("engine") {
		cfg.EnginePath = resolvePath(base, raw.Engine)
	}
	if meta.IsDefined("input") {
		cfg.Input = resolvePath(base, raw.Input)
	}
	if meta.IsDefined("format") {
		format, err := parseFormat(raw.Format)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.Format = format
	}
	if meta.IsDefined("framing") {
		kind, err := parseFraming(raw.Framing)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.Framing = kind
	}
	if meta.IsDefined("table") {
		cfg.Table = raw.Table
	}
	if meta.IsDefined("serve") {
		cfg.Serve = raw.Serve
	}
	return cfg, nil
}

func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func parseFormat(raw string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "raw", "hex":
		return v, nil
	default:
		return "", fmt.Errorf("unknown input format %q", raw)
	}
}

func parseFraming(raw string) (protocol.FramingKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stream", "flap":
		return protocol.FramingStream, nil
	case "rendezvous", "odc", "oft":
		return protocol.FramingRendezvous, nil
	default:
		return 0, fmt.Errorf("unknown framing %q", raw)
	}
}
