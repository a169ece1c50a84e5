package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "engine":
		return engineTemplate, nil
	case "flapctl":
		return flapctlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const engineTemplate = `tx_policy = "immediate"
transaction_buckets = 16
transaction_max_age = "5m"
cookie_capacity = 256
max_payload_bytes = 65535
forced_latency = "0s"
recv_rate_limit = 0.0
recv_burst = 32
rendezvous_magic = ["ODC2", "OFT2"]
log_level = "info"
metrics_addr = ""
cors_origins = ["http://localhost:3000"]
`

const flapctlTemplate = `engine = "goscar.toml"
input = "capture.bin"
format = "raw"
framing = "stream"
table = true
serve = false
`
