package config

import (
	"fmt"
	"os"
)

// Template is a commented config.toml carrying the default values.
func Template() string {
	return defaultTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0o600)
}

const defaultTemplate = `server_url = "ws://localhost:8080/ws"
device_id = "inkframe"

[display]
width = 800
height = 480
bands = 3

[memory]
heap_bytes = 163840
safety_margin = 8000
rx_chunk_bytes = 512
stream_window = 256
yield_every = 512
static_rx_buffer = false

[reconnect]
initial_delay = "1s"
multiplier = 2.0
max_delay = "1m"
jitter = true

[status]
listen_addr = ":9090"
cors_origins = ["http://localhost:3000"]

[power]
active_timeout = "30s"
battery_supply = ""
`
