package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"error":   zerolog.ErrorLevel,
		"info":    zerolog.InfoLevel,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) got=%v,%v want=%v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("unknown level should not parse")
	}
	if _, ok := ParseLevel(""); ok {
		t.Fatalf("empty level should not parse")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvLogNoColor, "nope")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.WarnLevel {
		t.Fatalf("level got=%v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("timestamp should be disabled")
	}
	if !cfg.JSON {
		t.Fatalf("json should be enabled")
	}
	if cfg.NoColor {
		t.Fatalf("invalid bool must not change NoColor")
	}
}

func TestApplyJSONWritesToOut(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, JSON: true, Out: &buf})
	log.Info().Str("component", "receiver").Msg("hello")
	log.Debug().Msg("filtered")

	out := buf.String()
	if !strings.Contains(out, `"component":"receiver"`) || !strings.Contains(out, `"message":"hello"`) {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "filtered") {
		t.Fatalf("debug line should be filtered at info level: %q", out)
	}
}
