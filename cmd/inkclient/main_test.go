package main

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/inkframe/internal/config"
	"github.com/danmuck/inkframe/internal/display"
	"github.com/danmuck/inkframe/internal/protocol/frame"
	"github.com/danmuck/inkframe/internal/testutil/fixture"
	"github.com/danmuck/inkframe/internal/testutil/testlog"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.Display = config.DisplayConfig{Width: 16, Height: 3, Bands: 3}
	cfg.Memory.HeapBytes = 1024
	cfg.Memory.SafetyMargin = 16
	cfg.Memory.RxChunkBytes = 8
	return cfg
}

func TestReplayCapture(t *testing.T) {
	testlog.Start(t)
	var capture []byte
	capture = append(capture, fixture.Packet(frame.TypeFull, 1, fixture.RLE(make([]byte, 6)))...)
	capture = append(capture, fixture.Packet(frame.TypeTile, 2, append([]byte{2}, fixture.RLE([]byte{0xFF, 0xFF})...))...)
	capture = append(capture, fixture.Packet(frame.TypeTile, 3, append([]byte{9}, fixture.RLE([]byte{0, 0})...))...)
	capture = append(capture, fixture.Packet(frame.TypeDelta, 4, fixture.RLE(fixture.Delta(fixture.Edit{Offset: 0, Data: []byte{0x80}})))...)

	out := filepath.Join(t.TempDir(), "frame.png")
	var buf bytes.Buffer
	if err := replay(&buf, smallConfig(), capture, out); err != nil {
		t.Fatalf("replay: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
	for i, want := range []string{"ACK", "ACK", "NAK", "ACK"} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d got=%q want %s", i, lines[i], want)
		}
	}
	if lines[4] != "3 acked, 1 naked" {
		t.Fatalf("summary got=%q", lines[4])
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	white := func(x, y int) bool {
		r, _, _, _ := img.At(x, y).RGBA()
		return r != 0
	}
	if !white(0, 0) || white(1, 0) || white(0, 1) || !white(0, 2) {
		t.Fatalf("unexpected pixels in replayed frame")
	}
}

func TestReplayTruncatedCapture(t *testing.T) {
	testlog.Start(t)
	packet := fixture.Packet(frame.TypeFull, 1, fixture.RLE(make([]byte, 6)))
	err := replay(&bytes.Buffer{}, smallConfig(), packet[:len(packet)-1], "")
	if err == nil || !strings.Contains(err.Error(), errTruncatedCapture.Error()) {
		t.Fatalf("expected truncated capture error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	testlog.Start(t)
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Fatalf("version got=%q want=%q", got, version)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	for _, args := range [][]string{
		{"config", "init", path},
		{"config", "validate", path},
	} {
		cmd := rootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "init", path})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error when config exists")
	}
}

func TestLoadConfigDefaultsWithoutPath(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig(" ")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Display.Geometry() != display.DefaultGeometry() {
		t.Fatalf("expected default geometry, got %+v", cfg.Display)
	}
}
