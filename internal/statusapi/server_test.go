package statusapi

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/inkframe/internal/device"
	"github.com/danmuck/inkframe/internal/display"
	"github.com/danmuck/inkframe/internal/heap"
	"github.com/danmuck/inkframe/internal/power"
	"github.com/danmuck/inkframe/internal/protocol/frame"
	"github.com/danmuck/inkframe/internal/testutil/fixture"
	"github.com/danmuck/inkframe/internal/testutil/testlog"
)

type fakeLink struct{}

func (fakeLink) Connected() bool { return true }
func (fakeLink) Dials() uint64   { return 2 }

type fakeGauge struct{}

func (fakeGauge) Voltage() float64 { return 3.9 }
func (fakeGauge) Percent() int     { return 75 }

func newTestServer(t *testing.T) (*Server, *device.Device) {
	t.Helper()
	panel, err := display.NewMemory(display.Geometry{Width: 16, Height: 3})
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	dev, err := device.New(device.Options{
		ID:     "status-test",
		Panel:  panel,
		Heap:   heap.NewArena(256),
		Logger: testlog.Logger(t),
	})
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	t.Cleanup(dev.Close)
	s := New(Options{
		DeviceID: "status-test",
		Device:   dev,
		Power:    power.NewTracker(time.Minute, power.FixedBattery(power.ChargeLow)),
		Battery:  fakeGauge{},
		Link:     fakeLink{},
		Logger:   testlog.Logger(t),
	})
	return s, dev
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t)
	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["device"] != "status-test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatusReportsCounters(t *testing.T) {
	testlog.Start(t)
	s, dev := newTestServer(t)
	if _, err := dev.HandleChunk(fixture.Packet(frame.TypeFull, 11, []byte{6, 0x00})); err != nil {
		t.Fatalf("packet: %v", err)
	}

	rec := get(t, s, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusOK)
	}
	var body struct {
		Device string       `json:"device"`
		Stats  device.Stats `json:"stats"`
		Power  struct {
			ChargeState   string `json:"charge_state"`
			SleepDuration string `json:"sleep_duration"`
		} `json:"power"`
		Battery struct {
			Voltage float64 `json:"voltage"`
			Percent int     `json:"percent"`
		} `json:"battery"`
		Link struct {
			Connected bool   `json:"connected"`
			Dials     uint64 `json:"dials"`
		} `json:"link"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.Acked != 1 || body.Stats.LastSeq != 11 || body.Stats.LastType != "FULL" {
		t.Fatalf("unexpected stats: %+v", body.Stats)
	}
	if body.Stats.Heap.Capacity != 256 {
		t.Fatalf("heap capacity got=%d want=256", body.Stats.Heap.Capacity)
	}
	if body.Power.ChargeState != "low" || body.Power.SleepDuration != (3*time.Hour).String() {
		t.Fatalf("unexpected power: %+v", body.Power)
	}
	if body.Battery.Voltage != 3.9 || body.Battery.Percent != 75 {
		t.Fatalf("unexpected battery: %+v", body.Battery)
	}
	if !body.Link.Connected || body.Link.Dials != 2 {
		t.Fatalf("unexpected link: %+v", body.Link)
	}
}

func TestFramePNG(t *testing.T) {
	testlog.Start(t)
	s, dev := newTestServer(t)
	if _, err := dev.HandleChunk(fixture.Packet(frame.TypeFull, 1, []byte{2, 0x00, 4, 0xFF})); err != nil {
		t.Fatalf("packet: %v", err)
	}

	rec := get(t, s, "/frame.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type got=%q", ct)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 3 {
		t.Fatalf("bounds got=%v want 16x3", b)
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	if r != 0 {
		t.Fatalf("pixel (0,0) should be black")
	}
	r, _, _, _ = img.At(0, 1).RGBA()
	if r == 0 {
		t.Fatalf("pixel (0,1) should be white")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestServer(t)
	_ = get(t, s, "/health")
	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got=%d want=%d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "inkframe_http_requests_total") {
		t.Fatalf("metrics missing http counter")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	s := New(Options{DeviceID: "serve-test", Addr: "127.0.0.1:0", Logger: testlog.Logger(t)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
