// Package statusapi serves device health, counters, metrics and the current
// frame over HTTP.
package statusapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/inkframe/internal/device"
	"github.com/danmuck/inkframe/internal/display"
	"github.com/danmuck/inkframe/internal/observability"
	"github.com/danmuck/inkframe/internal/power"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Device is the read side of device.Device.
type Device interface {
	Snapshot() device.Stats
	Frame() []byte
	Geometry() display.Geometry
}

// Power is the read side of power.Tracker.
type Power interface {
	ChargeState() power.ChargeState
	IdleFor() time.Duration
	ShouldSleep() bool
	SleepDuration() time.Duration
}

// Battery is the gauge side of power.VoltageBattery.
type Battery interface {
	Voltage() float64
	Percent() int
}

// Link reports transport state.
type Link interface {
	Connected() bool
	Dials() uint64
}

type Options struct {
	DeviceID    string
	Addr        string
	CorsOrigins []string
	Device      Device
	Power       Power
	Battery     Battery
	Link        Link
	Logger      zerolog.Logger
}

type Server struct {
	opts     Options
	router   *gin.Engine
	appeared time.Time
	log      zerolog.Logger
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(opts.DeviceID, opts.Logger))
	r.Use(observability.RequestMetrics(opts.DeviceID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		opts:     opts,
		router:   r,
		appeared: time.Now(),
		log:      opts.Logger.With().Str("component", "statusapi").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"device":  s.opts.DeviceID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		body := gin.H{"device": s.opts.DeviceID}
		if s.opts.Device != nil {
			body["stats"] = s.opts.Device.Snapshot()
			body["geometry"] = s.opts.Device.Geometry()
		}
		if s.opts.Power != nil {
			body["power"] = gin.H{
				"charge_state":   s.opts.Power.ChargeState().String(),
				"idle_for":       s.opts.Power.IdleFor().String(),
				"should_sleep":   s.opts.Power.ShouldSleep(),
				"sleep_duration": s.opts.Power.SleepDuration().String(),
			}
		}
		if s.opts.Battery != nil {
			body["battery"] = gin.H{
				"voltage": s.opts.Battery.Voltage(),
				"percent": s.opts.Battery.Percent(),
			}
		}
		if s.opts.Link != nil {
			body["link"] = gin.H{
				"connected": s.opts.Link.Connected(),
				"dials":     s.opts.Link.Dials(),
			}
		}
		c.JSON(http.StatusOK, body)
	})

	s.router.GET("/frame.png", func(c *gin.Context) {
		if s.opts.Device == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no device"})
			return
		}
		var buf bytes.Buffer
		if err := display.WritePNG(&buf, s.opts.Device.Geometry(), s.opts.Device.Frame()); err != nil {
			s.log.Error().Err(err).Msg("encode frame")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/png", buf.Bytes())
	})
}

// Serve listens on opts.Addr until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Msg("status api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
