// Package transport carries packets between the server and the device over
// a WebSocket. Each binary message is fed to the device in fixed-size
// chunks and every reply goes back as one binary message.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/inkframe/internal/observability"
	"github.com/danmuck/inkframe/internal/protocol/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrURLRequired   = errors.New("transport: server url required")
	ErrChunkTooSmall = errors.New("transport: chunk size smaller than a packet header")
	ErrGaveUp        = errors.New("transport: connect attempts exhausted")
)

// Handler consumes one chunk and optionally returns reply bytes.
type Handler interface {
	HandleChunk(chunk []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(chunk []byte) ([]byte, error)

func (f HandlerFunc) HandleChunk(chunk []byte) ([]byte, error) {
	return f(chunk)
}

type Config struct {
	URL                string
	DeviceID           string
	ChunkBytes         int
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int // <= 0 retries forever
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ChunkBytes:       512,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		Backoff:          DefaultBackoff(),
	}
}

type Client struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	rng     *rand.Rand
	log     zerolog.Logger

	connected atomic.Bool
	dials     atomic.Uint64
	writeMu   sync.Mutex
}

func NewClient(cfg Config, handler Handler, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	if handler == nil {
		return nil, errors.New("transport: handler required")
	}
	if cfg.ChunkBytes == 0 {
		cfg.ChunkBytes = DefaultConfig().ChunkBytes
	}
	if cfg.ChunkBytes < frame.HeaderLen {
		return nil, fmt.Errorf("%w: %d", ErrChunkTooSmall, cfg.ChunkBytes)
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   cfg.ChunkBytes,
			WriteBufferSize:  frame.ReplyLen * 4,
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		log: logger.With().Str("component", "transport").Str("url", cfg.URL).Logger(),
	}, nil
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Dials is the number of dial attempts made so far.
func (c *Client) Dials() uint64 {
	return c.dials.Load()
}

// Run dials the server and serves sessions until ctx is cancelled,
// reconnecting with backoff whenever a session ends. It returns nil on
// cancellation.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
			if c.cfg.MaxConnectAttempts > 0 && attempt >= c.cfg.MaxConnectAttempts {
				return fmt.Errorf("%w after %d: %v", ErrGaveUp, attempt, err)
			}
			if err := c.sleepBackoff(ctx, attempt); err != nil {
				return nil
			}
			continue
		}

		attempt = 0
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Msg("session ended, reconnecting")
		if err := c.sleepBackoff(ctx, 1); err != nil {
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.dials.Add(1)
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	observability.RecordDial(c.cfg.DeviceID, err == nil)
	if err != nil {
		return nil, err
	}
	c.log.Info().Msg("connected")
	return conn, nil
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
	c.log.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("backing off")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// serve reads messages until the connection fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.connected.Store(true)
	defer c.connected.Store(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	buf := make([]byte, c.cfg.ChunkBytes)
	for {
		kind, r, err := conn.NextReader()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			c.log.Debug().Int("kind", kind).Msg("ignoring non-binary message")
			continue
		}
		if err := c.feed(conn, r, buf); err != nil {
			return err
		}
	}
}

// feed splits one message into chunks for the handler. A message carries
// at most one packet, so once the handler replies the rest of the message
// is discarded rather than parsed as a new header.
func (c *Client) feed(conn *websocket.Conn, r io.Reader, buf []byte) error {
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			reply, herr := c.handler.HandleChunk(buf[:n])
			if herr != nil {
				c.log.Debug().Err(herr).Int("chunk", n).Msg("chunk not accepted")
			}
			if len(reply) > 0 {
				if werr := c.write(conn, reply); werr != nil {
					return werr
				}
				return c.discard(r)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return err
		}
	}
}

func (c *Client) discard(r io.Reader) error {
	skipped, err := io.Copy(io.Discard, r)
	if skipped > 0 {
		c.log.Debug().Int64("bytes", skipped).Msg("discarded message tail after reply")
	}
	return err
}

func (c *Client) write(conn *websocket.Conn, reply []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.BinaryMessage, reply)
}
