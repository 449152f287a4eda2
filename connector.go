package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is a step of the connection state machine
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnRetrying
	ConnConnected
	ConnFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnRetrying:
		return "retrying"
	case ConnConnected:
		return "connected"
	case ConnFailed:
		return "failed"
	}
	return "idle"
}

var ErrConnectFailed = errors.New("connect failed")

// DialFunc opens a websocket connection
type DialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// ConnectorConfig bounds the retry loop
type ConnectorConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultConnectorConfig returns the retry bounds bots use
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		MaxRetries:     5,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       4 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Connector dials with bounded retries. One loop moves it through
// Connecting -> Retrying(n) -> Connected or Failed.
type Connector struct {
	url  string
	cfg  ConnectorConfig
	dial DialFunc
	wait func(ctx context.Context, d time.Duration) error
	log  *zap.SugaredLogger

	mu      sync.Mutex
	state   ConnState
	retries int
	onState func(ConnState, int)
}

// NewConnector creates a connector. A nil dial uses the default websocket
// dialer.
func NewConnector(url string, cfg ConnectorConfig, dial DialFunc, log *zap.SugaredLogger) *Connector {
	if dial == nil {
		dial = defaultDial
	}
	if log == nil {
		log = nopLogger()
	}
	return &Connector{url: url, cfg: cfg, dial: dial, wait: sleepCtx, log: log}
}

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("invalid ws url: %s", url)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OnState registers a callback for every state change
func (c *Connector) OnState(fn func(state ConnState, retries int)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current state and retry count
func (c *Connector) State() (ConnState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.retries
}

func (c *Connector) set(s ConnState, retries int) {
	c.mu.Lock()
	c.state = s
	c.retries = retries
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s, retries)
	}
}

// backoff is the wait before retry n (1-based)
func (c *Connector) backoff(n int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < n && d < c.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}
	return d
}

// Connect runs the state machine until it reaches Connected or Failed. At
// most MaxRetries retries follow the first attempt.
func (c *Connector) Connect(ctx context.Context) (*websocket.Conn, error) {
	state, retries := ConnConnecting, 0
	var lastErr error
	for {
		c.set(state, retries)
		switch state {
		case ConnConnecting:
			attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
			conn, err := c.dial(attemptCtx, c.url)
			cancel()
			if err == nil {
				c.set(ConnConnected, retries)
				c.log.Infow("connected", "url", c.url, "retries", retries)
				return conn, nil
			}
			lastErr = err
			c.log.Warnw("connect attempt failed", "url", c.url, "retries", retries, "error", err)
			switch {
			case ctx.Err() != nil:
				lastErr = ctx.Err()
				state = ConnFailed
			case retries >= c.cfg.MaxRetries:
				state = ConnFailed
			default:
				retries++
				state = ConnRetrying
			}

		case ConnRetrying:
			if err := c.wait(ctx, c.backoff(retries)); err != nil {
				lastErr = err
				state = ConnFailed
				continue
			}
			state = ConnConnecting

		case ConnFailed:
			return nil, fmt.Errorf("%w after %d retries: %w", ErrConnectFailed, retries, lastErr)
		}
	}
}
