package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"sessionlink/pkg/interfaces"
)

// Dialer opens gorilla-backed channels
// FUNCTIONAL DISCOVERY: Handshake timeout matches the peer upgrader setting
type Dialer struct {
	dialer       *websocket.Dialer
	header       http.Header
	bufferSize   int
	writeTimeout time.Duration
	logger       *zap.Logger
	nextID       atomic.Uint64
}

// DialerConfig tunes the transport
type DialerConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
	Header           http.Header
}

// NewDialer creates a Dialer. Zero config fields fall back to transport defaults.
func NewDialer(cfg DialerConfig, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		header:       cfg.Header,
		bufferSize:   cfg.SendBuffer,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger.Named("websocket"),
	}
}

// Dial performs the handshake and returns a channel that is not yet reading
func (d *Dialer) Dial(ctx context.Context, endpoint string, handler interfaces.ChannelHandler) (interfaces.Channel, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: http %d: %v", ErrDialFailed, endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDialFailed, endpoint, err)
	}

	id := d.nextID.Add(1)
	d.logger.Debug("channel established", zap.Uint64("channel", id), zap.String("endpoint", endpoint))
	return NewConnection(id, conn, handler, d.bufferSize, d.writeTimeout, d.logger), nil
}
