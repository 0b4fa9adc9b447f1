// Package server owns the client-facing TCP listener and dispatches each
// accepted connection to its own bridge worker goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tcp-upload-bridge/internal/bridge"
	"tcp-upload-bridge/internal/config"
	"tcp-upload-bridge/internal/metrics"
)

// Accept-error pacing: a short burst of immediate retries, then at most one
// attempt per acceptRetryInterval while errors persist (e.g. EMFILE).
const (
	acceptRetryInterval = 100 * time.Millisecond
	acceptRetryBurst    = 5
)

// Handler serves one accepted connection to completion and closes it.
type Handler interface {
	Serve(conn *bridge.Conn)
}

// Listener accepts client connections and hands each to a new goroutine.
// There is no bound on concurrent connections.
type Listener struct {
	addr    string
	timeout time.Duration
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
	backoff *rate.Limiter

	active atomic.Int64
	wg     sync.WaitGroup
}

// NewListener creates a Listener for cfg.Listen. The metrics parameter is optional.
func NewListener(cfg *config.Config, h Handler, logger *slog.Logger, m *metrics.Metrics) *Listener {
	return &Listener{
		addr:    cfg.Listen.Addr(),
		timeout: cfg.Listen.Timeout(),
		handler: h,
		logger:  logger.With("component", "listener"),
		metrics: m,
		backoff: rate.NewLimiter(rate.Every(acceptRetryInterval), acceptRetryBurst),
	}
}

// Listen binds the configured address.
func (l *Listener) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", l.addr, err)
	}
	return ln, nil
}

// Serve accepts connections from ln until it is closed or ctx is done.
// Accept errors are logged and retried; they never stop the loop.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error("accepting connection", "err", err)
			if l.metrics != nil {
				l.metrics.AcceptErrors.Inc()
			}
			if werr := l.backoff.Wait(ctx); werr != nil {
				return werr
			}
			continue
		}
		if l.metrics != nil {
			l.metrics.ConnectionsAccepted.Inc()
		}

		conn, err := bridge.WrapConn(raw, l.timeout)
		if err != nil {
			l.logger.Error("applying connection timeout", "err", err, "remote_addr", raw.RemoteAddr().String())
			if l.metrics != nil {
				l.metrics.SetupErrors.Inc()
			}
			_ = raw.Close()
			continue
		}

		l.dispatch(conn)
	}
}

func (l *Listener) dispatch(conn *bridge.Conn) {
	l.wg.Add(1)
	l.active.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.active.Add(-1)
		l.handler.Serve(conn)
	}()
}

// Active returns the number of connections currently being served.
func (l *Listener) Active() int64 {
	return l.active.Load()
}

// Addr returns the configured listen address.
func (l *Listener) Addr() string {
	return l.addr
}

// Wait blocks until every dispatched connection has finished.
func (l *Listener) Wait() {
	l.wg.Wait()
}
