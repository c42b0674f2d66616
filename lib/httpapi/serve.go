// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Listener serves an http.Handler on a TCP address with graceful
// shutdown. Serve(ctx) blocks until the context is cancelled and
// active requests drain.
type Listener struct {
	address string
	handler http.Handler
	logger  *slog.Logger

	shutdownTimeout time.Duration

	// ready is closed after the listener is bound and accepting
	// connections.
	ready chan struct{}

	// addr is the resolved listen address, valid once ready closes.
	// Needed when the configured address uses port 0.
	addr net.Addr
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Address is the TCP listen address (e.g. ":8080"). Required.
	Address string

	// Handler is the HTTP handler for incoming requests. Required.
	Handler http.Handler

	// ShutdownTimeout bounds the wait for in-flight requests during
	// graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// NewListener creates a Listener. Call Serve to start accepting
// connections.
func NewListener(config ListenerConfig) (*Listener, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("httpapi: Address is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("httpapi: Handler is required")
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Listener{
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}, nil
}

// Ready returns a channel that is closed once the listener is bound
// and accepting connections.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Serve starts accepting HTTP connections. Blocks until ctx is
// cancelled, then stops accepting new connections and waits up to
// ShutdownTimeout for active requests to complete.
func (l *Listener) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.address, err)
	}
	l.addr = listener.Addr()
	close(l.ready)

	server := &http.Server{
		Handler: l.handler,

		// API payloads are small; slow clients must not hold
		// connections open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	l.logger.Info("http server listening", "address", l.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("http server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	l.logger.Info("http server stopped")
	return nil
}
