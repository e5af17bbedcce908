// Package server runs the gin HTTP server and auxiliary components under
// one lifecycle with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Runnable is a component started and stopped together with the HTTP server.
// Start must not block.
type Runnable interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager runs the HTTP server and any added components under one lifecycle.
type Manager struct {
	opts       *Options
	httpServer *HTTPServer
	servers    []Runnable
	mu         sync.Mutex
	started    bool
}

// NewManager creates a new server manager with the given options.
func NewManager(opts ...Option) *Manager {
	serverOpts := NewOptions()
	for _, opt := range opts {
		opt(serverOpts)
	}

	return &Manager{
		opts:       serverOpts,
		httpServer: NewHTTPServer(serverOpts.HTTP, serverOpts.Middleware),
	}
}

// HTTPServer returns the HTTP server.
func (m *Manager) HTTPServer() *HTTPServer {
	return m.httpServer
}

// AddServer adds a component that is started after the HTTP server and
// stopped before it.
func (m *Manager) AddServer(server Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = append(m.servers, server)
}

// Start starts all servers. On failure the already started ones are stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("server manager already started")
	}
	m.started = true
	servers := append([]Runnable{m.httpServer}, m.servers...)
	m.mu.Unlock()

	for i, server := range servers {
		if err := server.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = servers[j].Stop(ctx)
			}
			m.mu.Lock()
			m.started = false
			m.mu.Unlock()
			return fmt.Errorf("failed to start server %s: %w", server.Name(), err)
		}
		if i == 0 {
			logger.Infow("HTTP server started", "addr", m.httpServer.Addr())
			continue
		}
		logger.Infow("Custom server started", "name", server.Name())
	}
	return nil
}

// Stop stops all servers gracefully in reverse start order.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	servers := append([]Runnable{m.httpServer}, m.servers...)
	m.mu.Unlock()

	var errs []error
	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop server %s: %w", servers[i].Name(), err))
		}
	}
	logger.Info("Servers stopped")
	return utilerrors.NewAggregate(errs)
}

// Run starts all servers, blocks until ctx is done and then shuts down
// within ShutdownTimeout.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ShutdownTimeout)
	defer cancel()
	return m.Stop(shutdownCtx)
}
