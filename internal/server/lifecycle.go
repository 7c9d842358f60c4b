// Package server ties the match server's long-running acceptors into one
// start/stop lifecycle: each acceptor starts on its own goroutine, and a
// termination signal, a context cancellation, or the first acceptor failure
// stops them all in reverse registration order.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is one long-running component, typically a listening acceptor.
type Service interface {
	// Start blocks until the service stops or fails.
	Start() error
	// Stop shuts the service down and releases its listener.
	Stop()
}

// FuncService adapts a start/stop function pair, such as an acceptor's
// ListenAndServe/Stop, into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the wrapped start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the wrapped stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Lifecycle runs the registered services as one unit.
//
// Add must finish before Run is called; registration is part of wiring, not
// of steady-state operation.
type Lifecycle struct {
	logger *zap.Logger
	names  []string
	svcs   []Service
}

// NewLifecycle creates an empty Lifecycle.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a named service. Services start in registration order and
// stop in reverse.
func (l *Lifecycle) Add(name string, svc Service) {
	l.names = append(l.names, name)
	l.svcs = append(l.svcs, svc)
}

// Run starts every registered service and blocks until SIGINT or SIGTERM
// arrives, ctx is cancelled, or a service fails. It then stops all services
// in reverse order and returns the failure that triggered shutdown, if any.
//
// Postcondition: Every service's Stop has returned when Run returns.
func (l *Lifecycle) Run(ctx context.Context) error {
	started := time.Now()

	failures := make(chan error, len(l.svcs))
	for i := range l.svcs {
		name, svc := l.names[i], l.svcs[i]
		go func() {
			l.logger.Info("service starting", zap.String("service", name))
			if err := svc.Start(); err != nil {
				failures <- fmt.Errorf("service %s: %w", name, err)
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var cause error
	select {
	case sig := <-signals:
		l.logger.Info("signal received, shutting down",
			zap.String("signal", sig.String()),
		)
	case cause = <-failures:
		l.logger.Error("service failed, shutting down", zap.Error(cause))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	for i := len(l.svcs) - 1; i >= 0; i-- {
		stopStart := time.Now()
		l.svcs[i].Stop()
		l.logger.Info("service stopped",
			zap.String("service", l.names[i]),
			zap.Duration("elapsed", time.Since(stopStart)),
		)
	}

	l.logger.Info("shutdown complete",
		zap.Duration("uptime", time.Since(started)),
	)
	return cause
}
