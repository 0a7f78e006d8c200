// Package etl is responsible for running the analytics ETL service in the background.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Service represents the ETL service that extracts, validates and transforms
// data from the Construction Hub microservices.
type Service struct {
	poller        Poller
	registry      RegistryWatcher
	metricsServer MetricsServer

	pollInterval time.Duration

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits until the next blocking operation to interrupt.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	maxDegradedDuration time.Duration

	running chan struct{} // Channel to signal when the service is running.
}

// Poller is an interface that defines the methods for the pending job poller.
type Poller interface {
	Run(ctx context.Context, interval time.Duration) error
}

// RegistryWatcher is an interface that defines the methods for the service registry watcher.
type RegistryWatcher interface {
	Watch(ctx context.Context) (<-chan struct{}, <-chan error, error)
}

// MetricsServer is an interface that defines the methods for a metrics server.
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
}

type options struct {
	maxDegradedDuration time.Duration
}

// Option is a function which tweaks the creation of the Service.
type Option func(*options)

var (
	// errServiceClosed is returned when the service is already closed.
	errServiceClosed = errors.New("service closed")

	// ErrTeardownTimeout is returned when the service takes too long to shut down.
	// A force Quit may be required to cleanup the service.
	ErrTeardownTimeout = errors.New("service teardown timed out")
)

// New creates a new ETL service with the provided poller, registry and metrics server.
func New(ctx context.Context, poller Poller, registry RegistryWatcher, metricsServer MetricsServer, pollInterval time.Duration, args ...Option) *Service {
	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	opts := options{
		maxDegradedDuration: 2 * time.Minute, // Default degraded state duration
	}
	for _, arg := range args {
		arg(&opts)
	}

	running := make(chan struct{})
	close(running) // Close immediately to avoid blocking on the channel.
	return &Service{
		poller:        poller,
		registry:      registry,
		metricsServer: metricsServer,

		pollInterval: pollInterval,

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,

		maxDegradedDuration: opts.maxDegradedDuration,

		running: running,
	}
}

// Run starts the ETL service.
//
// Returns once all sub-services have completed, or after an extended time being in a degraded state.
func (s *Service) Run() error {
	slog.Info("ETL service started")

	select {
	case <-s.gracefulCtx.Done():
		return errServiceClosed
	default:
	}

	s.running = make(chan struct{})
	defer close(s.running)
	defer s.cancel() // Ensure we cancel the context when done, regardless of result.

	done := make(chan error, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { done <- s.runPoller(); wg.Done() }()
	go func() { done <- s.runRegistry(); wg.Done() }()
	go func() { done <- s.runMetrics(); wg.Done() }()
	go func() { wg.Wait(); close(done) }() // Close done only after all goroutines have finished.

	// Ensure we don't get stuck in a degraded state if one of the services fails.
	err := <-done
	slog.Info("Waiting for ETL sub-services to finish")

	deadline := time.After(s.maxDegradedDuration)
	for range 2 {
		select {
		case <-deadline:
			// We've waited for teardown for too long, give up even though errors may be lost.
			slog.Warn("ETL service teardown timed out")
			return errors.Join(err, ErrTeardownTimeout)
		case nextDone := <-done:
			err = errors.Join(err, nextDone)
		}
	}

	return err
}

func (s *Service) runPoller() error {
	slog.Info("Starting job poller", "interval", s.pollInterval)
	defer s.gracefulCancel() // Request stop if the poller fails.

	if err := s.poller.Run(s.gracefulCtx, s.pollInterval); err != nil && !errors.Is(err, s.gracefulCtx.Err()) {
		slog.Error("Job poller encountered an error", "err", err)
		return fmt.Errorf("job poller error: %v", err)
	}
	slog.Info("Job poller stopped")
	return nil
}

func (s *Service) runRegistry() error {
	slog.Info("Starting service registry watcher")
	defer s.gracefulCancel() // Request stop if the watcher fails.

	reloaded, watchErrs, err := s.registry.Watch(s.gracefulCtx)
	if err != nil {
		slog.Error("Service registry watcher failed to start", "err", err)
		return fmt.Errorf("registry watcher error: %v", err)
	}

	for {
		select {
		case <-s.gracefulCtx.Done():
			slog.Info("Service registry watcher stopped")
			return nil
		case _, ok := <-reloaded:
			if !ok {
				return nil
			}
			slog.Info("Service registry reloaded")
		case werr, ok := <-watchErrs:
			if !ok {
				return nil
			}
			slog.Warn("Service registry watch error", "err", werr)
		}
	}
}

func (s *Service) runMetrics() error {
	slog.Info("Starting metrics server")
	defer s.gracefulCancel() // Request stop if metrics fail.

	metricsErrCh := make(chan error, 1)
	go func() {
		defer close(metricsErrCh)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrCh <- err
		}
	}()

	select {
	case <-s.ctx.Done():
		slog.Info("Closing metrics server", "reason", s.ctx.Err())
		s.metricsServer.Close()
		return nil
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated for metrics server")
		if err := s.metricsServer.Shutdown(s.ctx); err != nil {
			slog.Error("Metrics server graceful shutdown encountered error", "err", err)
			return fmt.Errorf("metrics server shutdown error: %v", err)
		}
	case err := <-metricsErrCh:
		// No need to shutdown or close, just propagate the error.
		if err != nil {
			slog.Error("Metrics server encountered error", "err", err)
			return fmt.Errorf("metrics server error: %v", err)
		}
	}
	slog.Info("Metrics server shut down gracefully")
	return nil
}

// Quit stops the ETL service.
// Blocks until the service has finished running.
func (s *Service) Quit(force bool) {
	slog.Info("Stopping ETL service")

	if force {
		s.cancel()
		s.metricsServer.Close()
	} else {
		s.gracefulCancel()
	}

	<-s.running // Wait for the service to finish running.
}
