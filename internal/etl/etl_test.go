package etl_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construction-hub/analytics-service/internal/etl"
)

func TestRunStopsOnGracefulQuit(t *testing.T) {
	t.Parallel()

	service := newService(t, &stubPoller{}, &stubWatcher{}, newStubMetrics())

	runErr := runAsync(t, service)

	// Give the sub-services a moment to start before stopping.
	time.Sleep(100 * time.Millisecond)
	service.Quit(false)

	select {
	case err := <-runErr:
		require.NoError(t, err, "Expected a graceful shutdown without errors")
	case <-time.After(5 * time.Second):
		require.Fail(t, "Timed out waiting for Run to return")
	}
}

func TestRunStopsOnForceQuit(t *testing.T) {
	t.Parallel()

	service := newService(t, &stubPoller{}, &stubWatcher{}, newStubMetrics())

	runErr := runAsync(t, service)

	time.Sleep(100 * time.Millisecond)
	service.Quit(true)

	select {
	case err := <-runErr:
		require.NoError(t, err, "Expected a forced shutdown without errors")
	case <-time.After(5 * time.Second):
		require.Fail(t, "Timed out waiting for Run to return")
	}
}

func TestRunPropagatesSubServiceFailures(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		pollerErr  error
		watchErr   error
		metricsErr error

		wantErrContains string
	}{
		"Poller failure": {
			pollerErr:       errors.New("db on fire"),
			wantErrContains: "job poller error",
		},
		"Registry watch start failure": {
			watchErr:        errors.New("no such directory"),
			wantErrContains: "registry watcher error",
		},
		"Metrics server failure": {
			metricsErr:      errors.New("port in use"),
			wantErrContains: "metrics server error",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			poller := &stubPoller{err: tc.pollerErr}
			watcher := &stubWatcher{startErr: tc.watchErr}
			metrics := newStubMetrics()
			metrics.serveErr = tc.metricsErr

			service := newService(t, poller, watcher, metrics)

			runErr := runAsync(t, service)

			select {
			case err := <-runErr:
				require.Error(t, err, "Expected Run to fail")
				assert.ErrorContains(t, err, tc.wantErrContains, "unexpected failure reason")
			case <-time.After(5 * time.Second):
				require.Fail(t, "Timed out waiting for Run to return")
			}
		})
	}
}

func TestRunAfterQuitFails(t *testing.T) {
	t.Parallel()

	service := newService(t, &stubPoller{}, &stubWatcher{}, newStubMetrics())
	service.Quit(false)

	require.Error(t, service.Run(), "Run after Quit should fail")
}

func newService(t *testing.T, poller *stubPoller, watcher *stubWatcher, metrics *stubMetrics) *etl.Service {
	t.Helper()
	return etl.New(t.Context(), poller, watcher, metrics, 10*time.Millisecond)
}

func runAsync(t *testing.T, service *etl.Service) chan error {
	t.Helper()

	runErr := make(chan error, 1)
	go func() {
		defer close(runErr)
		runErr <- service.Run()
	}()
	return runErr
}

type stubPoller struct {
	err error
}

func (p *stubPoller) Run(ctx context.Context, _ time.Duration) error {
	if p.err != nil {
		return p.err
	}
	<-ctx.Done()
	return ctx.Err()
}

type stubWatcher struct {
	startErr error
}

func (w *stubWatcher) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if w.startErr != nil {
		return nil, nil, w.startErr
	}

	reloadCh := make(chan struct{})
	errCh := make(chan error)
	go func() {
		<-ctx.Done()
		close(reloadCh)
		close(errCh)
	}()
	return reloadCh, errCh, nil
}

type stubMetrics struct {
	serveErr error
	shutdown chan struct{}
	once     sync.Once
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{shutdown: make(chan struct{})}
}

func (m *stubMetrics) ListenAndServe() error {
	if m.serveErr != nil {
		return m.serveErr
	}
	<-m.shutdown
	return nil
}

func (m *stubMetrics) Shutdown(context.Context) error {
	m.close()
	return nil
}

func (m *stubMetrics) Close() error {
	m.close()
	return nil
}

func (m *stubMetrics) close() {
	m.once.Do(func() { close(m.shutdown) })
}
