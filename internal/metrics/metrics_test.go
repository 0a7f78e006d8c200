package metrics_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construction-hub/analytics-service/internal/metrics"
)

func TestListenAndServe(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg     *metrics.Config
		wantErr bool
	}{
		"Default configuration": {},

		"Bad port": {
			cfg: &metrics.Config{
				Port: -1, // Invalid port
			},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tc.cfg = initConfig(t, tc.cfg)

			reg := prometheus.NewRegistry()
			server := metrics.New(*tc.cfg, reg, nil)

			errCh := listenAndServeAsync(t, server)
			defer server.Close()

			select {
			case err := <-errCh:
				if tc.wantErr {
					require.Error(t, err, "Expected ListenAndServe to fail")
					return
				}
				require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
			case <-time.After(500 * time.Millisecond):
				require.False(t, tc.wantErr, "Expected ListenAndServe to return an error but it did not")
			}

			resp := sendRequest(t, server, "/metrics")
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode, "Expected metrics endpoint to return 200 OK")
		})
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "etl_test_events_total",
		Help: "Test counter.",
	})
	require.NoError(t, reg.Register(counter), "Setup: failed to register counter")
	counter.Add(3)

	server := startServer(t, reg, nil)

	resp := sendRequest(t, server, "/metrics")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "Expected metrics endpoint to return 200 OK")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "Expected metrics body to read")

	want, err := testutil.CollectAndFormat(reg, expfmt.TypeTextPlain, "etl_test_events_total")
	require.NoError(t, err, "Failed to format registered metrics")
	require.NotEmpty(t, want, "Expected the registered counter to format")
	assert.Contains(t, string(body), string(want), "registered counter should be exposed")
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		checks map[string]metrics.HealthCheck

		wantStatus int
		wantChecks map[string]string
	}{
		"No checks": {
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{},
		},
		"Healthy checks": {
			checks: map[string]metrics.HealthCheck{
				"database": func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"database": "ok"},
		},
		"Failing check reports unavailable": {
			checks: map[string]metrics.HealthCheck{
				"database": func(context.Context) error { return errors.New("no connection") },
				"registry": func(context.Context) error { return nil },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "no connection", "registry": "ok"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			server := startServer(t, prometheus.NewRegistry(), tc.checks)

			resp := sendRequest(t, server, "/health")
			defer resp.Body.Close()
			require.Equal(t, tc.wantStatus, resp.StatusCode, "health status code mismatch")

			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), "Expected health response to decode")
			assert.Equal(t, tc.wantChecks, body.Checks, "health checks mismatch")
		})
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	server := startServer(t, prometheus.NewRegistry(), nil)

	resp := sendRequest(t, server, "/metrics")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "Expected metrics endpoint to return 200 OK")

	require.NoError(t, server.Shutdown(t.Context()), "Expected Shutdown to succeed")

	_, err := http.Get("http://" + server.Addr() + "/metrics")
	require.Error(t, err, "Expected error when sending request after shutdown")
}

func TestAddr(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	server := metrics.New(*initConfig(t, nil), reg, nil)
	require.Empty(t, server.Addr(), "Expected Addr to be empty before ListenAndServe")

	errCh := listenAndServeAsync(t, server)
	defer server.Close()

	select {
	case err := <-errCh:
		require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	require.NotEmpty(t, server.Addr(), "Expected Addr to be set after ListenAndServe")
}

func initConfig(t *testing.T, cfg *metrics.Config) *metrics.Config {
	t.Helper()

	if cfg == nil {
		cfg = &metrics.Config{}
	}

	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	return cfg
}

func startServer(t *testing.T, reg *prometheus.Registry, checks map[string]metrics.HealthCheck) *metrics.Server {
	t.Helper()

	server := metrics.New(*initConfig(t, nil), reg, checks)
	errCh := listenAndServeAsync(t, server)
	t.Cleanup(func() { server.Close() })

	select {
	case err := <-errCh:
		require.Failf(t, "ListenAndServe returned unexpectedly", "Got possible error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}
	return server
}

func listenAndServeAsync(t *testing.T, server *metrics.Server) chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		errCh <- server.ListenAndServe()
	}()
	return errCh
}

func sendRequest(t *testing.T, server *metrics.Server, path string) *http.Response {
	t.Helper()

	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err, "Expected request to %s to succeed", path)
	return resp
}
