// Package registry manages the static service-name to base-URL table used
// to resolve service connection specs.
//
// The table ships with defaults for the known Construction Hub
// microservices and can be overridden from a JSON file, which is watched
// for changes so edits take effect without a restart.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// defaultServices is the built-in service table.
var defaultServices = map[string]string{
	"accounts-payable":          "http://localhost:8001/api",
	"accounts-receivable":       "http://localhost:8002/api",
	"authentication":            "http://localhost:8003/api",
	"cash-flow":                 "http://localhost:8004/api",
	"company":                   "http://localhost:8005/api",
	"create-people":             "http://localhost:8006/api",
	"employee-costs":            "http://localhost:8007/api",
	"project-management":        "http://localhost:8008/api",
	"supplier":                  "http://localhost:8009/api",
	"bank-integration":          "http://localhost:8010/api",
	"financial-reports":         "http://localhost:8011/api",
	"communication":             "http://localhost:8012/api",
	"calculation-materials":     "http://localhost:8013/api",
	"construction-integrations": "http://localhost:8014/api",
}

// Manager resolves service names to base URLs and watches the backing file
// for changes.
type Manager struct {
	path string

	mu       sync.RWMutex
	services map[string]string
}

type registryFile struct {
	Services map[string]string `json:"services"`
}

// New creates a registry manager. An empty path serves the built-in table
// only.
func New(path string) *Manager {
	return &Manager{
		path:     path,
		services: maps.Clone(defaultServices),
	}
}

// Load reads the registry file and merges it over the built-in table.
// Without a configured path it resets to the defaults.
func (m *Manager) Load() error {
	merged := maps.Clone(defaultServices)

	if m.path != "" {
		data, err := os.ReadFile(m.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("Service registry file not found, using built-in table", "path", m.path)
		case err != nil:
			return fmt.Errorf("failed to read service registry: %v", err)
		default:
			var file registryFile
			if err := json.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse service registry: %v", err)
			}
			maps.Copy(merged, file.Services)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = merged
	return nil
}

// BaseURL resolves a service name to its base URL.
func (m *Manager) BaseURL(service string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url, ok := m.services[service]
	return url, ok
}

// Services returns the known service names, sorted.
func (m *Manager) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch loads the registry file and watches it for changes, reloading on
// each write. It returns a reload notification channel and an error channel,
// both closed when the context is done.
//
// Without a configured path there is nothing to watch and both channels are
// nil.
func (m *Manager) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if m.path == "" {
		return nil, nil, nil
	}
	if err := m.Load(); err != nil {
		return nil, nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file watcher: %v", err)
	}

	// Watch the directory: editors commonly replace the file on save,
	// which would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("Service registry directory does not exist, not watching", "path", m.path)
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to watch registry directory: %v", err)
	}

	reloadCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)

	go func() {
		defer watcher.Close()
		defer close(reloadCh)
		defer close(errCh)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				if err := m.Load(); err != nil {
					slog.Warn("Failed to reload service registry", "err", err)
					select {
					case errCh <- err:
					default:
					}
					continue
				}
				slog.Info("Service registry reloaded", "path", m.path)
				select {
				case reloadCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return reloadCh, errCh, nil
}
