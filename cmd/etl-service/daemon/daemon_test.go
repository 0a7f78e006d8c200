package daemon_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construction-hub/analytics-service/cmd/etl-service/daemon"
	"github.com/construction-hub/analytics-service/internal/constants"
)

func TestRootCmd(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")

	cmd := a.RootCmd()
	assert.NotNil(t, cmd, "Returned root cmd should not be nil")
	assert.Equal(t, constants.CmdName, cmd.Name())

	subcommands := make(map[string]bool)
	for _, c := range cmd.Commands() {
		subcommands[c.Name()] = true
	}
	for _, want := range []string{"migrate", "enqueue", "report", "version"} {
		assert.True(t, subcommands[want], "Root cmd should have a %s subcommand", want)
	}
}

func TestUsageError(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")

	a.SetSilenceUsage(true)
	assert.False(t, a.UsageError())

	a.SetSilenceUsage(false)
	assert.True(t, a.UsageError())
}

func TestVersion(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	err = a.Run()
	require.NoError(t, err, "Run should not return an error")
	require.False(t, a.UsageError(), "Version should not be a usage error")
}

func TestMigrateUsageErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// Make a fake file in dir
	fakeMigration := filepath.Join(dir, "fake.sql")
	require.NoError(t, os.WriteFile(fakeMigration, []byte(""), 0600), "Setup: couldn't write fake migration file")

	tests := map[string]struct {
		args []string
	}{
		"no path":           {},
		"multiple paths":    {args: []string{dir, dir}},
		"non-existent path": {args: []string{filepath.Join(dir, "non-existent-folder")}},
		"path to file":      {args: []string{fakeMigration}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a, err := daemon.New()
			require.NoError(t, err, "Setup: New should not return an error")
			args := append([]string{"migrate"}, tc.args...)
			a.SetArgs(args...)

			err = a.Run()
			require.Error(t, err, "Run should return an error")
			require.True(t, a.UsageError(), "Run should return a usage error")
		})
	}
}

func TestEnqueueRequiresSourceArgument(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args []string
	}{
		"no source":        {},
		"multiple sources": {args: []string{"src-1", "src-2"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a, err := daemon.New()
			require.NoError(t, err, "Setup: New should not return an error")
			args := append([]string{"enqueue"}, tc.args...)
			a.SetArgs(args...)

			err = a.Run()
			require.Error(t, err, "Run should return an error")
			require.True(t, a.UsageError(), "Run should return a usage error")
		})
	}
}

func TestConfigLoading(t *testing.T) {
	t.Parallel()

	conf := &daemon.AppConfig{
		Verbosity:    1,
		RegistryPath: filepath.Join(t.TempDir(), "services.json"),
		PollInterval: time.Minute,
		FetchTimeout: 10 * time.Second,
	}

	// The version subcommand loads the configuration without touching the database.
	a := daemon.NewForTests(t, conf, "version")

	err := a.Run()
	require.NoError(t, err, "Run should not return an error")

	got := a.Config()
	assert.Equal(t, conf.Verbosity, got.Verbosity, "Verbosity should be loaded from the config file")
	assert.Equal(t, conf.RegistryPath, got.RegistryPath, "RegistryPath should be loaded from the config file")
	assert.Equal(t, conf.PollInterval, got.PollInterval, "PollInterval should be loaded from the config file")
	assert.Equal(t, conf.FetchTimeout, got.FetchTimeout, "FetchTimeout should be loaded from the config file")
}
