// Package daemon provides the analytics ETL service daemon for Construction Hub.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/construction-hub/analytics-service/internal/cli"
	"github.com/construction-hub/analytics-service/internal/constants"
	"github.com/construction-hub/analytics-service/internal/etl"
	"github.com/construction-hub/analytics-service/internal/etl/fetcher"
	"github.com/construction-hub/analytics-service/internal/etl/orchestrator"
	"github.com/construction-hub/analytics-service/internal/metrics"
	"github.com/construction-hub/analytics-service/internal/registry"
	"github.com/construction-hub/analytics-service/internal/store"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *etl.Service

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	MetricsConfig metrics.Config
	DBconfig      store.Config

	RegistryPath  string // Path to the service registry file
	PollInterval  time.Duration
	FetchTimeout  time.Duration
	MigrationsDir string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.CmdName,
		Short:         "Construction Hub analytics ETL service",
		Long:          "Construction Hub analytics ETL service extracts data from the platform microservices, validates and transforms it, and stores derived metrics in a PostgreSQL warehouse.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("got app config", "config", a.config)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	installMigrateCmd(&a)
	installEnqueueCmd(&a)
	installReportCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	// Daemon flags
	cmd.Flags().StringVar(&app.config.RegistryPath, "registry", constants.DefaultRegistryPath, "path to the service registry file")
	cmd.Flags().DurationVar(&app.config.PollInterval, "poll-interval", 30*time.Second, "interval between pending job polls")
	cmd.Flags().DurationVar(&app.config.FetchTimeout, "fetch-timeout", fetcher.DefaultTimeout, "timeout for a single endpoint fetch")

	// Metrics server flags
	cmd.Flags().DurationVar(&app.config.MetricsConfig.ReadTimeout, "read-timeout", 5*time.Second, "read timeout for the metrics HTTP server")
	cmd.Flags().DurationVar(&app.config.MetricsConfig.WriteTimeout, "write-timeout", 10*time.Second, "write timeout for the metrics HTTP server")
	cmd.Flags().StringVar(&app.config.MetricsConfig.Host, "metrics-host", "", "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.MetricsConfig.Port, "metrics-port", 2115, "port for the metrics endpoint")

	addDBFlags(cmd, &app.config.DBconfig)

	if err := cmd.MarkFlagFilename("registry", "json"); err != nil {
		panic(fmt.Sprintf("failed to mark registry flag as filename: %v", err))
	}
}

func addDBFlags(cmd *cobra.Command, config *store.Config) {
	cmd.Flags().StringVar(&config.Host, "db-host", "", "database host")
	cmd.Flags().IntVarP(&config.Port, "db-port", "p", 5432, "database port")
	cmd.Flags().StringVarP(&config.User, "db-user", "u", "", "database user")
	cmd.Flags().StringVarP(&config.Password, "db-password", "P", "", "database password")
	cmd.Flags().StringVarP(&config.DBName, "db-name", "n", "", "database name")
	cmd.Flags().StringVarP(&config.SSLMode, "db-sslmode", "s", "", "database SSL mode")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	db, err := store.Connect(context.Background(), a.config.DBconfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	services := registry.New(a.config.RegistryPath)
	if err := services.Load(); err != nil {
		return fmt.Errorf("failed to load service registry: %v", err)
	}

	reg := prometheus.NewRegistry()
	orch, err := orchestrator.New(db, db, services, fetcher.New(fetcher.WithTimeout(a.config.FetchTimeout)), db, reg)
	if err != nil {
		return fmt.Errorf("failed to create job orchestrator: %v", err)
	}

	metricsServer := metrics.New(a.config.MetricsConfig, reg, map[string]metrics.HealthCheck{
		"database": db.Ping,
	})

	a.daemon = etl.New(context.Background(), orch, services, metricsServer, a.config.PollInterval)
	close(a.ready)

	return a.daemon.Run()
}
