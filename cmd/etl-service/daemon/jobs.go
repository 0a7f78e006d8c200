package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/construction-hub/analytics-service/internal/etl/models"
	"github.com/construction-hub/analytics-service/internal/etl/quality"
	"github.com/construction-hub/analytics-service/internal/store"
)

func installEnqueueCmd(app *App) {
	var jobName string

	enqueueCmd := &cobra.Command{
		Use:   "enqueue [source-id]",
		Short: "Queue an extraction job for a data source",
		Long:  "Queue a pending extraction job for the given data source. A running daemon picks it up on its next poll.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("enqueue command accepts exactly one argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = true

			db, err := store.Connect(context.Background(), app.config.DBconfig)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %v", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					slog.Warn("Failed to close database", "error", err)
				}
			}()

			source, err := db.Source(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load source: %v", err)
			}

			name := jobName
			if name == "" {
				name = fmt.Sprintf("%s extraction", source.Name)
			}

			job := models.Job{
				ID:       uuid.NewString(),
				SourceID: source.ID,
				Name:     name,
				Status:   models.JobPending,
			}
			if err := db.SaveJob(context.Background(), job); err != nil {
				return fmt.Errorf("failed to queue job: %v", err)
			}

			fmt.Printf("%s\n", job.ID)
			return nil
		},
	}
	enqueueCmd.Flags().StringVar(&jobName, "name", "", "name of the job, defaults to \"<source> extraction\"")

	app.cmd.AddCommand(enqueueCmd)
}

func installReportCmd(app *App) {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print a data quality report",
		Long:  "Print a JSON data quality report covering recent job outcomes and warehouse activity.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = true

			db, err := store.Connect(context.Background(), app.config.DBconfig)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %v", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					slog.Warn("Failed to close database", "error", err)
				}
			}()

			report, err := quality.New(db, db, db).Generate(context.Background())
			if err != nil {
				return fmt.Errorf("failed to generate quality report: %v", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	app.cmd.AddCommand(reportCmd)
}
