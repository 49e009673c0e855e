// Package cli implements the surveydesk operator command line.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"surveydesk/internal/app"
	"surveydesk/internal/db"
)

type rootOptions struct {
	configFile string
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "surveydesk",
		Short: "Operate a surveydesk questionnaire database",
		Long: `surveydesk manages questionnaires, their answers and exports.

Examples:
  surveydesk migrate
  surveydesk user create ana --group researcher
  surveydesk asker import 3 mood.yaml
  surveydesk roster import participants.csv
  surveydesk export --asker 3 --reference trial --out export.zip`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (environment variables override it)")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newUserCmd(opts))
	cmd.AddCommand(newAskerCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newRosterCmd(opts))
	return cmd
}

// open loads configuration and connects to the configured database.
func (o *rootOptions) open(ctx context.Context) (*sql.DB, app.Config, error) {
	cfg, err := app.LoadConfig(o.configFile)
	if err != nil {
		return nil, app.Config{}, err
	}
	conn, err := db.Open(ctx, cfg.DBDriver, cfg.DBDSN, cfg.PoolConfig())
	if err != nil {
		return nil, app.Config{}, err
	}
	return conn, cfg, nil
}
