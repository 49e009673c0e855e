package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"surveydesk/internal/roster"
)

func newRosterCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage studies and memberships",
	}
	cmd.AddCommand(newRosterStudyCmd(opts))
	cmd.AddCommand(newRosterImportCmd(opts))
	return cmd
}

func newRosterStudyCmd(opts *rootOptions) *cobra.Command {
	var (
		name       string
		conditions []string
	)
	cmd := &cobra.Command{
		Use:   "study <slug>",
		Short: "Create or rename a study and ensure its conditions exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			st, err := roster.NewService(conn).CreateStudy(cmd.Context(), 0, roster.CreateStudyInput{
				Slug:       args[0],
				Name:       name,
				Conditions: conditions,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "study %d: %s\n", st.ID, st.Slug)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the slug)")
	cmd.Flags().StringSliceVar(&conditions, "condition", nil, "condition tag (repeatable)")
	return cmd
}

func newRosterImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Enrol participants from a CSV file",
		Long: `Columns username and study are required; condition, date_randomised,
full_name and email are optional. Failed rows are listed and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			conn, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			report, err := roster.NewService(conn).ImportMembershipsCSV(cmd.Context(), 0, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d rows: %d imported, %d failed\n", report.TotalRows, report.SuccessRows, report.FailedRows)
			for _, e := range report.Errors {
				fmt.Fprintf(out, "  row %d: %s\n", e.Row, e.Error)
			}
			return nil
		},
	}
}
