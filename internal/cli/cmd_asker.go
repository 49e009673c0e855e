package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"surveydesk/internal/ask"
)

func newAskerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asker",
		Short: "Import and dump questionnaire documents",
	}
	cmd.AddCommand(newAskerImportCmd(opts))
	cmd.AddCommand(newAskerDumpCmd(opts))
	return cmd
}

func newAskerImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <asker-id> <file>",
		Short: "Apply a YAML document to an asker; id 0 creates a new asker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id < 0 {
				return fmt.Errorf("invalid asker id %q", args[0])
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}

			conn, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			report, err := ask.NewService(conn).ImportYAML(cmd.Context(), id, string(raw))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"asker %d: %d pages, %d questions (%d new, %d modified), %d choicesets\n",
				report.AskerID, report.Pages, report.Questions,
				report.CreatedQuestions, report.ModifiedQuestions, report.ChoiceSets)
			return nil
		},
	}
}

func newAskerDumpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <asker-id>",
		Short: "Print an asker as a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid asker id %q", args[0])
			}

			conn, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			out, err := ask.NewService(conn).DumpYAML(cmd.Context(), id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}
