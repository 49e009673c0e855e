package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"surveydesk/internal/export"
	"surveydesk/internal/study"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		askerIDs       []int64
		studies        []string
		replyIDs       []int64
		reference      string
		exclude        []string
		format         string
		out            string
		includePreview bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export answers in wide format as a zip archive or xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, cfg, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			svc := export.NewService(study.NewStore(conn), export.DirUploadStore{Root: cfg.UploadDir})
			archive, err := svc.Export(cmd.Context(), export.Request{
				AskerIDs:       askerIDs,
				StudySlugs:     studies,
				ReplyIDs:       replyIDs,
				IncludePreview: includePreview,
				ReferenceStudy: reference,
				Exclude:        exclude,
				Format:         format,
			})
			if err != nil {
				return err
			}

			if out == "" {
				out = archive.Filename
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}
			if err := os.WriteFile(out, archive.Body, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", archive.Rows, out)
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&askerIDs, "asker", nil, "asker id (repeatable)")
	cmd.Flags().StringSliceVar(&studies, "study", nil, "study slug (repeatable)")
	cmd.Flags().Int64SliceVar(&replyIDs, "reply", nil, "reply id (repeatable)")
	cmd.Flags().StringVar(&reference, "reference", "", "reference study slug for is_reference_study")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "context columns to leave out")
	cmd.Flags().StringVar(&format, "format", export.FormatZip, "zip or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default exported_data.<format>)")
	cmd.Flags().BoolVar(&includePreview, "include-preview", false, "include preview replies")
	return cmd
}
