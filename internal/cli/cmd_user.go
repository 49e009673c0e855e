package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"surveydesk/internal/auth"
)

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd(opts))
	return cmd
}

func newUserCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		email    string
		fullName string
		password string
		groups   []string
	)
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user; the password is read from stdin unless --password is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			conn, cfg, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			svc := auth.NewService(conn, auth.ServiceConfig{SessionTTL: cfg.SessionTTL})
			u, err := svc.CreateUser(cmd.Context(), auth.CreateUserInput{
				Username: args[0],
				Email:    email,
				FullName: fullName,
				Password: password,
				Groups:   groups,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d, groups %s)\n", u.Username, u.ID, strings.Join(u.Groups, ","))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringVar(&password, "password", "", "password (avoid on shared machines)")
	cmd.Flags().StringSliceVar(&groups, "group", nil, "group membership: researcher, research_assistant or admin")
	return cmd
}
