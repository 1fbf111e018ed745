package main

import (
	"fmt"
	"strings"

	"github.com/aussiebroadwan/warden/internal/guard/service"
	"github.com/spf13/cobra"
)

// NewUserCmd creates the user subcommand.
func NewUserCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage principals",
	}

	cmd.AddCommand(newUserAddCmd(load))

	return cmd
}

func newUserAddCmd(load configLoader) *cobra.Command {
	var (
		username string
		email    string
		roles    []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an active principal",
		Long: `Create an active principal without the registration mail. The password
is read from stdin. Use it to seed the first administrator.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}

			application, err := openApp(cmd, load)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			p, err := application.AuthService().Provision(cmd.Context(), service.RegisterParams{
				Username: username,
				Email:    email,
				Password: password,
				Roles:    roles,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) roles=%s\n", p.Username, p.ID, strings.Join(p.Roles, ","))
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant, repeatable (defaults to the configured default roles)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
