package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewRevokeCmd creates the revoke subcommand.
func NewRevokeCmd(load configLoader) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Add a token to the revocation list",
		Long: `Add a token to the revocation list. The signature is not checked, so
tokens signed by keys this instance no longer holds can still be revoked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(cmd, load)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			tok, err := application.AuthService().Tokens().Revoke(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s (sub %s, kind %s, expires %s)\n",
				tok.ID, tok.Subject, tok.Kind, tok.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "revoked by operator", "reason recorded with the revocation")

	return cmd
}
