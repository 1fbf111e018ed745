package main

import (
	"fmt"

	"github.com/aussiebroadwan/warden/pkg/cryptox"
	"github.com/spf13/cobra"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Long: `Hash a password read from stdin with the configured pepper and print
the digest. The digest can be written to the database by hand when
recovering an account.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}

			pepper, err := cryptox.LoadOrGeneratePepper(cfg.PepperFile)
			if err != nil {
				return err
			}

			digest, err := cryptox.NewSchemeHasher(pepper).Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
}
