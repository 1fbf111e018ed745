package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/warden/pkg/durationx"
	"github.com/spf13/cobra"
)

// NewParseDurationCmd creates the parse-duration subcommand.
func NewParseDurationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-duration <text>",
		Short: "Check a token lifetime setting",
		Long: `Parse duration text the way token lifetimes are parsed and print the
normalized form and when a token issued now would expire.

Examples:
  warden parse-duration "1 hour, 30 minutes"
  warden parse-duration 30d`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := durationx.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}

			now := time.Now().UTC().Truncate(time.Second)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", d, d.AddTo(now).Format(time.RFC3339))
			return nil
		},
	}
}
