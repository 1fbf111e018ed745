package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aussiebroadwan/warden/internal/guard/app"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the warden CLI.
func NewRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "warden",
		Short: "warden - credential issuance and access control",
		Long: `warden issues signed access and refresh tokens, runs the registration,
password reset and TOTP flows, and keeps a revocation list.

Configuration is read from an optional YAML file and the environment.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	load := func() (app.Config, error) {
		return app.LoadConfig(configFile)
	}

	cmd.AddCommand(NewServeCmd(load))
	cmd.AddCommand(NewHashPasswordCmd(load))
	cmd.AddCommand(NewRevokeCmd(load))
	cmd.AddCommand(NewUserCmd(load))
	cmd.AddCommand(NewParseDurationCmd())

	return cmd
}

// configLoader defers config loading until a subcommand runs, after flags
// are parsed.
type configLoader func() (app.Config, error)

// openApp wires the application for an operator command. Logs go to stderr
// so stdout only carries the command's result.
func openApp(cmd *cobra.Command, load configLoader) (*app.Application, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.WithLogOutput(cmd.ErrOrStderr()))
}

// readSecret reads a single line from r, as typed or piped in.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}
