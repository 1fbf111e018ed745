package warden_test

import (
	"context"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/aussiebroadwan/warden/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common constants and helper functions for warden end-to-end tests.
 * This includes container setup, operator commands, and assertions.
 */

const (
	testImageName = "warden-e2e:latest"

	adminUsername  = "walter"
	adminEmail     = "walter@example.com"
	adminPassword  = "shomer-shabbos"
	memberUsername = "donny"
	memberEmail    = "donny@example.com"
	memberPassword = "phone-is-ringing"
)

// TestMain builds the image once before all tests and removes it afterwards.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		fmt.Fprintln(os.Stdout, "skipping end-to-end tests in short mode")
		os.Exit(0)
	}

	fmt.Fprintf(os.Stdout, "Building warden Docker image...")
	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up warden Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

func buildDockerImage() error {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/warden/Dockerfile",
		"../../../")
	cmd.Stdout = os.Stdout
	cmd.Stderr = nil

	return cmd.Run()
}

func cleanupDockerImage() {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "rmi", "-f", testImageName)
	_ = cmd.Run() // the image may already be gone
}

// relaxedEnv raises the credential endpoint limits so tests that log in
// repeatedly do not trip them.
func relaxedEnv() map[string]string {
	return map[string]string{
		"WARDEN_LOGIN_LIMIT_REQUESTS": "1000",
		"WARDEN_LOGIN_LIMIT_BURST":    "1000",
	}
}

type wardenContainer struct {
	testcontainers.Container
	BaseURL string
}

// setupWarden starts the service with the given extra environment and
// returns its base URL. opts can attach the container to a network.
func setupWarden(t *testing.T, env map[string]string, opts ...testcontainers.CustomizeRequestOption) *wardenContainer {
	t.Helper()
	ctx := context.Background()

	base := map[string]string{
		"ENV":                  "test",
		"LOG_LEVEL":            "info",
		"LOG_FORMAT":           "json",
		"WARDEN_ISSUER":        "warden-e2e",
		"WARDEN_NUM_KEYS":      "1",
		"WARDEN_TOTP_OPTIONAL": "true",
	}
	maps.Copy(base, env)

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImageName,
			ExposedPorts: []string{"8080/tcp"},
			Env:          base,
			WaitingFor: wait.ForHTTP("/livez").
				WithPort("8080/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	}
	for _, opt := range opts {
		require.NoError(t, opt.Customize(&req))
	}

	container, err := testcontainers.GenericContainer(ctx, req)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	return &wardenContainer{
		Container: container,
		BaseURL:   fmt.Sprintf("http://%s:%s", host, mappedPort.Port()),
	}
}

// warden runs the CLI inside the container, feeding stdin when given, and
// returns its combined output.
func (c *wardenContainer) warden(t *testing.T, stdin string, args ...string) (int, string) {
	t.Helper()

	cmd := append([]string{"warden"}, args...)
	if stdin != "" {
		script := fmt.Sprintf("printf '%%s\\n' '%s' | warden", stdin)
		for _, a := range args {
			script += fmt.Sprintf(" '%s'", a)
		}
		cmd = []string{"sh", "-c", script}
	}

	code, reader, err := c.Exec(context.Background(), cmd, tcexec.Multiplexed())
	require.NoError(t, err)

	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	return code, string(out)
}

// provision seeds an administrator and a plain member with the CLI.
func (c *wardenContainer) provision(t *testing.T) {
	t.Helper()

	code, out := c.warden(t, adminPassword, "user", "add",
		"--username", adminUsername, "--email", adminEmail, "--role", "admin")
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "created "+adminUsername)

	code, out = c.warden(t, memberPassword, "user", "add",
		"--username", memberUsername, "--email", memberEmail)
	require.Equal(t, 0, code, out)
	require.Contains(t, out, "roles=member")
}

func login(t *testing.T, client *authsdk.SDKClient, username, password string) *authsdk.Session {
	t.Helper()

	session, err := client.Login(t.Context(), username, password, "")
	require.NoError(t, err, "login should succeed")
	require.NotEmpty(t, session.AccessToken())
	return session
}

// assertHealthy verifies a health check response is OK.
func assertHealthy(t *testing.T, health *authsdk.HealthResponse, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, health)
	require.Equal(t, "ok", health.Status)
}
