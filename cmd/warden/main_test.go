package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/store/drivers/sqlite"
	"github.com/aussiebroadwan/warden/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// writeConfig points the CLI at a fresh database and pepper.
func writeConfig(t *testing.T) (path, dbFile, pepperFile string) {
	t.Helper()
	dir := t.TempDir()
	dbFile = filepath.Join(dir, "warden.db")
	pepperFile = filepath.Join(dir, "pepper")

	body := "log_level: error\n" +
		"database_file: " + dbFile + "\n" +
		"pepper_file: " + pepperFile + "\n" +
		"tokens:\n  num_keys: 1\n"

	path = filepath.Join(dir, "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dbFile, pepperFile
}

func TestParseDuration(t *testing.T) {
	out, err := run(t, "", "parse-duration", "1 hour,", "30 minutes")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "1h30m", lines[0])

	exp, err := time.Parse(time.RFC3339, strings.TrimPrefix(lines[1], "expires "))
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(90*time.Minute), exp, 5*time.Second)

	_, err = run(t, "", "parse-duration", "whenever")
	require.Error(t, err)

	_, err = run(t, "", "parse-duration")
	require.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	cfg, _, pepperFile := writeConfig(t)

	out, err := run(t, "mark-it-zero\n", "--config", cfg, "hash-password")
	require.NoError(t, err)
	digest := strings.TrimSpace(out)

	pepper, err := os.ReadFile(pepperFile)
	require.NoError(t, err)
	hasher := cryptox.NewSchemeHasher(strings.TrimSpace(string(pepper)))
	require.True(t, hasher.Verify("mark-it-zero", digest))
	require.False(t, hasher.Verify("mark-it-eight", digest))

	_, err = run(t, "", "--config", cfg, "hash-password")
	require.Error(t, err)
}

func TestUserAdd(t *testing.T) {
	cfg, dbFile, _ := writeConfig(t)

	out, err := run(t, "nihilists!\n", "--config", cfg,
		"user", "add", "--username", "walter", "--email", "walter@example.com", "--role", "admin", "--role", "operator")
	require.NoError(t, err)
	require.Contains(t, out, "created walter")
	require.Contains(t, out, "roles=admin,operator")

	st, err := sqlite.NewStore(dbFile)
	require.NoError(t, err)
	defer st.Close()

	p, err := st.Users().GetByUsername(context.Background(), "walter")
	require.NoError(t, err)
	require.True(t, p.Active)
	require.Equal(t, []string{"admin", "operator"}, p.Roles)

	_, err = run(t, "nihilists!\n", "--config", cfg,
		"user", "add", "--username", "walter", "--email", "walter@example.com")
	require.Error(t, err)

	_, err = run(t, "nihilists!\n", "--config", cfg, "user", "add", "--username", "donny")
	require.Error(t, err)
}

func TestRevoke(t *testing.T) {
	cfg, dbFile, _ := writeConfig(t)

	exp := time.Now().Add(time.Hour).Unix()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   "01HZN3XS000000000000000000",
		"kind": "refresh",
		"jti":  "stolen-jti",
		"exp":  exp,
	}).SignedString([]byte("signed-by-a-key-we-no-longer-hold"))
	require.NoError(t, err)

	out, err := run(t, "", "--config", cfg, "revoke", "--reason", "leaked", raw)
	require.NoError(t, err)
	require.Contains(t, out, "revoked stolen-jti")
	require.Contains(t, out, "kind refresh")

	st, err := sqlite.NewStore(dbFile)
	require.NoError(t, err)
	defer st.Close()

	revoked, err := st.Revocations().IsRevoked(context.Background(), "stolen-jti")
	require.NoError(t, err)
	require.True(t, revoked)

	_, err = run(t, "", "--config", cfg, "revoke", "not-a-jwt")
	require.Error(t, err)
}
