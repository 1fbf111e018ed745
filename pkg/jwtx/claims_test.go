package jwtx_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aussiebroadwan/warden/pkg/durationx"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 31, 12, 0, 0, 500_000_000, time.UTC)

func TestAssemble_WritesCoreClaims(t *testing.T) {
	claims, err := jwtx.Assemble(jwtx.AssembleParams{
		Kind:    jwtx.KindAccess,
		Subject: "user-1",
		TTL:     durationx.MustParse("15m"),
		Roles:   []string{"operator", " admin ", "operator", ""},
		Issuer:  "warden",
		Custom:  map[string]any{"tenant": "acme"},
		Now:     fixedNow,
	})
	require.NoError(t, err)

	require.Equal(t, "user-1", claims[jwtx.ClaimID])
	require.Equal(t, "access", claims[jwtx.ClaimKind])
	require.Equal(t, "operator,admin", claims[jwtx.ClaimRoles])
	require.Equal(t, "warden", claims[jwtx.ClaimIssuer])
	require.Equal(t, "acme", claims["tenant"])
	require.Equal(t, fixedNow.Truncate(time.Second).Unix(), claims[jwtx.ClaimIssuedAt])
	require.Equal(t, fixedNow.Truncate(time.Second).Add(15*time.Minute).Unix(), claims[jwtx.ClaimExpiresAt])
	require.NotEmpty(t, claims[jwtx.ClaimJTI])
	require.NotContains(t, claims, jwtx.ClaimRefreshExpiry)
}

func TestAssemble_CalendarTTL(t *testing.T) {
	claims, err := jwtx.Assemble(jwtx.AssembleParams{
		Kind:    jwtx.KindRefresh,
		Subject: "user-1",
		TTL:     durationx.MustParse("1mo"),
		Now:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC).Unix(), claims[jwtx.ClaimExpiresAt])
}

func TestAssemble_UniqueJTI(t *testing.T) {
	seen := map[any]bool{}
	for i := 0; i < 100; i++ {
		claims, err := jwtx.Assemble(jwtx.AssembleParams{
			Kind: jwtx.KindAccess, Subject: "u", TTL: durationx.MustParse("1m"), Now: fixedNow,
		})
		require.NoError(t, err)
		require.False(t, seen[claims[jwtx.ClaimJTI]])
		seen[claims[jwtx.ClaimJTI]] = true
	}
}

func TestAssemble_Rejects(t *testing.T) {
	base := jwtx.AssembleParams{Kind: jwtx.KindAccess, Subject: "u", TTL: durationx.MustParse("1m")}

	tests := []struct {
		name   string
		mutate func(*jwtx.AssembleParams)
		err    error
	}{
		{"reserved id", func(p *jwtx.AssembleParams) { p.Custom = map[string]any{"id": "x"} }, jwtx.ErrReservedClaim},
		{"reserved exp", func(p *jwtx.AssembleParams) { p.Custom = map[string]any{"exp": 1} }, jwtx.ErrReservedClaim},
		{"reserved sub", func(p *jwtx.AssembleParams) { p.Custom = map[string]any{"sub": "x"} }, jwtx.ErrReservedClaim},
		{"extra reserved", func(p *jwtx.AssembleParams) {
			p.Custom = map[string]any{"tenant": "x"}
			p.Reserved = []string{"tenant"}
		}, jwtx.ErrReservedClaim},
		{"comma in role", func(p *jwtx.AssembleParams) { p.Roles = []string{"a,b"} }, jwtx.ErrInvalidRole},
		{"unknown kind", func(p *jwtx.AssembleParams) { p.Kind = "session" }, jwtx.ErrMalformedClaim},
		{"empty subject", func(p *jwtx.AssembleParams) { p.Subject = "" }, jwtx.ErrMalformedClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			_, err := jwtx.Assemble(p)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDisassemble_RoundTripThroughJSON(t *testing.T) {
	rf := fixedNow.Add(24 * time.Hour)
	claims, err := jwtx.Assemble(jwtx.AssembleParams{
		Kind:             jwtx.KindAccess,
		Subject:          "user-1",
		TTL:              durationx.MustParse("1h"),
		Roles:            []string{"operator"},
		Custom:           map[string]any{"tenant": "acme"},
		RefreshExpiresAt: &rf,
		Now:              fixedNow,
	})
	require.NoError(t, err)

	// Claims arriving from a verified token have passed through JSON.
	b, err := json.Marshal(claims)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))

	tok, err := jwtx.Disassemble(decoded)
	require.NoError(t, err)

	require.Equal(t, jwtx.KindAccess, tok.Kind)
	require.Equal(t, "user-1", tok.Subject)
	require.Equal(t, []string{"operator"}, tok.Roles)
	require.Equal(t, claims[jwtx.ClaimJTI], tok.ID)
	require.Equal(t, fixedNow.Truncate(time.Second), tok.IssuedAt)
	require.Equal(t, fixedNow.Truncate(time.Second).Add(time.Hour), tok.ExpiresAt)
	require.NotNil(t, tok.RefreshExpiresAt)
	require.Equal(t, rf.Truncate(time.Second), *tok.RefreshExpiresAt)
	require.Equal(t, map[string]any{"tenant": "acme"}, tok.Custom)
	require.True(t, tok.HasRole("operator"))
	require.False(t, tok.HasRole("admin"))
}

func TestDisassemble_Roles(t *testing.T) {
	base := func(rls any) map[string]any {
		m := map[string]any{"id": "u", "kind": "access", "jti": "j", "exp": float64(10)}
		if rls != nil {
			m["rls"] = rls
		}
		return m
	}

	tok, err := jwtx.Disassemble(base(nil))
	require.NoError(t, err)
	require.Empty(t, tok.Roles)

	tok, err = jwtx.Disassemble(base(""))
	require.NoError(t, err)
	require.Empty(t, tok.Roles)

	tok, err = jwtx.Disassemble(base([]any{"a", "b"}))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, tok.Roles)

	_, err = jwtx.Disassemble(base([]any{"a", 1}))
	require.ErrorIs(t, err, jwtx.ErrMalformedClaim)

	_, err = jwtx.Disassemble(base(42))
	require.ErrorIs(t, err, jwtx.ErrMalformedClaim)
}

func TestDisassemble_RequiresCoreClaims(t *testing.T) {
	full := map[string]any{"id": "u", "kind": "access", "jti": "j", "exp": float64(10)}

	for _, missing := range []string{"id", "kind", "jti", "exp"} {
		t.Run(missing, func(t *testing.T) {
			m := map[string]any{}
			for k, v := range full {
				if k != missing {
					m[k] = v
				}
			}
			_, err := jwtx.Disassemble(m)
			require.ErrorIs(t, err, jwtx.ErrMalformedClaim)
		})
	}

	bad := map[string]any{"id": "u", "kind": "session", "jti": "j", "exp": float64(10)}
	_, err := jwtx.Disassemble(bad)
	require.ErrorIs(t, err, jwtx.ErrMalformedClaim)
}

func TestToken_Expired(t *testing.T) {
	tok := jwtx.Token{ExpiresAt: fixedNow}
	require.False(t, tok.Expired(fixedNow.Add(-time.Second)))
	require.True(t, tok.Expired(fixedNow))
	require.True(t, tok.Expired(fixedNow.Add(time.Second)))
}
