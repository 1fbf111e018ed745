package service

import (
	"context"
	"errors"
	"strings"

	"github.com/aussiebroadwan/warden/pkg/jwtx"
)

// Policy is a role requirement evaluated against a decoded token.
type Policy struct {
	all   bool
	roles []string
}

// Required passes only when every role is present.
func Required(roles ...string) Policy {
	return Policy{all: true, roles: jwtx.NormalizeRoles(roles)}
}

// Accepted passes when at least one role is present.
func Accepted(roles ...string) Policy {
	return Policy{all: false, roles: jwtx.NormalizeRoles(roles)}
}

func (p Policy) Roles() []string { return append([]string(nil), p.roles...) }

// Name is "required" or "accepted".
func (p Policy) Name() string {
	if p.all {
		return "required"
	}
	return "accepted"
}

func (p Policy) String() string {
	return p.Name() + "(" + strings.Join(p.roles, ",") + ")"
}

// Check evaluates the policy. An empty role list always passes, even for
// a token without roles.
func (p Policy) Check(tok jwtx.Token) error {
	if len(p.roles) == 0 {
		return nil
	}

	if p.all {
		var missing []string
		for _, r := range p.roles {
			if !tok.HasRole(r) {
				missing = append(missing, r)
			}
		}
		if len(missing) > 0 {
			return &MissingRoleError{Policy: p.String(), Missing: missing}
		}
		return nil
	}

	for _, r := range p.roles {
		if tok.HasRole(r) {
			return nil
		}
	}
	return &MissingRoleError{Policy: p.String(), Missing: p.Roles()}
}

// Authorize checks tok against p. tok must come from Decode.
func (s *AuthService) Authorize(tok jwtx.Token, p Policy) error {
	err := p.Check(tok)
	switch {
	case err == nil:
		s.metrics.authorization(p.Name(), "allowed")
	case errors.Is(err, ErrMissingRole):
		s.metrics.authorization(p.Name(), "denied")
	}
	return err
}

// AuthorizeToken decodes raw as an access token and then applies p.
func (s *AuthService) AuthorizeToken(ctx context.Context, raw string, p Policy) (jwtx.Token, error) {
	tok, err := s.tokens.Decode(ctx, raw, jwtx.KindAccess)
	if err != nil {
		return jwtx.Token{}, err
	}
	if err := s.Authorize(tok, p); err != nil {
		return jwtx.Token{}, err
	}
	return tok, nil
}
