package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/pkg/cryptox"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
)

// SendResetEmail mails a reset token to the principal owning email. An
// unknown or inactive address is not an error, so callers cannot probe for
// accounts; the returned token is empty in that case.
func (s *AuthService) SendResetEmail(ctx context.Context, email string) (string, error) {
	l := slogx.FromContext(ctx)

	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	p, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.Info("password reset requested for unknown email")
			return "", nil
		}
		return "", fmt.Errorf("lookup principal: %w", err)
	}
	if !p.Active {
		l.Info("password reset requested for inactive principal", slog.String("sub", p.ID))
		return "", nil
	}

	raw, tok, err := s.tokens.issue(jwtx.KindReset, p, nil, nil)
	if err != nil {
		return "", err
	}

	if s.mailer != nil {
		msg, err := s.templates.reset(p.Email, MailData{
			Username:  p.Username,
			Email:     p.Email,
			Token:     raw,
			ExpiresAt: tok.ExpiresAt,
		})
		if err != nil {
			return "", err
		}
		if err := s.sendMail(ctx, msg); err != nil {
			return "", err
		}
	}

	l.Info("password reset issued", slog.String("sub", p.ID), slog.String("jti", tok.ID))
	return raw, nil
}

// ValidateResetToken checks a reset token without consuming it and returns
// the principal it belongs to.
func (s *AuthService) ValidateResetToken(ctx context.Context, raw string) (domain.Principal, error) {
	_, p, err := s.resetPrincipal(ctx, raw)
	return p, err
}

func (s *AuthService) resetPrincipal(ctx context.Context, raw string) (jwtx.Token, domain.Principal, error) {
	tok, err := s.tokens.Decode(ctx, raw, jwtx.KindReset)
	if err != nil {
		return jwtx.Token{}, domain.Principal{}, err
	}

	p, err := s.store.Users().GetByID(ctx, tok.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jwtx.Token{}, domain.Principal{}, fmt.Errorf("%w: principal no longer exists", ErrInvalidToken)
		}
		return jwtx.Token{}, domain.Principal{}, err
	}
	if !p.Active {
		return jwtx.Token{}, domain.Principal{}, ErrInactivePrincipal
	}
	return tok, p, nil
}

// ResetPassword consumes a reset token and replaces the password. When a
// revocation store is configured the token is consumed before the password
// changes.
func (s *AuthService) ResetPassword(ctx context.Context, raw, newPassword string) error {
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	tok, p, err := s.resetPrincipal(ctx, raw)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if s.tokens.CanRevoke() {
		if err := s.tokens.claim(ctx, tok, "password reset"); err != nil {
			return err
		}
	}

	if err := s.store.Users().UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	slogx.FromContext(ctx).Info("password reset", slog.String("sub", p.ID), slog.String("token_fp", cryptox.FingerprintToken(raw)))
	return nil
}
