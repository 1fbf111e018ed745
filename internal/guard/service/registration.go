package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/pkg/idx"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
	"github.com/aussiebroadwan/warden/pkg/mailx"
	"github.com/aussiebroadwan/warden/pkg/slogx"
)

// RegisterParams is the input to Register.
type RegisterParams struct {
	Username string
	Email    string
	Password string
	// Roles defaults to the service's DefaultRoles.
	Roles []string
}

func (p RegisterParams) validate() error {
	if p.Username == "" || strings.ContainsAny(p.Username, " \t\r\n@") {
		return fmt.Errorf("%w: username must be non-empty without spaces or @", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(p.Email)
	if err != nil || addr.Address != p.Email {
		return fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	return nil
}

// Register creates an inactive principal and mails it a registration token.
// The token is returned so callers without a mailer can deliver it
// themselves. If sending fails nothing is created.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (string, error) {
	p, err := s.newPrincipal(params, false)
	if err != nil {
		return "", err
	}

	var raw string
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Users().Create(ctx, p); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrIdentifierTaken
			}
			return fmt.Errorf("create principal: %w", err)
		}

		signed, tok, err := s.tokens.issue(jwtx.KindRegistration, p, nil, nil)
		if err != nil {
			return err
		}
		raw = signed

		if s.mailer == nil {
			return nil
		}
		msg, err := s.templates.registration(p.Email, MailData{
			Username:  p.Username,
			Email:     p.Email,
			Token:     raw,
			ExpiresAt: tok.ExpiresAt,
		})
		if err != nil {
			return err
		}
		return s.sendMail(ctx, msg)
	})
	if err != nil {
		return "", err
	}

	slogx.FromContext(ctx).Info("principal registered", slog.String("sub", p.ID), slog.String("username", p.Username))
	return raw, nil
}

// Provision creates an active principal directly, bypassing the
// registration mail. Operators use it to seed the first administrator.
func (s *AuthService) Provision(ctx context.Context, params RegisterParams) (domain.Principal, error) {
	p, err := s.newPrincipal(params, true)
	if err != nil {
		return domain.Principal{}, err
	}

	if err := s.store.Users().Create(ctx, p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Principal{}, ErrIdentifierTaken
		}
		return domain.Principal{}, fmt.Errorf("create principal: %w", err)
	}

	slogx.FromContext(ctx).Info("principal provisioned", slog.String("sub", p.ID), slog.String("username", p.Username))
	return p, nil
}

func (s *AuthService) newPrincipal(params RegisterParams, active bool) (domain.Principal, error) {
	params.Username = strings.TrimSpace(params.Username)
	params.Email = strings.TrimSpace(params.Email)
	if err := params.validate(); err != nil {
		return domain.Principal{}, err
	}
	if err := s.validatePassword(params.Password); err != nil {
		return domain.Principal{}, err
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("hash password: %w", err)
	}

	roles := jwtx.NormalizeRoles(params.Roles)
	if len(roles) == 0 {
		roles = s.defaultRoles
	}

	now := s.now().UTC()
	return domain.Principal{
		ID:           idx.NewAt(now).String(),
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		Roles:        roles,
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// FinalizeRegistration activates the principal named by a registration
// token and logs it in. When a revocation store is configured the token is
// consumed before the principal changes, so it works once.
func (s *AuthService) FinalizeRegistration(ctx context.Context, raw string) (domain.TokenPair, error) {
	tok, err := s.tokens.Decode(ctx, raw, jwtx.KindRegistration)
	if err != nil {
		return domain.TokenPair{}, err
	}

	p, err := s.store.Users().GetByID(ctx, tok.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, fmt.Errorf("%w: principal no longer exists", ErrInvalidToken)
		}
		return domain.TokenPair{}, err
	}

	if s.tokens.CanRevoke() {
		if err := s.tokens.claim(ctx, tok, "registration finalized"); err != nil {
			return domain.TokenPair{}, err
		}
	}

	if !p.Active {
		if err := s.store.Users().SetActive(ctx, p.ID, true); err != nil {
			return domain.TokenPair{}, fmt.Errorf("activate principal: %w", err)
		}
		p.Active = true
	}

	slogx.FromContext(ctx).Info("registration finalized", slog.String("sub", p.ID))
	return s.issuePair(p, s.issueRefresh, nil)
}

// sendMail hands msg to the mailer. Message bodies carry tokens and are
// never logged.
func (s *AuthService) sendMail(ctx context.Context, msg mailx.Message) error {
	if err := s.mailer.Send(ctx, msg); err != nil {
		slogx.FromContext(ctx).Error("mail delivery failed", slog.String("subject", msg.Subject), slog.Any("err", err))
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
