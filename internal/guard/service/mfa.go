package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/warden/internal/guard/domain"
	"github.com/aussiebroadwan/warden/internal/guard/store"
	"github.com/aussiebroadwan/warden/pkg/slogx"
	"github.com/aussiebroadwan/warden/pkg/totpx"
)

// MFAService enrolls principals into TOTP. Enrollment is two-step: Enroll
// stores a pending secret, Confirm promotes it once a code from it checks
// out.
type MFAService struct {
	Store   store.Store
	TOTP    *totpx.Verifier
	QR      totpx.QRRenderer
	Metrics *Metrics
	Now     func() time.Time
}

func (s *MFAService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *MFAService) verifier() *totpx.Verifier {
	if s.TOTP == nil {
		return &totpx.Verifier{}
	}
	return s.TOTP
}

// Enroll generates a new secret for principalID and returns everything an
// authenticator app needs. Calling it again replaces the pending secret.
func (s *MFAService) Enroll(ctx context.Context, principalID string) (domain.TOTPEnrollment, error) {
	p, err := s.Store.Users().GetByID(ctx, principalID)
	if err != nil {
		return domain.TOTPEnrollment{}, fmt.Errorf("get principal: %w", err)
	}
	if p.HasTOTP() {
		return domain.TOTPEnrollment{}, ErrTOTPAlreadyEnabled
	}

	v := s.verifier()
	enrollment, err := v.Generate(p.Username)
	if err != nil {
		return domain.TOTPEnrollment{}, err
	}

	qr, err := s.QR.PNG(enrollment.URI)
	if err != nil {
		return domain.TOTPEnrollment{}, err
	}

	if err := s.Store.Users().SetPendingTOTPSecret(ctx, p.ID, &enrollment.Secret); err != nil {
		return domain.TOTPEnrollment{}, fmt.Errorf("store pending secret: %w", err)
	}

	slogx.FromContext(ctx).Info("totp enrollment started", slog.String("sub", p.ID))
	return domain.TOTPEnrollment{
		Secret:  enrollment.Secret,
		URI:     enrollment.URI,
		QRCode:  qr,
		Issuer:  v.Issuer,
		Account: p.Username,
	}, nil
}

// Confirm checks code against the pending secret and, if it matches,
// enables TOTP with the matched step as the last used counter.
func (s *MFAService) Confirm(ctx context.Context, principalID, code string) error {
	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		p, err := tx.Users().GetByID(ctx, principalID)
		if err != nil {
			return fmt.Errorf("get principal: %w", err)
		}
		if p.HasTOTP() {
			return ErrTOTPAlreadyEnabled
		}
		if p.TOTPPendingSecret == nil || *p.TOTPPendingSecret == "" {
			return ErrTOTPNotEnrolled
		}

		counter, err := s.verifier().Verify(*p.TOTPPendingSecret, code, nil, s.now())
		if err != nil {
			s.Metrics.totp(totpResult(err))
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		s.Metrics.totp("ok")

		return tx.Users().SetTOTPSecret(ctx, p.ID, p.TOTPPendingSecret, &counter)
	})
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("totp enabled", slog.String("sub", principalID))
	return nil
}

// Disable removes TOTP after checking a current code. The code goes through
// the same replay protection as a login.
func (s *MFAService) Disable(ctx context.Context, principalID, code string) error {
	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		p, err := tx.Users().GetByID(ctx, principalID)
		if err != nil {
			return fmt.Errorf("get principal: %w", err)
		}
		if !p.HasTOTP() {
			return ErrTOTPNotEnrolled
		}

		counter, err := s.verifier().Verify(*p.TOTPSecret, code, p.TOTPLastCounter, s.now())
		if err != nil {
			s.Metrics.totp(totpResult(err))
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		if err := tx.Users().AdvanceTOTPCounter(ctx, p.ID, counter); err != nil {
			if errors.Is(err, store.ErrStale) {
				s.Metrics.totp("replay")
				return fmt.Errorf("%w: %v", ErrAuthentication, totpx.ErrReplay)
			}
			return err
		}
		s.Metrics.totp("ok")

		return tx.Users().SetTOTPSecret(ctx, p.ID, nil, nil)
	})
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("totp disabled", slog.String("sub", principalID))
	return nil
}
