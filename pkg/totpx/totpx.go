// Package totpx verifies time-based one-time passwords with replay
// protection and handles enrollment of new TOTP secrets.
package totpx

import (
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	ErrInvalidCode   = errors.New("totpx: invalid code")
	ErrReplay        = errors.New("totpx: code already used")
	ErrInvalidSecret = errors.New("totpx: invalid secret")
)

const (
	DefaultPeriod = 30
	DefaultWindow = 1
	MaxWindow     = 10

	// CurrentStepOnly is the Window that accepts no neighbouring steps.
	CurrentStepOnly = -1
)

// Verifier checks TOTP codes. A zero Verifier uses 30 second steps, six
// digits, SHA1 and a window of one step either side. Set Window to
// CurrentStepOnly to accept only the current step.
type Verifier struct {
	Issuer    string
	Period    uint
	Digits    otp.Digits
	Algorithm otp.Algorithm
	Window    int
}

// Enrollment is a freshly generated secret and the URI an authenticator app
// scans to import it.
type Enrollment struct {
	Secret string
	URI    string
}

func (v *Verifier) period() uint {
	if v.Period == 0 {
		return DefaultPeriod
	}
	return v.Period
}

func (v *Verifier) digits() otp.Digits {
	if v.Digits == 0 {
		return otp.DigitsSix
	}
	return v.Digits
}

func (v *Verifier) window() int {
	switch {
	case v.Window < 0:
		return 0
	case v.Window == 0:
		return DefaultWindow
	case v.Window > MaxWindow:
		return MaxWindow
	}
	return v.Window
}

func (v *Verifier) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    v.period(),
		Digits:    v.digits(),
		Algorithm: v.Algorithm,
	}
}

// Counter returns the time step now falls into.
func (v *Verifier) Counter(now time.Time) int64 {
	return now.Unix() / int64(v.period())
}

// Code computes the code for a given counter.
func (v *Verifier) Code(secret string, counter int64) (string, error) {
	at := time.Unix(counter*int64(v.period()), 0).UTC()
	code, err := totp.GenerateCodeCustom(secret, at, v.opts())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return code, nil
}

// Verify checks code against secret at now and returns the counter it
// matched. Counters at or below lastCounter have been used before and never
// match; if only such counters fit the code the result is ErrReplay.
func (v *Verifier) Verify(secret, code string, lastCounter *int64, now time.Time) (int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != v.digits().Length() {
		return 0, ErrInvalidCode
	}

	current := v.Counter(now)
	stale := false

	for _, offset := range offsets(v.window()) {
		counter := current + offset
		if counter < 0 {
			continue
		}

		expected, err := v.Code(secret, counter)
		if err != nil {
			return 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) != 1 {
			continue
		}

		if lastCounter != nil && counter <= *lastCounter {
			stale = true
			continue
		}
		return counter, nil
	}

	if stale {
		return 0, ErrReplay
	}
	return 0, ErrInvalidCode
}

// offsets orders candidate steps closest to the current one first:
// 0, -1, +1, -2, +2 ...
func offsets(window int) []int64 {
	out := make([]int64, 0, 2*window+1)
	out = append(out, 0)
	for i := 1; i <= window; i++ {
		out = append(out, int64(-i), int64(i))
	}
	return out
}

// Generate creates a new random secret for account.
func (v *Verifier) Generate(account string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.Issuer,
		AccountName: account,
		Period:      v.period(),
		Digits:      v.digits(),
		Algorithm:   v.Algorithm,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("totpx: generate key: %w", err)
	}
	return Enrollment{Secret: key.Secret(), URI: key.URL()}, nil
}

// ProvisioningURI builds the otpauth:// URI for an existing secret.
func (v *Verifier) ProvisioningURI(secret, account string) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.Issuer,
		AccountName: account,
		Period:      v.period(),
		Digits:      v.digits(),
		Algorithm:   v.Algorithm,
		Secret:      raw,
	})
	if err != nil {
		return "", fmt.Errorf("totpx: build key: %w", err)
	}
	return key.URL(), nil
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimSpace(secret))
	s = strings.TrimRight(s, "=")
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

// ParseAlgorithm maps a configuration value onto an otp.Algorithm.
func ParseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, fmt.Errorf("totpx: unsupported algorithm %q", name)
	}
}
