package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2id parameters.
const (
	memory      = 19 * 1024 // Memory usage in KiB (19 MiB)
	iterations  = 2         // Iteration count
	parallelism = 1         // Number of threads
	keyLength   = 32        // Length of the generated hash
	saltLength  = 16        // Length of the salt

	// Upper bounds accepted when reading parameters back out of a digest.
	maxMemory     = 1024 * 1024
	maxIterations = 64
)

// Digest scheme prefixes.
const (
	SchemeArgon2id = "argon2id"
	SchemeBcrypt   = "bcrypt"
)

var ErrUnknownScheme = errors.New("cryptox: unknown password hash scheme")

// PasswordHasher hashes and verifies passwords. Verify never returns an
// error: a malformed digest is simply a failed verification.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// Argon2idHasher produces PHC-format Argon2id digests. Pepper is appended to
// the plaintext before hashing and must stay stable for digests to verify.
type Argon2idHasher struct {
	Pepper string
}

// Hash generates a PHC-format Argon2id hash string including salt and parameters.
func (h Argon2idHasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(plaintext+h.Pepper), salt, iterations, memory, parallelism, keyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		memory,
		iterations,
		parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify compares plaintext against a PHC-style Argon2id digest.
func (h Argon2idHasher) Verify(plaintext, digest string) bool {
	return h.verify(plaintext, digest) == nil
}

func (h Argon2idHasher) verify(plaintext, digest string) error {
	// ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return errors.New("invalid hash format: expected 6 parts")
	}
	if parts[1] != SchemeArgon2id {
		return errors.New("invalid hash format: not argon2id")
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return errors.New("invalid hash format: wrong version")
	}

	var mem, iters uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return fmt.Errorf("invalid hash format: parameters: %w", err)
	}
	if mem == 0 || iters == 0 || par == 0 || mem > maxMemory || iters > maxIterations {
		return errors.New("invalid hash format: parameters out of range")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("invalid hash format: salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return errors.New("invalid hash format: hash")
	}

	computed := argon2.IDKey(
		[]byte(plaintext+h.Pepper),
		salt,
		iters,
		mem,
		par,
		uint32(len(expected)), // #nosec G115 - bounded by the decoded digest
	)

	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return errors.New("password does not match")
	}
	return nil
}

// BcryptHasher wraps golang.org/x/crypto/bcrypt. Cost defaults to
// bcrypt.DefaultCost when zero.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plaintext string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("cryptox: bcrypt: %w", err)
	}
	return string(out), nil
}

func (h BcryptHasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// SchemeHasher hashes with Primary and verifies with whichever hasher owns
// the digest's scheme, so stored bcrypt digests keep working after a move
// to argon2id.
type SchemeHasher struct {
	Primary string
	Hashers map[string]PasswordHasher
}

// NewSchemeHasher returns a hasher that writes argon2id digests and accepts
// both argon2id and bcrypt ones.
func NewSchemeHasher(pepper string) *SchemeHasher {
	return &SchemeHasher{
		Primary: SchemeArgon2id,
		Hashers: map[string]PasswordHasher{
			SchemeArgon2id: Argon2idHasher{Pepper: pepper},
			SchemeBcrypt:   BcryptHasher{},
		},
	}
}

func (h *SchemeHasher) Hash(plaintext string) (string, error) {
	primary, ok := h.Hashers[h.Primary]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, h.Primary)
	}
	return primary.Hash(plaintext)
}

func (h *SchemeHasher) Verify(plaintext, digest string) bool {
	hasher, ok := h.Hashers[Scheme(digest)]
	if !ok {
		return false
	}
	return hasher.Verify(plaintext, digest)
}

// NeedsUpgrade reports whether digest was produced by a scheme other than
// the primary one.
func (h *SchemeHasher) NeedsUpgrade(digest string) bool {
	return Scheme(digest) != h.Primary
}

// Scheme identifies the hashing scheme of a stored digest, or "" if it is
// not recognised.
func Scheme(digest string) string {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		return SchemeArgon2id
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return SchemeBcrypt
	default:
		return ""
	}
}

// GeneratePassword returns a random alphanumeric password of the given
// length, used when an operator needs a throwaway credential.
func GeneratePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	if length <= 0 {
		length = 16
	}

	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("cryptox: generate password: %w", err)
		}
		buf[i] = charset[n.Int64()]
	}
	return string(buf), nil
}
