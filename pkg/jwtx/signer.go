package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
	AlgorithmHS256 = "HS256"
)

// minHMACSecret is the shortest HS256 secret we accept (256 bits).
const minHMACSecret = 32

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(jwt.Claims) (string, error)
	Validate() error
}

// PublicSigner is a Signer backed by an asymmetric key whose public half can
// be published in a JWKS.
type PublicSigner interface {
	Signer
	PublicKey() crypto.PublicKey
}

// asymmetricSigner covers RS256, ES256 and EdDSA. The jwt library does the
// actual signing; we only pair it with a kid.
type asymmetricSigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
}

func (s *asymmetricSigner) Alg() string                 { return s.method.Alg() }
func (s *asymmetricSigner) KID() string                 { return s.kid }
func (s *asymmetricSigner) PublicKey() crypto.PublicKey { return s.key.Public() }

// Sign takes your claims and turns them into a signed JWT string.
func (s *asymmetricSigner) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// Validate does a quick sanity check to make sure the key matches the algorithm.
func (s *asymmetricSigner) Validate() error {
	if s.key == nil {
		return errors.New("jwtx: nil signing key")
	}
	if s.kid == "" {
		return errors.New("jwtx: empty kid")
	}

	switch k := s.key.(type) {
	case *rsa.PrivateKey:
		if s.method != jwt.SigningMethodRS256 {
			return ErrAlgMismatch
		}
		if k.N.BitLen() < 2048 {
			return fmt.Errorf("jwtx: RSA key too small (%d bits)", k.N.BitLen())
		}
	case *ecdsa.PrivateKey:
		if s.method != jwt.SigningMethodES256 {
			return ErrAlgMismatch
		}
		if k.Curve.Params().Name != "P-256" {
			return fmt.Errorf("jwtx: expected P-256 curve, got %s", k.Curve.Params().Name)
		}
	case ed25519.PrivateKey:
		if s.method != jwt.SigningMethodEdDSA {
			return ErrAlgMismatch
		}
		if len(k) != ed25519.PrivateKeySize {
			return errors.New("jwtx: invalid Ed25519 private key size")
		}
	default:
		return fmt.Errorf("jwtx: unsupported key type %T", s.key)
	}
	return nil
}

// NewSignerRS256 creates an RS256 signer from PEM bytes (PKCS1 or PKCS8).
func NewSignerRS256(kid string, pemKey []byte) (Signer, error) {
	return newPEMSigner(kid, jwt.SigningMethodRS256, pemKey)
}

// NewSignerES256 creates an ES256 signer from PKCS8 PEM bytes.
func NewSignerES256(kid string, pemKey []byte) (Signer, error) {
	return newPEMSigner(kid, jwt.SigningMethodES256, pemKey)
}

// NewSignerEdDSA creates an EdDSA signer from PKCS8 PEM bytes.
func NewSignerEdDSA(kid string, pemKey []byte) (Signer, error) {
	return newPEMSigner(kid, jwt.SigningMethodEdDSA, pemKey)
}

// NewSigner picks the constructor matching alg. key is PEM for asymmetric
// algorithms and the raw secret for HS256.
func NewSigner(alg, kid string, key []byte) (Signer, error) {
	switch alg {
	case AlgorithmRS256:
		return NewSignerRS256(kid, key)
	case AlgorithmES256:
		return NewSignerES256(kid, key)
	case AlgorithmEdDSA:
		return NewSignerEdDSA(kid, key)
	case AlgorithmHS256:
		return NewSignerHS256(kid, key)
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA, HS256)", alg)
	}
}

func newPEMSigner(kid string, method jwt.SigningMethod, pemKey []byte) (*asymmetricSigner, error) {
	key, err := parsePrivateKeyPEM(pemKey)
	if err != nil {
		return nil, err
	}

	s := &asymmetricSigner{kid: kid, method: method, key: key}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// parsePrivateKeyPEM handles both PKCS1 RSA keys and PKCS8 keys of any type.
func parsePrivateKeyPEM(pemKey []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM private key")
	}

	var (
		priv any
		err  error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		priv, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		priv, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse private key: %w", err)
	}

	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("jwtx: key type %T cannot sign", priv)
	}
	return signer, nil
}

// HS256Signer signs with a shared secret. Its key never leaves the process,
// so it is not published in the JWKS.
type HS256Signer struct {
	kid string
	key []byte
}

// NewSignerHS256 creates an HS256 signer from a raw secret.
func NewSignerHS256(kid string, secret []byte) (Signer, error) {
	s := &HS256Signer{kid: kid, key: append([]byte(nil), secret...)}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HS256Signer) Alg() string    { return jwt.SigningMethodHS256.Alg() }
func (s *HS256Signer) KID() string    { return s.kid }
func (s *HS256Signer) secret() []byte { return s.key }

func (s *HS256Signer) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func (s *HS256Signer) Validate() error {
	if s.kid == "" {
		return errors.New("jwtx: empty kid")
	}
	if len(s.key) < minHMACSecret {
		return fmt.Errorf("jwtx: HS256 secret must be at least %d bytes", minHMACSecret)
	}
	return nil
}
