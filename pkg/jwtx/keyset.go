package jwtx

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

type verificationKey struct {
	alg string
	key any // *rsa.PublicKey | ed25519.PublicKey | *ecdsa.PublicKey | []byte
}

// KeySet holds every key tokens may be verified with, indexed by kid. Only
// asymmetric keys are published through PublicJWKS. It is safe for
// concurrent use.
type KeySet struct {
	mu   sync.RWMutex
	jwks JWKS
	keys map[string]verificationKey
}

// NewKeySet returns an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[string]verificationKey)}
}

// AddSigner registers the verification half of a signer.
func (k *KeySet) AddSigner(s Signer) error {
	if err := s.Validate(); err != nil {
		return err
	}

	if ps, ok := s.(PublicSigner); ok {
		jwk, err := NewJWK(s.KID(), s.Alg(), ps.PublicKey())
		if err != nil {
			return err
		}
		return k.add(s.KID(), s.Alg(), ps.PublicKey(), &jwk)
	}

	if ss, ok := s.(interface{ secret() []byte }); ok {
		return k.add(s.KID(), s.Alg(), ss.secret(), nil)
	}

	return fmt.Errorf("jwtx: signer %q exposes no verification key", s.KID())
}

func (k *KeySet) add(kid, alg string, key any, jwk *JWK) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.keys[kid]; exists {
		return fmt.Errorf("jwtx: duplicate kid %q", kid)
	}

	k.keys[kid] = verificationKey{alg: alg, key: key}
	if jwk != nil {
		k.jwks.Keys = append(k.jwks.Keys, *jwk)
	}
	return nil
}

// Get returns the algorithm and key registered under kid.
func (k *KeySet) Get(kid string) (string, any, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	vk, ok := k.keys[kid]
	if !ok {
		return "", nil, ErrNoKey
	}
	return vk.alg, vk.key, nil
}

// PublicJWKS returns a snapshot of the published keys for HTTP serving.
func (k *KeySet) PublicJWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := JWKS{Keys: make([]JWK, len(k.jwks.Keys))}
	copy(out.Keys, k.jwks.Keys)
	return out
}

// IsReady returns true if the KeySet has at least one key loaded.
func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) > 0
}
