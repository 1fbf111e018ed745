package jwtx

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/aussiebroadwan/warden/pkg/cryptox"
)

// KeyManager owns the signing keys of an instance and the KeySet used to
// verify what they sign. Keys are selected randomly for signing.
type KeyManager struct {
	Verifier  Verifier
	KeySet    *KeySet
	algorithm string

	signers []Signer
	mu      sync.RWMutex
}

// KeyManagerOptions configures the KeyManager for a specific use case.
type KeyManagerOptions struct {
	// Algorithm specifies which signing algorithm to use.
	// Supported values: "RS256", "ES256", "EdDSA", "HS256"
	Algorithm string

	// RSABits specifies the RSA key size for RS256. Defaults to 4096.
	RSABits int

	// NumKeys specifies how many signing keys to generate.
	// Defaults to 3 if not specified. Minimum is 1, maximum is 10.
	NumKeys int
}

// NewKeyManager wraps already constructed signers. All signers must share
// one algorithm so the verifier can pin it.
func NewKeyManager(signers ...Signer) (*KeyManager, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("jwtx: at least one signer is required")
	}

	alg := signers[0].Alg()
	keyset := NewKeySet()
	for i, s := range signers {
		if s.Alg() != alg {
			return nil, fmt.Errorf("jwtx: signer %d uses %s, expected %s: %w", i+1, s.Alg(), alg, ErrAlgMismatch)
		}
		if err := keyset.AddSigner(s); err != nil {
			return nil, fmt.Errorf("jwtx: failed to add signer %d to keyset: %w", i+1, err)
		}
	}

	return &KeyManager{
		Verifier:  NewVerifier(keyset, alg),
		KeySet:    keyset,
		algorithm: alg,
		signers:   append([]Signer(nil), signers...),
	}, nil
}

// NewEphemeralKeyManager generates fresh keys that only live in memory.
// Every token becomes unverifiable when the process restarts.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	numKeys := opts.NumKeys
	if numKeys <= 0 {
		numKeys = 3
	}
	if numKeys > 10 {
		numKeys = 10
	}

	signers := make([]Signer, 0, numKeys)
	for i := 0; i < numKeys; i++ {
		keyID, err := generateRandomKeyID()
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate key ID: %w", err)
		}

		signer, err := generateSigner(opts.Algorithm, keyID, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate signer %d: %w", i+1, err)
		}
		signers = append(signers, signer)
	}

	return NewKeyManager(signers...)
}

func generateSigner(algorithm, keyID string, rsaBits int) (Signer, error) {
	var (
		key []byte
		err error
	)

	switch algorithm {
	case AlgorithmRS256:
		if rsaBits == 0 {
			rsaBits = 4096
		}
		key, err = cryptox.GenerateRSAKey(rsaBits)
	case AlgorithmES256:
		key, err = cryptox.GenerateES256Key()
	case AlgorithmEdDSA:
		key, err = cryptox.GenerateEd25519Key()
	case AlgorithmHS256:
		var secret string
		secret, err = cryptox.GenerateToken(cryptox.TokenSize256)
		key = []byte(secret)
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", algorithm, err)
	}

	return NewSigner(algorithm, keyID, key)
}

// Algorithm returns the signing algorithm being used.
func (km *KeyManager) Algorithm() string {
	return km.algorithm
}

// IsReady returns true if the KeyManager has valid keys loaded.
func (km *KeyManager) IsReady() bool {
	return km.KeySet.IsReady()
}

// GetSigner returns a randomly selected signer.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	default:
		return km.signers[rand.IntN(len(km.signers))]
	}
}

// NumSigners returns the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

func generateRandomKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", err
	}
	return "warden-" + token, nil
}
