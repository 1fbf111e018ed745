package app

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aussiebroadwan/warden/pkg/cryptox"
	"github.com/aussiebroadwan/warden/pkg/jwtx"
)

// InitKeys creates the KeyManager for the configured algorithm.
//
// Key sources:
//   - key file: a single PEM private key (or HS256 secret) loaded from disk.
//     Tokens survive restarts and the key id is derived from the key, so
//     every replica sharing the file publishes the same kid.
//   - ephemeral: NumKeys keys generated at startup and kept in memory only.
//     All existing tokens become invalid when the service restarts.
func InitKeys(cfg TokensConfig, logger *slog.Logger) (*jwtx.KeyManager, error) {
	if cfg.KeyFile != "" {
		logger.Info("loading signing key", "algorithm", cfg.Algorithm, "path", cfg.KeyFile)

		key, err := os.ReadFile(filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		if cfg.Algorithm == jwtx.AlgorithmHS256 {
			key = bytes.TrimSpace(key)
		}

		signer, err := jwtx.NewSigner(cfg.Algorithm, keyID(key), key)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}

		km, err := jwtx.NewKeyManager(signer)
		if err != nil {
			return nil, err
		}
		logger.Info("signing key loaded", "algorithm", km.Algorithm(), "kid", signer.KID(), "issuer", cfg.Issuer)
		return km, nil
	}

	logger.Info("initializing ephemeral key manager",
		"algorithm", cfg.Algorithm,
		"num_keys", cfg.NumKeys,
	)

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		RSABits:   cfg.RSABits,
		NumKeys:   cfg.NumKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
	}

	logger.Info("generated ephemeral signing keys",
		"algorithm", km.Algorithm(),
		"num_keys", km.NumSigners(),
		"issuer", cfg.Issuer,
	)
	logger.Warn("all existing tokens are now invalid due to key rotation on startup")

	return km, nil
}

func keyID(key []byte) string {
	return "warden-" + cryptox.FingerprintToken(string(key))[:16]
}
