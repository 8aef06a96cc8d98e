package main

import (
	"crypto/ed25519"
	"fmt"

	"ntt/internal/logger"
	"ntt/internal/vaa"
)

// buildVerifier assembles the attestation verifier from the configured
// attestor keys. Returns nil when neither keys nor -insecure-attest are
// given, leaving the attest route disabled.
func buildVerifier(cfg *Config) (*vaa.Verifier, error) {
	if len(cfg.AttestorKeys) == 0 && !cfg.InsecureAttest {
		logger.Warn("no attestor keys configured, attest route disabled")
		return nil, nil
	}

	keys := make([]ed25519.PublicKey, 0, len(cfg.AttestorKeys))
	for _, s := range cfg.AttestorKeys {
		key, err := vaa.ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("parse attestor key %q:\n%w", s, err)
		}
		keys = append(keys, key)
	}

	logger.Info("attestation verifier ready",
		"keys", len(keys),
		"insecure", cfg.InsecureAttest,
	)

	return vaa.NewVerifier(keys, cfg.InsecureAttest), nil
}
