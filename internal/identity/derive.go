package identity

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSigning = "consent-button/identity/secp256k1/v1"
	// A scalar outside [1, N) is rejected by ToECDSA; the probability is
	// negligible, but each retry feeds a counter into the info string.
	maxDeriveAttempts = 8
)

var ErrKeyDerivation = errors.New("identity key derivation failed")

// DeriveKey expands BIP-39 seed bytes into a secp256k1 signing key.
func DeriveKey(seedBytes []byte) (*ecdsa.PrivateKey, error) {
	if len(seedBytes) == 0 {
		return nil, fmt.Errorf("%w: empty seed", ErrKeyDerivation)
	}
	var lastErr error
	for attempt := 0; attempt < maxDeriveAttempts; attempt++ {
		info := hkdfInfoSigning
		if attempt > 0 {
			info = fmt.Sprintf("%s/%d", hkdfInfoSigning, attempt)
		}
		scalar, err := hkdfExpand(seedBytes, info, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, err)
		}
		key, err := crypto.ToECDSA(scalar)
		zeroBytes(scalar)
		if err == nil {
			return key, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, lastErr)
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
