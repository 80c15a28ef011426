package identity

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Identity is a secp256k1 signing identity addressed the Ethereum way.
type Identity struct {
	key     *ecdsa.PrivateKey
	address string
}

func newIdentity(key *ecdsa.PrivateKey) *Identity {
	return &Identity{
		key:     key,
		address: CanonicalAddress(crypto.PubkeyToAddress(key.PublicKey)),
	}
}

// Fabricate creates a throwaway identity from fresh 256-bit entropy. The
// mnemonic is returned so a caller may keep the identity; it is never stored.
func Fabricate() (*Identity, string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}
	id, err := FromMnemonic(mnemonic)
	if err != nil {
		return nil, "", err
	}
	return id, mnemonic, nil
}

// MustFabricate is Fabricate for callers that cannot handle an error. It
// panics only if the system entropy source fails.
func MustFabricate() *Identity {
	id, _, err := Fabricate()
	if err != nil {
		panic(fmt.Sprintf("identity: fabricate: %v", err))
	}
	return id
}

// FromMnemonic rebuilds the identity deterministically from a BIP-39 phrase.
func FromMnemonic(mnemonic string) (*Identity, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")
	defer zeroBytes(seed)
	key, err := DeriveKey(seed)
	if err != nil {
		return nil, err
	}
	return newIdentity(key), nil
}

func (i *Identity) Address() string {
	return i.address
}

// Sign produces a 65-byte EIP-191 personal_sign signature with V in {27, 28}.
func (i *Identity) Sign(payload []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(payload), i.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverAddress returns the canonical address that produced sig over payload.
func RecoverAddress(payload, sig []byte) (string, error) {
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return CanonicalAddress(crypto.PubkeyToAddress(*pub)), nil
}

// VerifyAddress reports whether sig over payload was made by address.
func VerifyAddress(address string, payload, sig []byte) bool {
	recovered, err := RecoverAddress(payload, sig)
	if err != nil {
		return false
	}
	return recovered == strings.ToLower(strings.TrimSpace(address))
}

func CanonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
