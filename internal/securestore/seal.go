package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 2
	saltSize        = 16
	filePrefix      = "CBSEAL2\n"

	kdfName    = "argon2id"
	kdfTime    = uint32(2)
	kdfMemory  = uint32(64 * 1024)
	kdfThreads = uint8(1)
)

var (
	ErrAuthFailed      = errors.New("securestore authentication failed")
	ErrInvalid         = errors.New("securestore envelope is invalid")
	ErrSecretRequired  = errors.New("securestore secret is required")
	ErrUnsealedPayload = errors.New("securestore payload is not sealed")
)

// Envelope is the JSON body of a sealed snapshot. Label is bound as AEAD
// associated data so a snapshot cannot be replayed under another label.
type Envelope struct {
	Version     uint32 `json:"version"`
	Label       string `json:"label"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Seal encrypts plaintext under a passphrase-derived XChaCha20-Poly1305 key.
func Seal(secret, label string, plaintext []byte) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(secret, salt, kdfTime, kdfMemory, kdfThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(Envelope{
		Version:     envelopeVersion,
		Label:       label,
		KDF:         kdfName,
		KDFTime:     kdfTime,
		KDFMemoryKB: kdfMemory,
		KDFThreads:  kdfThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, []byte(label)),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

// Open reverses Seal. The label must match the one used when sealing.
func Open(secret, label string, data []byte) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	body, ok := strings.CutPrefix(string(data), filePrefix)
	if !ok {
		return nil, ErrUnsealedPayload
	}
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, ErrInvalid
	}
	if env.Version != envelopeVersion || env.KDF != kdfName || env.Label != label {
		return nil, ErrInvalid
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSizeX || env.KDFThreads == 0 {
		return nil, ErrInvalid
	}
	key := deriveKey(secret, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(label))
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func deriveKey(secret string, salt []byte, time, memoryKB uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(secret), salt, time, memoryKB, threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
