package daemon

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const storageKeyFile = "storage.key"

var ErrStorageSecretRequired = errors.New("storage secret is required in this environment")

// StorageSecret resolves the passphrase sealing consent list snapshots: an
// explicit secret wins, then dataDir/storage.key, then a freshly generated key
// written to that file. Generation is refused when requireExplicit is set.
func StorageSecret(dataDir, explicit string, requireExplicit bool) (string, error) {
	if secret := strings.TrimSpace(explicit); secret != "" {
		return secret, nil
	}
	keyPath := filepath.Join(dataDir, storageKeyFile)
	existing, err := os.ReadFile(keyPath)
	if err == nil {
		if secret := strings.TrimSpace(string(existing)); secret != "" {
			return secret, nil
		}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if requireExplicit {
		return "", ErrStorageSecretRequired
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := base64.RawStdEncoding.EncodeToString(buf)
	if err := WriteStorageKey(dataDir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func WriteStorageKey(dataDir, secret string) error {
	keyPath := filepath.Join(dataDir, storageKeyFile)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(keyPath, []byte(secret), 0o600)
}
