package securestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Configured reports whether sealed persistence has both a path and a secret.
func Configured(path, secret string) bool {
	return strings.TrimSpace(path) != "" && strings.TrimSpace(secret) != ""
}

// ReadJSON opens the sealed snapshot at path into v. A missing file surfaces
// as an error matching fs.ErrNotExist.
func ReadJSON(path, secret, label string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	plaintext, err := Open(secret, label, raw)
	if err != nil {
		return err
	}
	defer zeroBytes(plaintext)
	return json.Unmarshal(plaintext, v)
}

// WriteJSON seals v and replaces path via a temp file and rename so readers
// never see a torn snapshot.
func WriteJSON(path, secret, label string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sealed, err := Seal(secret, label, payload)
	zeroBytes(payload)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
