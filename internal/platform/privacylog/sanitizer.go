// Package privacylog keeps wallet addresses and secrets out of logs.
package privacylog

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

type treatment int

const (
	keep treatment = iota
	redact
	fingerprint
)

// Wallet addresses are pseudonymous but linkable across log lines and
// deployments, so they are replaced by a keyed hash that changes every boot.
var (
	bootKey = newBootKey()

	identifierKeys = map[string]struct{}{
		"address":    {},
		"owner":      {},
		"peer":       {},
		"session_id": {},
		"record_id":  {},
		"client_id":  {},
	}
	secretMarkers = []string{"token", "secret", "password", "passphrase", "authorization", "mnemonic", "seed", "signature"}
)

// SanitizingHandler rewrites attributes before they reach the wrapped handler.
type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(sanitizeAll(attrs))}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr redacts secrets, fingerprints identifiers under a "_fp" key and
// descends into groups.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	attr.Value = attr.Value.Resolve()
	switch classify(attr.Key) {
	case redact:
		return slog.String(attr.Key, redactedValue)
	case fingerprint:
		return slog.String(attr.Key+"_fp", FingerprintID(attr.Value.String()))
	}
	if attr.Value.Kind() == slog.KindGroup {
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(sanitizeAll(attr.Value.Group())...)}
	}
	return attr
}

// FingerprintID maps an identifier to a token that is stable for the life of
// the process. Addresses match regardless of checksum casing.
func FingerprintID(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	mac := hmac.New(sha256.New, bootKey)
	mac.Write([]byte(value))
	return "fp_" + hex.EncodeToString(mac.Sum(nil)[:8])
}

func classify(key string) treatment {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, marker := range secretMarkers {
		if strings.Contains(key, marker) {
			return redact
		}
	}
	if _, ok := identifierKeys[key]; ok || strings.HasSuffix(key, "_address") {
		return fingerprint
	}
	return keep
}

func sanitizeAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		out[i] = SanitizeAttr(attr)
	}
	return out
}

func newBootKey() []byte {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return key
}
