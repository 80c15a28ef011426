package model

import (
	"errors"
)

var (
	ErrWalletUnavailable = errors.New("wallet provider is not available")
	ErrUserRejected      = errors.New("user rejected wallet connection")
	ErrSessionCreation   = errors.New("messaging session could not be created")
	ErrConsentOperation  = errors.New("consent operation rejected")
	ErrIdentityRequired  = errors.New("identity is required unless ephemeral identities are allowed")
)

const (
	KindWalletUnavailable = "wallet_unavailable"
	KindUserRejected      = "user_rejected"
	KindSessionCreation   = "session_creation"
	KindConsentOperation  = "consent_operation"
	KindUnknown           = "unknown"
)

// Kind maps an action error onto a stable label for logs, metrics and RPC codes.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWalletUnavailable):
		return KindWalletUnavailable
	case errors.Is(err, ErrUserRejected):
		return KindUserRejected
	case errors.Is(err, ErrSessionCreation):
		return KindSessionCreation
	case errors.Is(err, ErrConsentOperation):
		return KindConsentOperation
	default:
		return KindUnknown
	}
}
