package rpc

import (
	"errors"

	"consent-button/go-backend/internal/app"
	"consent-button/go-backend/internal/domains/consent/model"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603

	codeWalletUnavailable = -32010
	codeUserRejected      = -32011
	codeSessionCreation   = -32012
	codeConsentOperation  = -32013
	codeActionFailed      = -32019
	codeNotInitialized    = -32099
)

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: "invalid params"}
}

func rpcServiceError(err error) *rpcError {
	if errors.Is(err, app.ErrControllerNotAttached) {
		return &rpcError{Code: codeNotInitialized, Message: "service is not initialized"}
	}
	return &rpcError{Code: codeInternal, Message: err.Error()}
}

// rpcActionError maps a failed action onto a kind-specific code. The display
// state rides along so clients can restore the button without a second call.
func rpcActionError(res app.ActionResult) *rpcError {
	kind := model.Kind(res.Err)
	return &rpcError{
		Code:    codeForKind(kind),
		Message: res.Err.Error(),
		Data: map[string]any{
			"kind":    kind,
			"display": res.Display,
		},
	}
}

func codeForKind(kind string) int {
	switch kind {
	case model.KindWalletUnavailable:
		return codeWalletUnavailable
	case model.KindUserRejected:
		return codeUserRejected
	case model.KindSessionCreation:
		return codeSessionCreation
	case model.KindConsentOperation:
		return codeConsentOperation
	default:
		return codeActionFailed
	}
}
