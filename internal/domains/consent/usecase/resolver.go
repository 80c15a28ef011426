package usecase

import (
	"context"
	"fmt"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"
)

// ConsentResolver reads a peer's consent state after refreshing the session's
// registry. Nothing is cached between calls.
type ConsentResolver struct{}

func NewConsentResolver() *ConsentResolver {
	return &ConsentResolver{}
}

func (r *ConsentResolver) Resolve(ctx context.Context, session ports.Session, peerAddress string) (model.State, error) {
	if session == nil {
		return model.StateUnknown, fmt.Errorf("%w: session is nil", model.ErrConsentOperation)
	}
	if err := session.RefreshConsentList(ctx); err != nil {
		return model.StateUnknown, fmt.Errorf("%w: refresh consent list: %w", model.ErrConsentOperation, err)
	}
	state := session.ConsentState(peerAddress)
	if !state.Valid() {
		return model.StateUnknown, nil
	}
	return state, nil
}
