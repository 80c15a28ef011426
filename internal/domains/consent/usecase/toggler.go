package usecase

import (
	"context"
	"fmt"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/policy"
	"consent-button/go-backend/internal/domains/consent/ports"
)

// ConsentToggler issues the allow/block call chosen by the toggle rule and
// confirms the outcome through the resolver.
type ConsentToggler struct {
	resolver *ConsentResolver
}

func NewConsentToggler(resolver *ConsentResolver) *ConsentToggler {
	if resolver == nil {
		resolver = NewConsentResolver()
	}
	return &ConsentToggler{resolver: resolver}
}

func (t *ConsentToggler) Toggle(ctx context.Context, session ports.Session, peerAddress string, current model.State) (model.State, error) {
	if _, err := t.Issue(ctx, session, peerAddress, current); err != nil {
		return model.StateUnknown, err
	}
	return t.Confirm(ctx, session, peerAddress)
}

// Issue sends the network operation and returns the operation it chose.
func (t *ConsentToggler) Issue(ctx context.Context, session ports.Session, peerAddress string, current model.State) (policy.Operation, error) {
	op, _ := policy.NextOperation(current)
	if session == nil {
		return op, fmt.Errorf("%w: session is nil", model.ErrConsentOperation)
	}
	var err error
	switch op {
	case policy.OperationBlock:
		err = session.Block(ctx, peerAddress)
	default:
		err = session.Allow(ctx, peerAddress)
	}
	if err != nil {
		return op, fmt.Errorf("%w: %s: %w", model.ErrConsentOperation, op, err)
	}
	return op, nil
}

// Confirm re-resolves the peer; the network call's own result is never trusted.
func (t *ConsentToggler) Confirm(ctx context.Context, session ports.Session, peerAddress string) (model.State, error) {
	return t.resolver.Resolve(ctx, session, peerAddress)
}
