package ports

import (
	"context"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
)

// Identity is the sender-side signing identity a session is bound to.
type Identity interface {
	// Address returns the canonical lowercase 0x-prefixed hex address.
	Address() string
	Sign(payload []byte) ([]byte, error)
}

// Session is a live handle to the messaging network bound to one identity.
type Session interface {
	Address() string
	// RefreshConsentList synchronizes the local consent registry with the network.
	RefreshConsentList(ctx context.Context) error
	ConsentState(peerAddress string) model.State
	Allow(ctx context.Context, peerAddresses ...string) error
	Block(ctx context.Context, peerAddresses ...string) error
	Close() error
}

// MessagingClient opens sessions on the messaging network.
type MessagingClient interface {
	CreateSession(ctx context.Context, identity Identity, networkEnvironment string) (Session, error)
}

// AddressSource is what a wallet hands back after a connection prompt.
type AddressSource interface {
	ResolveAddress(ctx context.Context) (string, error)
}

// WalletProvider asks the user's wallet to reveal an account.
type WalletProvider interface {
	RequestAccounts(ctx context.Context) (AddressSource, error)
}

// Observer receives controller lifecycle notifications. Implementations must
// not block.
type Observer interface {
	ActionStarted(actionID string)
	ActionIgnored(phase model.Phase)
	PhaseEntered(actionID string, phase model.Phase)
	ActionSucceeded(actionID string, event model.Event, elapsed time.Duration)
	ActionFailed(actionID string, phase model.Phase, err error, elapsed time.Duration)
}
