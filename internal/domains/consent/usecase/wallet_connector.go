package usecase

import (
	"context"
	"errors"
	"fmt"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"
)

// WalletConnector asks the external wallet for the peer address. It never
// caches: the connected account may change between actions.
type WalletConnector struct {
	provider ports.WalletProvider
}

func NewWalletConnector(provider ports.WalletProvider) *WalletConnector {
	return &WalletConnector{provider: provider}
}

func (c *WalletConnector) Connect(ctx context.Context) (string, error) {
	if c == nil || c.provider == nil {
		return "", model.ErrWalletUnavailable
	}
	source, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		return "", classifyWalletError(err)
	}
	if source == nil {
		return "", fmt.Errorf("%w: wallet returned no account source", model.ErrUserRejected)
	}
	address, err := source.ResolveAddress(ctx)
	if err != nil {
		return "", classifyWalletError(err)
	}
	return address, nil
}

func classifyWalletError(err error) error {
	if errors.Is(err, model.ErrWalletUnavailable) || errors.Is(err, model.ErrUserRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrWalletUnavailable, err)
}
