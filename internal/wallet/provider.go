package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"

	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// EIP-1193 "User Rejected Request".
	codeUserRejected = 4001
	// EIP-1193 "Unauthorized".
	codeUnauthorized = 4100

	requestAccountsMethod = "eth_requestAccounts"
	defaultRequestTimeout = 2 * time.Minute
)

// RPCProvider talks to an EIP-1193 compatible wallet endpoint over JSON-RPC.
type RPCProvider struct {
	URL            string
	RequestTimeout time.Duration
}

func NewRPCProvider(url string) *RPCProvider {
	return &RPCProvider{URL: strings.TrimSpace(url), RequestTimeout: defaultRequestTimeout}
}

// RequestAccounts prompts the wallet for account access. A fresh connection is
// dialed per request so a wallet that was switched off between actions is
// noticed.
func (p *RPCProvider) RequestAccounts(ctx context.Context) (ports.AddressSource, error) {
	if p == nil || strings.TrimSpace(p.URL) == "" {
		return nil, fmt.Errorf("%w: no wallet endpoint configured", model.ErrWalletUnavailable)
	}
	timeout := p.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := rpc.DialContext(callCtx, p.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial wallet: %w", model.ErrWalletUnavailable, err)
	}
	defer client.Close()

	var accounts []string
	if err := client.CallContext(callCtx, &accounts, requestAccountsMethod); err != nil {
		return nil, classifyRPCError(err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: wallet shared no accounts", model.ErrUserRejected)
	}
	return NewAccountList(accounts...), nil
}

func classifyRPCError(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected, codeUnauthorized:
			return fmt.Errorf("%w: %w", model.ErrUserRejected, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", model.ErrWalletUnavailable, requestAccountsMethod, err)
}

// StaticProvider always hands back the same source. Useful for headless
// callers that already know the peer.
type StaticProvider struct {
	Source ports.AddressSource
}

func NewStaticProvider(address string) StaticProvider {
	return StaticProvider{Source: NewSingleAccount(address)}
}

func (p StaticProvider) RequestAccounts(context.Context) (ports.AddressSource, error) {
	if p.Source == nil {
		return nil, fmt.Errorf("%w: no account selected", model.ErrUserRejected)
	}
	return p.Source, nil
}
