package wallet

import (
	"context"
	"fmt"
	"strings"

	"consent-button/go-backend/internal/domains/consent/model"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a hex account address and returns its canonical
// lowercase 0x form.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("%w: malformed address %q", model.ErrWalletUnavailable, raw)
	}
	return strings.ToLower(common.HexToAddress(raw).Hex()), nil
}

// SingleAccount is a signer that exposes exactly one address.
type SingleAccount struct {
	address string
}

func NewSingleAccount(address string) SingleAccount {
	return SingleAccount{address: address}
}

func (s SingleAccount) ResolveAddress(context.Context) (string, error) {
	return NormalizeAddress(s.address)
}

// AccountList is a signer exposing several addresses; the first is the
// active account, matching eth_requestAccounts ordering.
type AccountList struct {
	addresses []string
}

func NewAccountList(addresses ...string) AccountList {
	return AccountList{addresses: append([]string(nil), addresses...)}
}

func (l AccountList) ResolveAddress(context.Context) (string, error) {
	if len(l.addresses) == 0 {
		return "", fmt.Errorf("%w: wallet shared no accounts", model.ErrUserRejected)
	}
	return NormalizeAddress(l.addresses[0])
}
