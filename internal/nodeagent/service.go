// Package nodeagent runs readiness diagnostics for a consent daemon
// deployment.
package nodeagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultRPCProbeTimeout = 3 * time.Second

type Service struct {
	now   func() time.Time
	probe func(ctx context.Context, rpcAddr, rpcToken string) (ProbeResult, error)
}

// ProbeResult is what a running daemon reports over consent.status.
type ProbeResult struct {
	Busy          bool   `json:"busy"`
	Status        string `json:"status"`
	Phase         string `json:"phase"`
	SenderAddress string `json:"sender_address"`
}

func New() *Service {
	return &Service{
		now:   func() time.Time { return time.Now().UTC() },
		probe: probeConsentStatus,
	}
}

func probeConsentStatus(ctx context.Context, rpcAddr, rpcToken string) (result ProbeResult, retErr error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, defaultRPCProbeTimeout)
	defer cancel()

	body := `{"jsonrpc":"2.0","id":1,"method":"consent.status"}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+strings.TrimSpace(rpcAddr)+"/rpc", strings.NewReader(body))
	if err != nil {
		return ProbeResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(rpcToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ProbeResult{}, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return ProbeResult{}, fmt.Errorf("rpc status %d", resp.StatusCode)
	}
	var decoded struct {
		Result ProbeResult `json:"result"`
		Error  any         `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ProbeResult{}, err
	}
	if decoded.Error != nil {
		return ProbeResult{}, errors.New("rpc returned error")
	}
	return decoded.Result, nil
}
