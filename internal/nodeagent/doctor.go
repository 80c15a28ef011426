package nodeagent

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"consent-button/go-backend/internal/config"
	"consent-button/go-backend/internal/identity"
	"consent-button/go-backend/internal/messaging"
	"consent-button/go-backend/internal/wallet"
)

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

type DoctorInput struct {
	Config config.Config
	// Probe asks a running daemon at Config.RPC.Addr for its status instead
	// of checking that the port is free.
	Probe bool
}

type DoctorCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type DoctorReport struct {
	Ready     bool          `json:"ready"`
	Checks    []DoctorCheck `json:"checks"`
	Daemon    *ProbeResult  `json:"daemon,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (s *Service) Doctor(ctx context.Context, input DoctorInput) (DoctorReport, error) {
	cfg := input.Config
	report := DoctorReport{
		Ready:     true,
		Checks:    make([]DoctorCheck, 0, 10),
		CheckedAt: s.now(),
	}
	appendCheck := func(name string, err error) {
		check := DoctorCheck{Name: name, Pass: err == nil}
		if err != nil {
			check.Reason = err.Error()
			report.Ready = false
		}
		report.Checks = append(report.Checks, check)
	}

	_, envErr := messaging.ResolveEnvironment(cfg.Environments, cfg.Consent.NetworkEnvironment, cfg.Network)
	appendCheck("network_environment_valid", envErr)
	appendCheck("identity_available", checkIdentity(cfg.Consent))
	appendCheck("wallet_configured", checkWallet(cfg.Consent))
	appendCheck("storage_writable", checkStorageDir(cfg.Storage.Dir))

	addrErr := validateRPCAddr(cfg.RPC.Addr)
	appendCheck("rpc_addr_valid", addrErr)
	appendCheck("rpc_token_set", checkToken(cfg))

	if addrErr == nil {
		if input.Probe {
			result, err := s.probe(ctx, cfg.RPC.Addr, cfg.RPC.Token)
			appendCheck("rpc_reachable", err)
			if err == nil {
				report.Daemon = &result
			}
		} else {
			appendCheck("rpc_port_available", checkPortAvailable(cfg.RPC.Addr))
		}
	}
	return report, nil
}

func checkIdentity(cfg config.ConsentConfig) error {
	if mnemonic := strings.TrimSpace(cfg.Mnemonic); mnemonic != "" {
		if _, err := identity.FromMnemonic(mnemonic); err != nil {
			return err
		}
		return nil
	}
	if !cfg.AllowEphemeralIdentity {
		return fmt.Errorf("no mnemonic configured and ephemeral identities are disabled")
	}
	return nil
}

func checkWallet(cfg config.ConsentConfig) error {
	if peer := strings.TrimSpace(cfg.PeerAddress); peer != "" {
		_, err := wallet.NormalizeAddress(peer)
		return err
	}
	if strings.TrimSpace(cfg.WalletURL) == "" {
		return fmt.Errorf("neither a wallet url nor a peer address is configured")
	}
	return nil
}

// checkStorageDir passes when persistence is off or the directory accepts
// files.
func checkStorageDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(filepath.Clean(name))
}

func checkToken(cfg config.Config) error {
	if strings.TrimSpace(cfg.RPC.Token) != "" {
		return nil
	}
	host, _, err := net.SplitHostPort(cfg.RPC.Addr)
	if err == nil && isLoopback(host) {
		return nil
	}
	return fmt.Errorf("rpc token is required when listening on %q", cfg.RPC.Addr)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validateRPCAddr(raw string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("rpc address is invalid: %w", err)
	}
	p, convErr := strconv.Atoi(port)
	if convErr != nil || p < 1 || p > 65535 {
		return fmt.Errorf("rpc address port is invalid: %q", port)
	}
	if host != "" && net.ParseIP(host) == nil && !hostnamePattern.MatchString(host) {
		return fmt.Errorf("rpc address host is invalid: %q", host)
	}
	return nil
}

func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s is unavailable: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}
