// Package daemon composes the consent daemon from configuration.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"consent-button/go-backend/internal/adapters/rpc"
	"consent-button/go-backend/internal/app"
	"consent-button/go-backend/internal/config"
	"consent-button/go-backend/internal/domains/consent/ports"
	"consent-button/go-backend/internal/domains/consent/usecase"
	"consent-button/go-backend/internal/identity"
	"consent-button/go-backend/internal/messaging"
	"consent-button/go-backend/internal/platform/eventsink"
	"consent-button/go-backend/internal/platform/metrics"
	"consent-button/go-backend/internal/waku"
	"consent-button/go-backend/internal/wallet"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Daemon is a fully wired consent daemon.
type Daemon struct {
	Config     config.Config
	Service    *app.ConsentService
	Controller *usecase.Controller
	Server     *rpc.Server
	Registry   *prometheus.Registry
	Logger     *slog.Logger

	sink *eventsink.Redis
}

// Build wires every component. Nothing touches the network until the first
// action except the optional Redis ping.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = app.DefaultLogger()
	}

	sender, err := ResolveIdentity(cfg.Consent)
	if err != nil {
		return nil, err
	}
	store, err := ResolveStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promObserver, err := metrics.NewObserver(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	wakuMetrics, err := waku.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register waku metrics: %w", err)
	}
	msgCfg := cfg.Messaging()
	msgCfg.Metrics = wakuMetrics

	var (
		sink    *eventsink.Redis
		appSink app.EventSink
	)
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		sink, err = eventsink.NewRedis(ctx, eventsink.Config{Addr: addr, Stream: cfg.Redis.Stream, MaxLen: 10000})
		if err != nil {
			return nil, fmt.Errorf("event sink: %w", err)
		}
		appSink = sink
	}

	svc := app.NewConsentService(cfg.RPC.EventHistory, appSink, logger)
	ctrl, err := usecase.NewController(
		messaging.NewClient(msgCfg, store, logger),
		ResolveWallet(cfg.Consent),
		usecase.Options{
			Identity:               sender,
			AllowEphemeralIdentity: cfg.Consent.AllowEphemeralIdentity,
			FabricateIdentity:      FabricateIdentity,
			NetworkEnvironment:     cfg.Consent.NetworkEnvironment,
			Label:                  cfg.Consent.Label,
			OnConsentChange:        svc.HandleConsentChange,
			OnError:                svc.HandleError,
			Observer:               usecase.MultiObserver{usecase.NewLogObserver(logger), promObserver},
			Logger:                 logger,
		},
	)
	if err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return nil, err
	}
	svc.Attach(ctrl)

	server := rpc.NewServer(svc, rpc.Options{
		Addr:         cfg.RPC.Addr,
		Token:        cfg.RPC.Token,
		RateLimitRPS: cfg.RPC.RateLimitRPS,
		RateBurst:    cfg.RPC.RateBurst,
		Metrics:      metrics.Handler(reg),
		Logger:       logger,
	})

	return &Daemon{
		Config:     cfg,
		Service:    svc,
		Controller: ctrl,
		Server:     server,
		Registry:   reg,
		Logger:     logger,
		sink:       sink,
	}, nil
}

// Run serves RPC until ctx ends and then releases the session.
func (d *Daemon) Run(ctx context.Context) error {
	runErr := d.Server.Run(ctx)
	return errors.Join(runErr, d.Close())
}

func (d *Daemon) Close() error {
	var errs []error
	if err := d.Service.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveIdentity restores the configured sender identity. Without a mnemonic
// it returns nil and the controller decides whether an ephemeral identity is
// allowed.
func ResolveIdentity(cfg config.ConsentConfig) (ports.Identity, error) {
	mnemonic := strings.TrimSpace(cfg.Mnemonic)
	if mnemonic == "" {
		return nil, nil
	}
	id, err := identity.FromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return id, nil
}

// FabricateIdentity draws a fresh random sender identity.
func FabricateIdentity() ports.Identity { return identity.MustFabricate() }

// ResolveWallet prefers a fixed peer address over the JSON-RPC wallet. A nil
// provider makes every action fail as wallet unavailable.
func ResolveWallet(cfg config.ConsentConfig) ports.WalletProvider {
	if peer := strings.TrimSpace(cfg.PeerAddress); peer != "" {
		return wallet.NewStaticProvider(peer)
	}
	if url := strings.TrimSpace(cfg.WalletURL); url != "" {
		return wallet.NewRPCProvider(url)
	}
	return nil
}

// ResolveStore returns nil when no storage directory is configured.
func ResolveStore(cfg config.Config) (*messaging.ConsentListStore, error) {
	dir := strings.TrimSpace(cfg.Storage.Dir)
	if dir == "" {
		return nil, nil
	}
	requireExplicit := strings.EqualFold(cfg.Consent.NetworkEnvironment, messaging.EnvProduction)
	secret, err := StorageSecret(dir, cfg.Storage.Secret, requireExplicit)
	if err != nil {
		return nil, fmt.Errorf("storage secret: %w", err)
	}
	return messaging.NewConsentListStore(dir, secret), nil
}
