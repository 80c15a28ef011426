package messaging

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"consent-button/go-backend/internal/domains/consent/ports"
	"consent-button/go-backend/internal/platform/ratelimiter"
	"consent-button/go-backend/internal/waku"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

var ErrIdentityRequired = errors.New("messaging identity is required")

// transport is the slice of waku.Node a session needs.
type transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetIdentity(owner string)
	Status() waku.Status
	SubscribeConsent(handler func(waku.ConsentRecord)) error
	PublishConsent(ctx context.Context, rec waku.ConsentRecord) error
	FetchConsentSince(ctx context.Context, owner string, since time.Time, limit int) ([]waku.ConsentRecord, error)
}

type Config struct {
	Waku         waku.Config
	Environments map[string]Environment
	// PublishRPS and PublishBurst bound consent records per owner address.
	PublishRPS   float64
	PublishBurst int
	// Metrics, when set, is shared by every node the client starts.
	Metrics      *waku.Metrics
}

func DefaultConfig() Config {
	return Config{
		Waku:         waku.DefaultConfig(),
		Environments: DefaultEnvironments(),
		PublishRPS:   2,
		PublishBurst: 5,
	}
}

// Client opens consent sessions on the waku network.
type Client struct {
	cfg          Config
	store        *ConsentListStore
	limiter      *ratelimiter.MapLimiter
	logger       *slog.Logger
	now          func() time.Time
	newTransport func(waku.Config) transport
}

func NewClient(cfg Config, store *ConsentListStore, logger *slog.Logger) *Client {
	if len(cfg.Environments) == 0 {
		cfg.Environments = DefaultEnvironments()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		store:   store,
		limiter: ratelimiter.New(cfg.PublishRPS, cfg.PublishBurst, 10*time.Minute),
		logger:  logger,
		now:     time.Now,
		newTransport: func(c waku.Config) transport {
			return waku.NewNode(c, waku.WithMetrics(cfg.Metrics))
		},
	}
}

// CreateSession satisfies ports.MessagingClient.
func (c *Client) CreateSession(ctx context.Context, id ports.Identity, networkEnvironment string) (ports.Session, error) {
	s, err := c.Open(ctx, id, networkEnvironment)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open starts a node for networkEnvironment bound to id and seeds the consent
// list from the local snapshot, if any.
func (c *Client) Open(ctx context.Context, id ports.Identity, networkEnvironment string) (*Session, error) {
	if id == nil {
		return nil, ErrIdentityRequired
	}
	owner := strings.ToLower(strings.TrimSpace(id.Address()))
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("identity address %q is not a hex address", owner)
	}
	wcfg, err := ResolveEnvironment(c.cfg.Environments, networkEnvironment, c.cfg.Waku)
	if err != nil {
		return nil, err
	}

	node := c.newTransport(wcfg)
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start waku node: %w", err)
	}
	node.SetIdentity(owner)

	entries, err := c.store.Load(owner)
	if err != nil {
		c.logger.Warn("consent list snapshot ignored",
			"component", "messaging",
			"operation", "session.open",
			"owner", owner,
			"error", err.Error(),
		)
		entries = nil
	}

	s := &Session{
		id:      newSessionID(),
		owner:   owner,
		env:     wcfg.BootstrapSource,
		signer:  id,
		node:    node,
		list:    NewConsentList(entries),
		store:   c.store,
		limiter: c.limiter,
		logger:  c.logger,
		now:     c.now,
	}
	if err := node.SubscribeConsent(s.onRecord); err != nil {
		_ = node.Stop(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("subscribe consent topic: %w", err)
	}
	c.logger.Info("session opened",
		"component", "messaging",
		"operation", "session.open",
		"session_id", s.id,
		"owner", owner,
		"environment", s.env,
		"restored_entries", len(entries),
	)
	return s, nil
}

func newSessionID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base58.Encode(buf)
}

var _ ports.MessagingClient = (*Client)(nil)
