package waku

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	TransportMock   = "mock"
	TransportGoWaku = "go-waku"

	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDegraded     = "degraded"
)

var (
	peerPollInterval = 1 * time.Second
	mockStartupDelay = 50 * time.Millisecond
)

var (
	ErrNotConnected       = errors.New("waku not connected")
	ErrIdentityNotSet     = errors.New("identity is not set")
	ErrOwnerRequired      = errors.New("record owner is required")
	ErrBackendUnavailable = errors.New("go-waku backend is not available in this build")
)

const (
	DefaultPubsubTopic  = "/waku/2/default-waku/proto"
	DefaultContentTopic = "/consent-button/1/consent-record/json"
)

type Config struct {
	Transport           string        `yaml:"transport"`
	Port                int           `yaml:"port"`
	EnableRelay         bool          `yaml:"enableRelay"`
	EnableStore         bool          `yaml:"enableStore"`
	EnableFilter        bool          `yaml:"enableFilter"`
	EnableLightPush     bool          `yaml:"enableLightPush"`
	BootstrapNodes      []string      `yaml:"bootstrapNodes"`
	FailoverV1          bool          `yaml:"failoverV1"`
	MinPeers            int           `yaml:"minPeers"`
	StoreQueryFanout    int           `yaml:"storeQueryFanout"`
	StoreQueryLimit     int           `yaml:"storeQueryLimit"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
	PubsubTopic         string        `yaml:"pubsubTopic"`
	ContentTopic        string        `yaml:"contentTopic"`
	// BootstrapSource names where BootstrapNodes came from, usually the
	// network environment tag.
	BootstrapSource string `yaml:"-"`
}

type Status struct {
	State           string    `json:"state"`
	PeerCount       int       `json:"peer_count"`
	LastSync        time.Time `json:"last_sync"`
	BootstrapSource string    `json:"bootstrap_source,omitempty"`
}

// Node is one consent transport endpoint. The mock transport shares an
// in-process bus; go-waku needs the real_waku build tag.
type Node struct {
	mu      sync.RWMutex
	cfg     Config
	status  Status
	owner   string
	subID   uint64
	backend backend
	metrics *Metrics

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

type backend interface {
	Start(ctx context.Context, cfg Config) error
	Stop()
	PeerCount() int
	SetIdentity(owner string)
	ListenAddresses() []string
	SubscribeConsent(handler func(ConsentRecord)) error
	PublishConsent(ctx context.Context, rec ConsentRecord) error
	FetchConsentSince(ctx context.Context, owner string, since time.Time, limit int) ([]ConsentRecord, error)
}

type Option func(*Node)

// WithMetrics reports peer counts, state changes and go-waku dial and store
// activity to m.
func WithMetrics(m *Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

func DefaultConfig() Config {
	return Config{
		Transport:           TransportMock,
		Port:                60000,
		EnableRelay:         true,
		EnableStore:         true,
		EnableFilter:        true,
		EnableLightPush:     true,
		FailoverV1:          true,
		MinPeers:            2,
		StoreQueryFanout:    3,
		StoreQueryLimit:     500,
		ReconnectInterval:   1 * time.Second,
		ReconnectBackoffMax: 30 * time.Second,
		PubsubTopic:         DefaultPubsubTopic,
		ContentTopic:        DefaultContentTopic,
	}
}

func NewNode(cfg Config, opts ...Option) *Node {
	cfg = normalizeConfig(cfg)
	n := &Node{
		cfg:    cfg,
		status: Status{State: StateDisconnected, BootstrapSource: cfg.BootstrapSource},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if cfg.MinPeers < 0 {
		cfg.MinPeers = 0
	}
	if cfg.StoreQueryFanout <= 0 {
		cfg.StoreQueryFanout = def.StoreQueryFanout
	}
	if cfg.StoreQueryLimit <= 0 {
		cfg.StoreQueryLimit = def.StoreQueryLimit
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	cfg.ReconnectBackoffMax = max(cfg.ReconnectBackoffMax, cfg.ReconnectInterval)
	if strings.TrimSpace(cfg.PubsubTopic) == "" {
		cfg.PubsubTopic = def.PubsubTopic
	}
	if strings.TrimSpace(cfg.ContentTopic) == "" {
		cfg.ContentTopic = def.ContentTopic
	}
	return cfg
}

func (n *Node) Start(ctx context.Context) error {
	n.setState(StateConnecting, 0)

	if n.cfg.Transport != TransportGoWaku {
		select {
		case <-ctx.Done():
			n.setState(StateDisconnected, 0)
			return ctx.Err()
		case <-time.After(mockStartupDelay):
		}
		n.setState(StateConnected, mockPeerCount(n.cfg))
		return nil
	}

	b := newGoWakuBackend(n.metrics)
	if b == nil {
		n.setState(StateDisconnected, 0)
		return ErrBackendUnavailable
	}
	if err := b.Start(ctx, n.cfg); err != nil {
		n.setState(StateDisconnected, 0)
		return err
	}
	peers := b.PeerCount()
	if n.cfg.FailoverV1 {
		var err error
		if peers, err = awaitPeers(ctx, b, n.cfg); err != nil {
			b.Stop()
			n.setState(StateDisconnected, 0)
			return err
		}
	}
	n.mu.Lock()
	n.backend = b
	n.mu.Unlock()
	n.setState(stateForPeers(peers, n.cfg), peers)
	n.watchPeers()
	return nil
}

func (n *Node) Stop(_ context.Context) error {
	n.stopWatching()

	n.mu.Lock()
	if n.backend != nil {
		n.backend.Stop()
		n.backend = nil
	}
	if n.subID != 0 {
		globalBus.unsubscribe(n.owner, n.subID)
		n.subID = 0
	}
	n.mu.Unlock()
	n.setState(StateDisconnected, 0)
	return nil
}

func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s := n.status
	if n.backend != nil {
		s.PeerCount = n.backend.PeerCount()
	}
	return s
}

// SetIdentity binds the node to the owner address whose consent records it
// follows.
func (n *Node) SetIdentity(owner string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.owner = owner
	if n.backend != nil {
		n.backend.SetIdentity(owner)
	}
}

func (n *Node) ListenAddresses() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.backend == nil {
		return nil
	}
	return n.backend.ListenAddresses()
}

// SubscribeConsent delivers live records issued by the node's own identity,
// typically from other sessions of the same wallet.
func (n *Node) SubscribeConsent(handler func(ConsentRecord)) error {
	n.mu.Lock()
	if !isOnline(n.status.State) {
		n.mu.Unlock()
		return ErrNotConnected
	}
	if n.owner == "" {
		n.mu.Unlock()
		return ErrIdentityNotSet
	}
	b := n.backend
	if b == nil {
		if n.subID != 0 {
			globalBus.unsubscribe(n.owner, n.subID)
		}
		n.subID = globalBus.subscribe(n.owner, handler)
	}
	n.mu.Unlock()

	if b != nil {
		return b.SubscribeConsent(handler)
	}
	return nil
}

func (n *Node) PublishConsent(ctx context.Context, rec ConsentRecord) error {
	b, err := n.online(ctx)
	if err != nil {
		return err
	}
	if rec.Owner == "" {
		return ErrOwnerRequired
	}
	if b != nil {
		return b.PublishConsent(ctx, rec)
	}
	globalBus.publish(rec)
	return nil
}

// FetchConsentSince returns the owner's records issued at or after since,
// oldest first. limit > 0 keeps only the newest limit records; limit <= 0
// returns the whole history. StoreQueryLimit is the store page size, never a
// cap on the result.
func (n *Node) FetchConsentSince(ctx context.Context, owner string, since time.Time, limit int) ([]ConsentRecord, error) {
	b, err := n.online(ctx)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if limit < 0 {
		limit = 0
	}
	if b == nil {
		return globalBus.since(owner, since, limit), nil
	}
	return b.FetchConsentSince(ctx, owner, since, limit)
}

// online returns the go-waku backend, nil for the mock transport, or why the
// node cannot serve a request right now.
func (n *Node) online(ctx context.Context) (backend, error) {
	n.mu.RLock()
	state, b := n.status.State, n.backend
	n.mu.RUnlock()
	if !isOnline(state) {
		return nil, ErrNotConnected
	}
	return b, ctx.Err()
}

func isOnline(state string) bool {
	return state == StateConnected || state == StateDegraded
}

func (n *Node) setState(state string, peers int) {
	n.mu.Lock()
	changed := n.status.State != state
	n.status.State = state
	n.status.PeerCount = peers
	n.status.LastSync = time.Now()
	n.mu.Unlock()
	if changed {
		n.metrics.transitioned(state)
	}
	n.metrics.observePeers(peers)
}

// watchPeers polls the backend peer count and flips between connected and
// degraded until Stop.
func (n *Node) watchPeers() {
	n.stopWatching()
	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.watchCancel = cancel
	n.mu.Unlock()

	n.watchWG.Add(1)
	go func() {
		defer n.watchWG.Done()
		ticker := time.NewTicker(peerPollInterval)
		defer ticker.Stop()
		for {
			n.pollPeers()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (n *Node) stopWatching() {
	n.mu.Lock()
	cancel := n.watchCancel
	n.watchCancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
		n.watchWG.Wait()
	}
}

func (n *Node) pollPeers() {
	n.mu.RLock()
	b, current := n.backend, n.status
	n.mu.RUnlock()
	if b == nil || current.State == StateDisconnected {
		return
	}
	peers := b.PeerCount()
	next := StateConnected
	if peers <= 0 {
		next = StateDegraded
	}
	if next != current.State || peers != current.PeerCount {
		n.setState(next, peers)
	}
}

func mockPeerCount(cfg Config) int {
	return min(max(len(cfg.BootstrapNodes), 1), 12)
}

// awaitPeers waits up to handshakeTimeout for the peer target and returns
// whatever count was reached.
func awaitPeers(ctx context.Context, b backend, cfg Config) (int, error) {
	target := peerTarget(cfg)
	if peers := b.PeerCount(); peers >= target {
		return peers, nil
	}
	timer := time.NewTimer(handshakeTimeout(cfg))
	defer timer.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return b.PeerCount(), ctx.Err()
		case <-timer.C:
			return b.PeerCount(), nil
		case <-ticker.C:
			if peers := b.PeerCount(); peers >= target {
				return peers, nil
			}
		}
	}
}
