//go:build real_waku

package waku

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/waku-org/go-waku/waku/persistence"
	"github.com/waku-org/go-waku/waku/persistence/sqlite"
	wakuNode "github.com/waku-org/go-waku/waku/v2/node"
	"github.com/waku-org/go-waku/waku/v2/protocol"
	legacyStore "github.com/waku-org/go-waku/waku/v2/protocol/legacy_store"
	wpb "github.com/waku-org/go-waku/waku/v2/protocol/pb"
	"github.com/waku-org/go-waku/waku/v2/protocol/relay"
	"github.com/waku-org/go-waku/waku/v2/utils"
)

var errNodeStopped = errors.New("go-waku node is not running")

type goWakuNode struct {
	mu      sync.RWMutex
	node    *wakuNode.WakuNode
	cfg     Config
	owner   string
	metrics *Metrics

	redialCancel context.CancelFunc
	redialWG     sync.WaitGroup
}

func newGoWakuBackend(m *Metrics) backend {
	return &goWakuNode{metrics: m}
}

func (g *goWakuNode) Start(ctx context.Context, cfg Config) error {
	hostAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}
	opts := []wakuNode.WakuNodeOption{wakuNode.WithHostAddress(hostAddr)}
	if cfg.EnableRelay {
		opts = append(opts, wakuNode.WithWakuRelay())
	}
	if cfg.EnableStore {
		provider, err := newMemoryStore()
		if err != nil {
			return err
		}
		opts = append(opts, wakuNode.WithMessageProvider(provider), wakuNode.WithWakuStore())
	}
	if cfg.EnableFilter {
		opts = append(opts, wakuNode.WithWakuFilterLightNode(), wakuNode.WithWakuFilterFullNode())
	}
	if cfg.EnableLightPush {
		opts = append(opts, wakuNode.WithLightPush())
	}

	node, err := wakuNode.New(opts...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}
	for _, addr := range cfg.BootstrapNodes {
		g.metrics.dialed(node.DialPeer(ctx, addr) == nil)
	}

	g.mu.Lock()
	g.node = node
	g.cfg = cfg
	g.mu.Unlock()
	if cfg.FailoverV1 && len(cfg.BootstrapNodes) > 0 {
		g.startRedialing()
	}
	return nil
}

func (g *goWakuNode) Stop() {
	g.mu.Lock()
	cancel := g.redialCancel
	g.redialCancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		g.redialWG.Wait()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.node != nil {
		g.node.Stop()
		g.node = nil
	}
}

func (g *goWakuNode) PeerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.node == nil {
		return 0
	}
	return g.node.PeerCount()
}

func (g *goWakuNode) SetIdentity(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owner = owner
}

func (g *goWakuNode) ListenAddresses() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.node == nil {
		return nil
	}
	var out []string
	for _, addr := range g.node.ListenAddresses() {
		out = append(out, addr.String())
	}
	return out
}

func (g *goWakuNode) snapshot() (*wakuNode.WakuNode, Config, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.node, g.cfg, g.owner
}

func (g *goWakuNode) SubscribeConsent(handler func(ConsentRecord)) error {
	node, cfg, owner := g.snapshot()
	if node == nil {
		return errNodeStopped
	}
	if owner == "" {
		return ErrIdentityNotSet
	}

	subs, err := node.Relay().Subscribe(context.Background(), protocol.NewContentFilter(cfg.PubsubTopic, cfg.ContentTopic))
	if err != nil {
		return err
	}
	for _, sub := range subs {
		go func(sub *relay.Subscription) {
			for env := range sub.Ch {
				if env == nil || env.Message() == nil {
					continue
				}
				if rec, ok := decodeRecord(env.Message().Payload, owner); ok {
					handler(rec)
				}
			}
		}(sub)
	}
	return nil
}

func (g *goWakuNode) PublishConsent(ctx context.Context, rec ConsentRecord) error {
	node, cfg, _ := g.snapshot()
	if node == nil {
		return errNodeStopped
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	ts := rec.IssuedAt
	if ts == 0 {
		ts = time.Now().UnixNano()
	}
	msg := &wpb.WakuMessage{Payload: payload, ContentTopic: cfg.ContentTopic, Timestamp: &ts}
	_, err = node.Relay().Publish(ctx, msg, relay.WithPubSubTopic(cfg.PubsubTopic))
	return err
}

// FetchConsentSince walks storeTargets until one store peer answers, then
// pages through its history until the store reports it complete. The newest
// limit records are kept when limit > 0.
func (g *goWakuNode) FetchConsentSince(ctx context.Context, owner string, since time.Time, limit int) ([]ConsentRecord, error) {
	node, cfg, _ := g.snapshot()
	if node == nil {
		return nil, errNodeStopped
	}
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	start, end := since.UnixNano(), time.Now().UnixNano()
	query := legacyStore.Query{
		PubsubTopic:   cfg.PubsubTopic,
		ContentTopics: []string{cfg.ContentTopic},
		StartTime:     &start,
		EndTime:       &end,
	}

	var (
		result  *legacyStore.Result
		lastErr error
	)
	targets := storeTargets(cfg.BootstrapNodes, cfg.StoreQueryFanout, cfg.FailoverV1)
	for i, target := range targets {
		opts := []legacyStore.HistoryRequestOption{legacyStore.WithPaging(true, uint64(cfg.StoreQueryLimit))}
		if target != autoStorePeer {
			addr, err := ma.NewMultiaddr(target)
			if err != nil {
				continue
			}
			opts = append(opts, legacyStore.WithPeerAddr(addr))
		}
		res, err := node.LegacyStore().Query(ctx, query, opts...)
		if err != nil {
			g.metrics.storeQuery("failed")
			slog.Warn("store query failed", "component", "waku", "operation", "store.query", "peer_addr", target, "attempt", i+1, "error", err.Error())
			lastErr = err
			continue
		}
		if i > 0 {
			g.metrics.storeQuery("failover")
		} else {
			g.metrics.storeQuery("ok")
		}
		result = res
		break
	}
	if result == nil {
		if lastErr == nil {
			lastErr = errors.New("no usable store peer")
		}
		return nil, lastErr
	}

	first := true
	return collectHistory(owner, limit, func() ([][]byte, bool, error) {
		if !first {
			next, err := node.LegacyStore().Next(ctx, result)
			if err != nil {
				return nil, false, err
			}
			result = next
		}
		first = false
		payloads := make([][]byte, 0, len(result.Messages))
		for _, msg := range result.Messages {
			if msg != nil {
				payloads = append(payloads, msg.Payload)
			}
		}
		return payloads, result.IsComplete(), nil
	})
}

func (g *goWakuNode) startRedialing() {
	ctx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.redialCancel = cancel
	cfg := g.cfg
	g.mu.Unlock()

	g.redialWG.Add(1)
	go func() {
		defer g.redialWG.Done()
		schedule := newRedialSchedule(cfg, time.Now().UnixNano())
		ticker := time.NewTicker(cfg.ReconnectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if !schedule.due(now) {
					continue
				}
				if g.PeerCount() >= peerTarget(cfg) || g.redial(ctx, cfg.BootstrapNodes) {
					schedule.settle(now)
					continue
				}
				schedule.failed(now)
			}
		}
	}()
}

// redial dials every bootstrap peer once and reports whether any answered.
func (g *goWakuNode) redial(ctx context.Context, bootstrap []string) bool {
	node, _, _ := g.snapshot()
	if node == nil {
		return false
	}
	reached := false
	for _, addr := range bootstrap {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		err := node.DialPeer(ctx, addr)
		g.metrics.dialed(err == nil)
		if err != nil {
			slog.Warn("bootstrap redial failed", "component", "waku", "operation", "peer.redial", "peer_addr", addr, "error", err.Error())
			continue
		}
		reached = true
	}
	return reached
}

func newMemoryStore() (*persistence.DBStore, error) {
	db, err := sqlite.NewDB(":memory:", utils.Logger())
	if err != nil {
		return nil, err
	}
	return persistence.NewDBStore(
		prometheus.NewRegistry(),
		utils.Logger(),
		persistence.WithDB(db),
		persistence.WithMigrations(sqlite.Migrations),
	)
}
