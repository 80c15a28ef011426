package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"
	"consent-button/go-backend/internal/platform/ratelimiter"
	"consent-button/go-backend/internal/waku"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Records may reach store nodes slightly out of order; incremental refreshes
// re-read this window before the watermark.
const refreshOverlap = 5 * time.Minute

var (
	ErrSessionClosed      = errors.New("messaging session is closed")
	ErrPublishRateLimited = errors.New("consent publish rate limited")
	ErrInvalidPeer        = errors.New("invalid peer address")
)

// Session is a live consent registry bound to one owner address.
type Session struct {
	id      string
	owner   string
	env     string
	signer  ports.Identity
	node    transport
	list    *ConsentList
	store   *ConsentListStore
	limiter *ratelimiter.MapLimiter
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	synced     bool
	closed     bool
	lastIssued int64
	rejected   int

	persistMu sync.Mutex
}

func (s *Session) ID() string { return s.id }

func (s *Session) Address() string { return s.owner }

func (s *Session) Environment() string { return s.env }

// Entries returns the current consent list snapshot.
func (s *Session) Entries() []ConsentEntry { return s.list.Snapshot() }

// Rejected counts records dropped for bad signatures or foreign owners.
func (s *Session) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// RefreshConsentList pulls the owner's records from the network. The first
// refresh reads the full history; later ones read from the watermark.
func (s *Session) RefreshConsentList(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	synced := s.synced
	s.mu.Unlock()

	var since time.Time
	if synced {
		if watermark := s.list.Latest(); watermark > 0 {
			since = time.Unix(0, watermark).Add(-refreshOverlap)
		}
	}
	records, err := s.node.FetchConsentSince(ctx, s.owner, since, 0)
	if err != nil {
		return fmt.Errorf("fetch consent records: %w", err)
	}
	applied := 0
	for _, rec := range records {
		if s.ingest(rec) {
			applied++
		}
	}

	s.mu.Lock()
	s.synced = true
	s.mu.Unlock()

	if applied > 0 {
		s.persist()
	}
	s.logger.Debug("consent list refreshed",
		"component", "messaging",
		"operation", "session.refresh",
		"session_id", s.id,
		"fetched", len(records),
		"applied", applied,
	)
	return nil
}

func (s *Session) ConsentState(peerAddress string) model.State {
	return s.list.State(peerAddress)
}

func (s *Session) Allow(ctx context.Context, peerAddresses ...string) error {
	return s.publish(ctx, model.StateAllowed, peerAddresses)
}

func (s *Session) Block(ctx context.Context, peerAddresses ...string) error {
	return s.publish(ctx, model.StateBlocked, peerAddresses)
}

func (s *Session) publish(ctx context.Context, state model.State, peers []string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	normalized := make([]string, 0, len(peers))
	for _, p := range peers {
		p = strings.TrimSpace(p)
		if !common.IsHexAddress(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPeer, p)
		}
		normalized = append(normalized, strings.ToLower(common.HexToAddress(p).Hex()))
	}

	published := 0
	defer func() {
		if published > 0 {
			s.persist()
		}
	}()
	for _, peer := range normalized {
		if ok, wait := s.limiter.Take(s.owner, s.now()); !ok {
			return fmt.Errorf("%w: retry in %s", ErrPublishRateLimited, wait)
		}
		rec := waku.ConsentRecord{
			ID:       uuid.NewString(),
			Owner:    s.owner,
			Peer:     peer,
			State:    state.String(),
			IssuedAt: s.nextIssuedAt(),
		}
		sig, err := s.signer.Sign(recordPayload(rec))
		if err != nil {
			return fmt.Errorf("sign consent record: %w", err)
		}
		rec.Signature = sig
		if err := s.node.PublishConsent(ctx, rec); err != nil {
			return fmt.Errorf("publish consent record: %w", err)
		}
		s.list.Apply(ConsentEntry{Peer: peer, State: state, IssuedAt: rec.IssuedAt, RecordID: rec.ID})
		published++
		s.logger.Info("consent record published",
			"component", "messaging",
			"operation", "session.publish",
			"session_id", s.id,
			"record_id", rec.ID,
			"peer_address", peer,
			"state", state.String(),
		)
	}
	return nil
}

// nextIssuedAt is strictly greater than anything this session has seen so
// a fresh decision wins last-writer-wins even under clock skew.
func (s *Session) nextIssuedAt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixNano()
	if floor := s.list.Latest() + 1; ts < floor {
		ts = floor
	}
	if ts <= s.lastIssued {
		ts = s.lastIssued + 1
	}
	s.lastIssued = ts
	return ts
}

func (s *Session) onRecord(rec waku.ConsentRecord) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if s.ingest(rec) {
		s.persist()
	}
}

func (s *Session) ingest(rec waku.ConsentRecord) bool {
	entry, err := verifyRecord(s.owner, rec)
	if err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		s.logger.Warn("consent record rejected",
			"component", "messaging",
			"operation", "session.ingest",
			"session_id", s.id,
			"record_id", rec.ID,
			"error", err.Error(),
		)
		return false
	}
	return s.list.Apply(entry)
}

func (s *Session) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.store.Persist(s.owner, s.list); err != nil {
		s.logger.Warn("consent list snapshot not saved",
			"component", "messaging",
			"operation", "session.persist",
			"session_id", s.id,
			"error", err.Error(),
		)
	}
}

// Close stops the node. Calling it twice is harmless.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.node.Stop(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("stop waku node: %w", err))
	}
	s.persistMu.Lock()
	if err := s.store.Persist(s.owner, s.list); err != nil {
		errs = append(errs, fmt.Errorf("persist consent list: %w", err))
	}
	s.persistMu.Unlock()
	return errors.Join(errs...)
}

// NetworkStatus reports the underlying node state.
func (s *Session) NetworkStatus() waku.Status {
	return s.node.Status()
}

var _ ports.Session = (*Session)(nil)
