package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"
)

type fakeIdentity struct {
	address string
}

func (f fakeIdentity) Address() string                     { return f.address }
func (f fakeIdentity) Sign(payload []byte) ([]byte, error) { return append([]byte("sig:"), payload...), nil }

type fakeSession struct {
	mu        sync.Mutex
	owner     string
	states    map[string]model.State
	refreshes int
	allows    int
	blocks    int
	closed    bool

	refreshErr error
	opErr      error
	// ignoreOps leaves the registry untouched when allow/block succeed.
	ignoreOps bool
}

func newFakeSession(owner string) *fakeSession {
	return &fakeSession{owner: owner, states: map[string]model.State{}}
}

func (s *fakeSession) Address() string { return s.owner }

func (s *fakeSession) RefreshConsentList(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return s.refreshErr
}

func (s *fakeSession) ConsentState(peer string) model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[strings.ToLower(peer)]
	if !ok {
		return model.StateUnknown
	}
	return state
}

func (s *fakeSession) Allow(_ context.Context, peers ...string) error {
	return s.apply(model.StateAllowed, &s.allows, peers)
}

func (s *fakeSession) Block(_ context.Context, peers ...string) error {
	return s.apply(model.StateBlocked, &s.blocks, peers)
}

func (s *fakeSession) apply(state model.State, counter *int, peers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*counter++
	if s.opErr != nil {
		return s.opErr
	}
	if s.ignoreOps {
		return nil
	}
	for _, peer := range peers {
		s.states[strings.ToLower(peer)] = state
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) set(peer string, state model.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[strings.ToLower(peer)] = state
}

func (s *fakeSession) opCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allows + s.blocks
}

type fakeClient struct {
	mu       sync.Mutex
	session  *fakeSession
	err      error
	creates  int
	lastEnv  string
	lastAddr string
}

func (c *fakeClient) CreateSession(_ context.Context, identity ports.Identity, env string) (ports.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	c.lastEnv = env
	c.lastAddr = identity.Address()
	if c.err != nil {
		return nil, c.err
	}
	return c.session, nil
}

func (c *fakeClient) createCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}

type staticSource string

func (s staticSource) ResolveAddress(context.Context) (string, error) { return string(s), nil }

// fakeWallet hands out addresses in order; gate, when set, blocks every
// request until it is closed and entered is signalled first.
type fakeWallet struct {
	mu        sync.Mutex
	addresses []string
	err       error
	calls     int
	entered   chan struct{}
	gate      chan struct{}
}

func (w *fakeWallet) RequestAccounts(ctx context.Context) (ports.AddressSource, error) {
	w.mu.Lock()
	w.calls++
	idx := w.calls - 1
	entered, gate := w.entered, w.gate
	w.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if w.err != nil {
		return nil, w.err
	}
	if len(w.addresses) == 0 {
		return nil, errors.New("no accounts configured")
	}
	if idx >= len(w.addresses) {
		idx = len(w.addresses) - 1
	}
	return staticSource(w.addresses[idx]), nil
}

func (w *fakeWallet) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type recordingObserver struct {
	mu      sync.Mutex
	phases  []model.Phase
	ignored int
	success int
	failed  int
}

func (o *recordingObserver) ActionStarted(string) {}

func (o *recordingObserver) ActionIgnored(model.Phase) {
	o.mu.Lock()
	o.ignored++
	o.mu.Unlock()
}

func (o *recordingObserver) PhaseEntered(_ string, phase model.Phase) {
	o.mu.Lock()
	o.phases = append(o.phases, phase)
	o.mu.Unlock()
}

func (o *recordingObserver) ActionSucceeded(string, model.Event, time.Duration) {
	o.mu.Lock()
	o.success++
	o.mu.Unlock()
}

func (o *recordingObserver) ActionFailed(string, model.Phase, error, time.Duration) {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}

type callbackLog struct {
	mu      sync.Mutex
	changes []model.Event
	errs    []error
}

func (l *callbackLog) onChange(peer string, state model.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, model.Event{PeerAddress: peer, State: state})
}

func (l *callbackLog) onError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *callbackLog) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes), len(l.errs)
}
