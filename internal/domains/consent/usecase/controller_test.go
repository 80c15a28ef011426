package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"
)

const (
	senderAddr = "0x93e2fc3e99dfb1238eb9e0ef2580efc5809c7204"
	peerA      = "0x1111111111111111111111111111111111111111"
	peerB      = "0x2222222222222222222222222222222222222222"
)

func newTestController(t *testing.T, client *fakeClient, wallet ports.WalletProvider, log *callbackLog, observer ports.Observer) *Controller {
	t.Helper()
	ctrl, err := NewController(client, wallet, Options{
		Identity:        fakeIdentity{address: senderAddr},
		OnConsentChange: log.onChange,
		OnError:         log.onError,
		Observer:        observer,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return ctrl
}

func TestControllerUnknownPeerBecomesAllowed(t *testing.T) {
	session := newFakeSession(senderAddr)
	client := &fakeClient{session: session}
	wallet := &fakeWallet{addresses: []string{peerA}}
	log := &callbackLog{}
	ctrl := newTestController(t, client, wallet, log, &recordingObserver{})

	if !ctrl.OnAction(context.Background()) {
		t.Fatal("expected action to start")
	}
	changes, errs := log.counts()
	if changes != 1 || errs != 0 {
		t.Fatalf("expected one change and no error, got %d/%d", changes, errs)
	}
	if got := log.changes[0]; got.PeerAddress != peerA || got.State != model.StateAllowed {
		t.Fatalf("unexpected event: %#v", got)
	}
	display := ctrl.Display()
	if display.Busy {
		t.Fatal("controller must be idle after the action")
	}
	if display.Status != "Consent State: allowed" {
		t.Fatalf("unexpected status: %q", display.Status)
	}
	if display.SenderAddress != senderAddr {
		t.Fatalf("unexpected sender: %q", display.SenderAddress)
	}
	if client.lastEnv != DefaultNetworkEnvironment {
		t.Fatalf("expected default environment, got %q", client.lastEnv)
	}
}

func TestControllerAllowedPeerBecomesBlocked(t *testing.T) {
	session := newFakeSession(senderAddr)
	session.set(peerA, model.StateAllowed)
	log := &callbackLog{}
	ctrl := newTestController(t, &fakeClient{session: session}, &fakeWallet{addresses: []string{peerA}}, log, &recordingObserver{})

	ctrl.OnAction(context.Background())
	if len(log.changes) != 1 || log.changes[0].State != model.StateBlocked {
		t.Fatalf("expected blocked event, got %#v", log.changes)
	}
	if session.blocks != 1 || session.allows != 0 {
		t.Fatalf("expected exactly one block call, got allows=%d blocks=%d", session.allows, session.blocks)
	}
}

func TestControllerBlockedPeerBecomesAllowedAgain(t *testing.T) {
	session := newFakeSession(senderAddr)
	session.set(peerA, model.StateAllowed)
	log := &callbackLog{}
	ctrl := newTestController(t, &fakeClient{session: session}, &fakeWallet{addresses: []string{peerA}}, log, &recordingObserver{})

	ctrl.OnAction(context.Background())
	ctrl.OnAction(context.Background())
	if len(log.changes) != 2 {
		t.Fatalf("expected two events, got %d", len(log.changes))
	}
	if log.changes[0].State != model.StateBlocked || log.changes[1].State != model.StateAllowed {
		t.Fatalf("unexpected transitions: %#v", log.changes)
	}
}

func TestControllerMissingWalletReportsUnavailable(t *testing.T) {
	session := newFakeSession(senderAddr)
	log := &callbackLog{}
	ctrl := newTestController(t, &fakeClient{session: session}, nil, log, &recordingObserver{})

	ctrl.OnAction(context.Background())
	changes, errs := log.counts()
	if changes != 0 || errs != 1 {
		t.Fatalf("expected exactly one error callback, got %d/%d", changes, errs)
	}
	if !errors.Is(log.errs[0], model.ErrWalletUnavailable) {
		t.Fatalf("expected ErrWalletUnavailable, got %v", log.errs[0])
	}
	if session.opCount() != 0 || session.refreshes != 0 {
		t.Fatalf("consent registry must not be touched, ops=%d refreshes=%d", session.opCount(), session.refreshes)
	}
	if ctrl.Busy() {
		t.Fatal("controller must return to idle after an error")
	}
	if ctrl.Status() != DefaultLabel {
		t.Fatalf("status should fall back to the label, got %q", ctrl.Status())
	}
}

func TestControllerIgnoresActionWhileBusy(t *testing.T) {
	session := newFakeSession(senderAddr)
	wallet := &fakeWallet{
		addresses: []string{peerA},
		entered:   make(chan struct{}, 1),
		gate:      make(chan struct{}),
	}
	log := &callbackLog{}
	observer := &recordingObserver{}
	ctrl := newTestController(t, &fakeClient{session: session}, wallet, log, observer)

	done := make(chan bool, 1)
	go func() { done <- ctrl.OnAction(context.Background()) }()

	select {
	case <-wallet.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first action never reached the wallet prompt")
	}
	if !ctrl.Busy() {
		t.Fatal("controller must be busy while the wallet prompt is open")
	}
	if ctrl.Status() != loadingStatus {
		t.Fatalf("unexpected busy status: %q", ctrl.Status())
	}
	if ctrl.OnAction(context.Background()) {
		t.Fatal("second action must be ignored while busy")
	}
	close(wallet.gate)

	select {
	case started := <-done:
		if !started {
			t.Fatal("first action should have started")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first action did not finish")
	}
	if wallet.callCount() != 1 {
		t.Fatalf("expected one wallet prompt, got %d", wallet.callCount())
	}
	if session.opCount() != 1 {
		t.Fatalf("expected one consent operation, got %d", session.opCount())
	}
	changes, errs := log.counts()
	if changes != 1 || errs != 0 {
		t.Fatalf("expected a single callback, got %d/%d", changes, errs)
	}
	if observer.ignored != 1 {
		t.Fatalf("expected one ignored notification, got %d", observer.ignored)
	}
}

func TestControllerExactlyOneCallbackPerFailure(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeClient, *fakeSession, *fakeWallet)
		kind  error
	}{
		{
			name:  "session creation",
			setup: func(c *fakeClient, _ *fakeSession, _ *fakeWallet) { c.err = errors.New("network unreachable") },
			kind:  model.ErrSessionCreation,
		},
		{
			name:  "user rejected",
			setup: func(_ *fakeClient, _ *fakeSession, w *fakeWallet) { w.err = model.ErrUserRejected },
			kind:  model.ErrUserRejected,
		},
		{
			name:  "refresh",
			setup: func(_ *fakeClient, s *fakeSession, _ *fakeWallet) { s.refreshErr = errors.New("store query failed") },
			kind:  model.ErrConsentOperation,
		},
		{
			name:  "allow rejected",
			setup: func(_ *fakeClient, s *fakeSession, _ *fakeWallet) { s.opErr = errors.New("publish rejected") },
			kind:  model.ErrConsentOperation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := newFakeSession(senderAddr)
			client := &fakeClient{session: session}
			wallet := &fakeWallet{addresses: []string{peerA}}
			tc.setup(client, session, wallet)
			log := &callbackLog{}
			ctrl := newTestController(t, client, wallet, log, &recordingObserver{})

			ctrl.OnAction(context.Background())
			changes, errs := log.counts()
			if changes != 0 || errs != 1 {
				t.Fatalf("expected exactly one error callback, got %d/%d", changes, errs)
			}
			if !errors.Is(log.errs[0], tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, log.errs[0])
			}
			if ctrl.Busy() {
				t.Fatal("controller must be reusable after failure")
			}
		})
	}
}

func TestControllerReResolvesPeerEveryAction(t *testing.T) {
	session := newFakeSession(senderAddr)
	wallet := &fakeWallet{addresses: []string{peerA, peerB}}
	log := &callbackLog{}
	ctrl := newTestController(t, &fakeClient{session: session}, wallet, log, &recordingObserver{})

	ctrl.OnAction(context.Background())
	ctrl.OnAction(context.Background())
	if len(log.changes) != 2 {
		t.Fatalf("expected two events, got %d", len(log.changes))
	}
	if log.changes[0].PeerAddress != peerA || log.changes[1].PeerAddress != peerB {
		t.Fatalf("peer addresses must follow the connected wallet: %#v", log.changes)
	}
	if wallet.callCount() != 2 {
		t.Fatalf("wallet must be prompted on each action, got %d", wallet.callCount())
	}
}

func TestControllerReusesSessionAcrossActions(t *testing.T) {
	session := newFakeSession(senderAddr)
	client := &fakeClient{session: session}
	log := &callbackLog{}
	ctrl := newTestController(t, client, &fakeWallet{addresses: []string{peerA}}, log, &recordingObserver{})

	ctrl.OnAction(context.Background())
	ctrl.OnAction(context.Background())
	if client.createCount() != 1 {
		t.Fatalf("expected one session creation, got %d", client.createCount())
	}
	if err := ctrl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !session.closed {
		t.Fatal("close must release the cached session")
	}
}

func TestControllerReportsConfirmedStateNotTarget(t *testing.T) {
	session := newFakeSession(senderAddr)
	session.ignoreOps = true
	log := &callbackLog{}
	ctrl := newTestController(t, &fakeClient{session: session}, &fakeWallet{addresses: []string{peerA}}, log, &recordingObserver{})

	ctrl.OnAction(context.Background())
	if len(log.changes) != 1 {
		t.Fatalf("expected one event, got %d", len(log.changes))
	}
	if log.changes[0].State != model.StateUnknown {
		t.Fatalf("event must carry the re-resolved state, got %s", log.changes[0].State)
	}
	if session.refreshes != 2 {
		t.Fatalf("expected a refresh before and after the toggle, got %d", session.refreshes)
	}
}

func TestControllerPhaseOrder(t *testing.T) {
	observer := &recordingObserver{}
	ctrl := newTestController(t, &fakeClient{session: newFakeSession(senderAddr)}, &fakeWallet{addresses: []string{peerA}}, &callbackLog{}, observer)

	ctrl.OnAction(context.Background())
	want := []model.Phase{
		model.PhaseConnecting,
		model.PhaseSessionReady,
		model.PhaseResolving,
		model.PhaseToggling,
		model.PhaseConfirming,
	}
	if len(observer.phases) != len(want) {
		t.Fatalf("unexpected phases: %v", observer.phases)
	}
	for i := range want {
		if observer.phases[i] != want[i] {
			t.Fatalf("phase %d = %s, want %s", i, observer.phases[i], want[i])
		}
	}
	if ctrl.Display().Phase != model.PhaseIdle {
		t.Fatalf("expected idle phase after action, got %s", ctrl.Display().Phase)
	}
}

func TestControllerWithoutCallbacksStillCompletes(t *testing.T) {
	ctrl, err := NewController(&fakeClient{session: newFakeSession(senderAddr)}, nil, Options{
		Identity: fakeIdentity{address: senderAddr},
		Observer: &recordingObserver{},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if !ctrl.OnAction(context.Background()) {
		t.Fatal("expected action to start")
	}
	if ctrl.Busy() {
		t.Fatal("controller must be idle")
	}
}

func TestNewControllerRequiresIdentityOrOptIn(t *testing.T) {
	if _, err := NewController(&fakeClient{}, nil, Options{}); !errors.Is(err, model.ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
	if _, err := NewController(&fakeClient{}, nil, Options{AllowEphemeralIdentity: true}); !errors.Is(err, model.ErrIdentityRequired) {
		t.Fatalf("ephemeral identities without a factory must be rejected, got %v", err)
	}
	fabricated := 0
	ctrl, err := NewController(&fakeClient{session: newFakeSession(senderAddr)}, &fakeWallet{addresses: []string{peerA}}, Options{
		AllowEphemeralIdentity: true,
		FabricateIdentity: func() ports.Identity {
			fabricated++
			return fakeIdentity{address: senderAddr}
		},
		Label:    "Join the list",
		Observer: &recordingObserver{},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if ctrl.Status() != "Join the list" {
		t.Fatalf("label must seed the status, got %q", ctrl.Status())
	}
	ctrl.OnAction(context.Background())
	ctrl.OnAction(context.Background())
	if fabricated != 1 {
		t.Fatalf("expected a single fabricated identity, got %d", fabricated)
	}
}
