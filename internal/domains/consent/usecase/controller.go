package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"

	"github.com/google/uuid"
)

const (
	DefaultLabel        = "Subscribe with your wallet"
	loadingStatus       = "Loading..."
	consentStatusPrefix = "Consent State: "
)

// Options configures a Controller. Zero values pick the documented defaults.
type Options struct {
	// Identity is the sender identity. When nil, AllowEphemeralIdentity must be
	// set and FabricateIdentity is called once on the first action.
	Identity               ports.Identity
	AllowEphemeralIdentity bool
	FabricateIdentity      func() ports.Identity

	NetworkEnvironment string
	Label              string

	OnConsentChange func(peerAddress string, state model.State)
	OnError         func(err error)

	Observer ports.Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// DisplayState is the read-only view the presentation layer binds to.
type DisplayState struct {
	Busy          bool        `json:"busy"`
	Status        string      `json:"status"`
	Phase         model.Phase `json:"phase"`
	SenderAddress string      `json:"sender_address,omitempty"`
}

// Controller runs the consent toggle sequence for one button. At most one
// action is in flight at a time; extra OnAction calls while busy are dropped.
type Controller struct {
	identity        ports.Identity
	env             string
	onConsentChange func(string, model.State)
	onError         func(error)
	observer        ports.Observer
	now             func() time.Time

	provisioner *IdentityProvisioner
	sessions    *SessionManager
	wallet      *WalletConnector
	resolver    *ConsentResolver
	toggler     *ConsentToggler

	mu         sync.Mutex
	busy       bool
	phase      model.Phase
	status     string
	idleStatus string
	sender     string
}

func NewController(client ports.MessagingClient, wallet ports.WalletProvider, opts Options) (*Controller, error) {
	if opts.Identity == nil && !opts.AllowEphemeralIdentity {
		return nil, model.ErrIdentityRequired
	}
	if opts.Identity == nil && opts.FabricateIdentity == nil {
		return nil, fmt.Errorf("%w: no identity factory for ephemeral identities", model.ErrIdentityRequired)
	}
	env := strings.TrimSpace(opts.NetworkEnvironment)
	if env == "" {
		env = DefaultNetworkEnvironment
	}
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = DefaultLabel
	}
	observer := opts.Observer
	if observer == nil {
		observer = NewLogObserver(opts.Logger)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	resolver := NewConsentResolver()
	return &Controller{
		identity:        opts.Identity,
		env:             env,
		onConsentChange: opts.OnConsentChange,
		onError:         opts.OnError,
		observer:        observer,
		now:             now,
		provisioner:     NewIdentityProvisioner(opts.FabricateIdentity),
		sessions:        NewSessionManager(client),
		wallet:          NewWalletConnector(wallet),
		resolver:        resolver,
		toggler:         NewConsentToggler(resolver),
		phase:           model.PhaseIdle,
		status:          label,
		idleStatus:      label,
	}, nil
}

// OnAction runs one full toggle. It reports false when another action was
// already in flight, in which case nothing was called and nothing is reported.
func (c *Controller) OnAction(ctx context.Context) bool {
	c.mu.Lock()
	if c.busy {
		phase := c.phase
		c.mu.Unlock()
		c.observer.ActionIgnored(phase)
		return false
	}
	c.busy = true
	c.phase = model.PhaseConnecting
	c.status = loadingStatus
	c.mu.Unlock()

	actionID := uuid.NewString()
	started := c.now()
	finalStatus := ""
	defer func() { c.finish(finalStatus) }()

	c.observer.ActionStarted(actionID)
	c.observer.PhaseEntered(actionID, model.PhaseConnecting)

	event, failedAt, err := c.run(ctx, actionID)
	elapsed := c.now().Sub(started)
	if err != nil {
		c.enter(actionID, model.PhaseErrorReported)
		c.observer.ActionFailed(actionID, failedAt, err, elapsed)
		if c.onError != nil {
			c.onError(err)
		}
		return true
	}

	c.observer.ActionSucceeded(actionID, event, elapsed)
	finalStatus = consentStatusPrefix + event.State.String()
	if c.onConsentChange != nil {
		c.onConsentChange(event.PeerAddress, event.State)
	}
	return true
}

func (c *Controller) run(ctx context.Context, actionID string) (model.Event, model.Phase, error) {
	sender := c.provisioner.Provision(c.identity)
	session, err := c.sessions.GetOrCreate(ctx, sender, c.env)
	if err != nil {
		return model.Event{}, model.PhaseConnecting, err
	}
	c.setSender(session.Address())

	peer, err := c.wallet.Connect(ctx)
	if err != nil {
		return model.Event{}, model.PhaseConnecting, err
	}

	c.enter(actionID, model.PhaseSessionReady)
	current, err := c.resolver.Resolve(ctx, session, peer)
	if err != nil {
		return model.Event{}, model.PhaseSessionReady, err
	}

	c.enter(actionID, model.PhaseResolving)
	if _, err := c.toggler.Issue(ctx, session, peer, current); err != nil {
		return model.Event{}, model.PhaseResolving, err
	}

	c.enter(actionID, model.PhaseToggling)
	confirmed, err := c.toggler.Confirm(ctx, session, peer)
	if err != nil {
		return model.Event{}, model.PhaseToggling, err
	}

	c.enter(actionID, model.PhaseConfirming)
	return model.Event{
		ActionID:      actionID,
		PeerAddress:   peer,
		State:         confirmed,
		SenderAddress: session.Address(),
		At:            c.now().UTC(),
	}, model.PhaseConfirming, nil
}

func (c *Controller) enter(actionID string, phase model.Phase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
	c.observer.PhaseEntered(actionID, phase)
}

func (c *Controller) setSender(address string) {
	c.mu.Lock()
	c.sender = address
	c.mu.Unlock()
}

func (c *Controller) finish(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if status != "" {
		c.idleStatus = status
	}
	c.status = c.idleStatus
	c.phase = model.PhaseIdle
	c.busy = false
}

func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Display() DisplayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return DisplayState{
		Busy:          c.busy,
		Status:        c.status,
		Phase:         c.phase,
		SenderAddress: c.sender,
	}
}

// Close releases the cached session. The controller must not be used afterwards.
func (c *Controller) Close() error {
	return c.sessions.Close()
}
