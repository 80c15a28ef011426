package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/usecase"
)

var ErrControllerNotAttached = errors.New("consent controller is not attached")

const sinkAppendTimeout = 2 * time.Second

// ConsentController is the slice of usecase.Controller the service drives.
type ConsentController interface {
	OnAction(ctx context.Context) bool
	Display() usecase.DisplayState
	Close() error
}

// EventSink mirrors feed events to an external store.
type EventSink interface {
	Append(ctx context.Context, seq int64, method string, payload any, at time.Time) error
}

type ConsentChangedPayload struct {
	PeerAddress   string      `json:"peer_address"`
	State         model.State `json:"state"`
	SenderAddress string      `json:"sender_address,omitempty"`
	NewSubscriber bool        `json:"new_subscriber"`
}

type ConsentFailedPayload struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type ActionResult struct {
	Started bool                 `json:"started"`
	Display usecase.DisplayState `json:"display"`
	// Err is the failure reported by the controller for this action.
	Err error `json:"-"`
}

// ConsentService owns the daemon-side state around one controller: the
// subscriber list and the event feed. Its HandleConsentChange and HandleError
// methods are the controller callbacks.
type ConsentService struct {
	mu      sync.RWMutex
	ctrl    ConsentController
	lastErr error

	// actionMu is held for the whole of one action so its failure can be
	// handed back to the caller that started it.
	actionMu sync.Mutex

	subscribers *SubscriberList
	feed        *EventFeed
	sink        EventSink
	logger      *slog.Logger
	now         func() time.Time
}

func NewConsentService(feedLimit int, sink EventSink, logger *slog.Logger) *ConsentService {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ConsentService{
		subscribers: NewSubscriberList(),
		feed:        NewEventFeed(feedLimit),
		sink:        sink,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Attach binds the controller. It is separate from construction because the
// controller takes the service callbacks as options.
func (s *ConsentService) Attach(ctrl ConsentController) {
	s.mu.Lock()
	s.ctrl = ctrl
	s.mu.Unlock()
}

func (s *ConsentService) controller() (ConsentController, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctrl == nil {
		return nil, ErrControllerNotAttached
	}
	return s.ctrl, nil
}

// Action runs one controller action to completion. A call made while another
// action is in flight returns Started=false without touching the controller.
func (s *ConsentService) Action(ctx context.Context) (ActionResult, error) {
	ctrl, err := s.controller()
	if err != nil {
		return ActionResult{}, err
	}
	if !s.actionMu.TryLock() {
		s.logger.Debug("consent action dropped while busy", "component", "app", "operation", "consent.action")
		return ActionResult{Started: false, Display: ctrl.Display()}, nil
	}
	defer s.actionMu.Unlock()

	s.swapFailure(nil)
	started := ctrl.OnAction(ctx)
	res := ActionResult{Started: started, Display: ctrl.Display()}
	if started {
		res.Err = s.swapFailure(nil)
	}
	return res, nil
}

func (s *ConsentService) swapFailure(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lastErr
	s.lastErr = err
	return prev
}

func (s *ConsentService) Status() (usecase.DisplayState, error) {
	ctrl, err := s.controller()
	if err != nil {
		return usecase.DisplayState{}, err
	}
	return ctrl.Display(), nil
}

func (s *ConsentService) Subscribers() []Subscriber { return s.subscribers.List() }

func (s *ConsentService) Events(fromSeq int64) []FeedEvent { return s.feed.Since(fromSeq) }

func (s *ConsentService) SubscribeEvents(fromSeq int64) ([]FeedEvent, <-chan FeedEvent, func()) {
	return s.feed.Subscribe(fromSeq)
}

func (s *ConsentService) HandleConsentChange(peerAddress string, state model.State) {
	_, created := s.subscribers.Upsert(peerAddress, state, s.now())
	payload := ConsentChangedPayload{
		PeerAddress:   peerAddress,
		State:         state,
		NewSubscriber: created,
	}
	if ctrl, err := s.controller(); err == nil {
		payload.SenderAddress = ctrl.Display().SenderAddress
	}
	s.publish(MethodConsentChanged, payload)
}

func (s *ConsentService) HandleError(err error) {
	if err == nil {
		return
	}
	s.swapFailure(err)
	s.publish(MethodConsentFailed, ConsentFailedPayload{Kind: model.Kind(err), Error: err.Error()})
}

func (s *ConsentService) publish(method string, payload any) {
	event := s.feed.Publish(method, payload)
	if s.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkAppendTimeout)
	defer cancel()
	if err := s.sink.Append(ctx, event.Seq, event.Method, event.Payload, event.Timestamp); err != nil {
		s.logger.Warn("event sink append failed",
			"component", "app",
			"operation", "event.sink",
			"seq", event.Seq,
			"method", event.Method,
			"error", err.Error(),
		)
	}
}

func (s *ConsentService) Close() error {
	ctrl, err := s.controller()
	if err != nil {
		return nil
	}
	return ctrl.Close()
}
