package app

import (
	"strings"
	"sync"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
)

// Subscriber is the caller-side record of a peer whose consent was toggled.
type Subscriber struct {
	Address   string      `json:"address"`
	State     model.State `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SubscriberList is keyed by lowercase address and keeps first-sighting order.
type SubscriberList struct {
	mu     sync.RWMutex
	order  []string
	byAddr map[string]Subscriber
}

func NewSubscriberList() *SubscriberList {
	return &SubscriberList{byAddr: make(map[string]Subscriber)}
}

// Upsert appends address on first sighting and updates its state after that.
// It reports whether the address was new. Blank addresses are ignored.
func (l *SubscriberList) Upsert(address string, state model.State, at time.Time) (Subscriber, bool) {
	key := strings.ToLower(strings.TrimSpace(address))
	if key == "" {
		return Subscriber{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, seen := l.byAddr[key]
	if !seen {
		l.order = append(l.order, key)
	}
	sub := Subscriber{Address: key, State: state, UpdatedAt: at}
	l.byAddr[key] = sub
	return sub, !seen
}

func (l *SubscriberList) Get(address string) (Subscriber, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sub, ok := l.byAddr[strings.ToLower(strings.TrimSpace(address))]
	return sub, ok
}

func (l *SubscriberList) List() []Subscriber {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Subscriber, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.byAddr[key])
	}
	return out
}

func (l *SubscriberList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}
