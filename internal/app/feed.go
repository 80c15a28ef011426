package app

import (
	"sync"
	"time"
)

const (
	MethodConsentChanged = "consent.changed"
	MethodConsentFailed  = "consent.failed"
)

// FeedEvent is one entry of the daemon's event feed. Seq is strictly
// increasing for the lifetime of the feed.
type FeedEvent struct {
	Seq       int64     `json:"seq"`
	Method    string    `json:"method"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFeed keeps a bounded history and fans new events out to live
// subscribers. A subscriber that falls behind is dropped.
type EventFeed struct {
	mu      sync.Mutex
	now     func() time.Time
	nextSeq int64
	limit   int
	history []FeedEvent
	subs    map[int]chan FeedEvent
	nextSub int
}

func NewEventFeed(limit int) *EventFeed {
	if limit < 1 {
		limit = 1
	}
	return &EventFeed{
		now:   func() time.Time { return time.Now().UTC() },
		limit: limit,
		subs:  make(map[int]chan FeedEvent),
	}
}

func (f *EventFeed) Publish(method string, payload any) FeedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSeq++
	event := FeedEvent{
		Seq:       f.nextSeq,
		Method:    method,
		Payload:   payload,
		Timestamp: f.now(),
	}
	f.history = append(f.history, event)
	if len(f.history) > f.limit {
		f.history = append([]FeedEvent(nil), f.history[len(f.history)-f.limit:]...)
	}

	for id, ch := range f.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(f.subs, id)
		}
	}
	return event
}

// Since returns retained events with Seq greater than fromSeq.
func (f *EventFeed) Since(fromSeq int64) []FeedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinceLocked(fromSeq)
}

func (f *EventFeed) Subscribe(fromSeq int64) ([]FeedEvent, <-chan FeedEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	replay := f.sinceLocked(fromSeq)
	id := f.nextSub
	f.nextSub++
	ch := make(chan FeedEvent, 64)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			close(sub)
			delete(f.subs, id)
		}
	}
	return replay, ch, cancel
}

func (f *EventFeed) LastSeq() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextSeq
}

func (f *EventFeed) sinceLocked(fromSeq int64) []FeedEvent {
	out := make([]FeedEvent, 0)
	for _, event := range f.history {
		if event.Seq > fromSeq {
			out = append(out, event)
		}
	}
	return out
}
