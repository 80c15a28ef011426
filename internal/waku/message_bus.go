package waku

import (
	"sync"
	"time"
)

// messageBus is the in-process stand-in for relay plus store used by the mock
// transport. Every published record is retained per owner so later sessions
// can refresh from history.
type messageBus struct {
	mu          sync.Mutex
	nextSubID   uint64
	subscribers map[string]map[uint64]func(ConsentRecord)
	history     map[string][]ConsentRecord
}

var globalBus = newMessageBus()

func newMessageBus() *messageBus {
	return &messageBus{
		subscribers: make(map[string]map[uint64]func(ConsentRecord)),
		history:     make(map[string][]ConsentRecord),
	}
}

func (b *messageBus) publish(rec ConsentRecord) {
	b.mu.Lock()
	b.history[rec.Owner] = append(b.history[rec.Owner], rec)
	handlers := make([]func(ConsentRecord), 0, len(b.subscribers[rec.Owner]))
	for _, h := range b.subscribers[rec.Owner] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		go h(rec)
	}
}

func (b *messageBus) subscribe(owner string, handler func(ConsentRecord)) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	if b.subscribers[owner] == nil {
		b.subscribers[owner] = make(map[uint64]func(ConsentRecord))
	}
	b.subscribers[owner][id] = handler
	return id
}

func (b *messageBus) unsubscribe(owner string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[owner]
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subscribers, owner)
	}
}

func (b *messageBus) since(owner string, since time.Time, limit int) []ConsentRecord {
	b.mu.Lock()
	records := append([]ConsentRecord(nil), b.history[owner]...)
	b.mu.Unlock()

	cutoff := since.UnixNano()
	out := make([]ConsentRecord, 0, len(records))
	for _, rec := range records {
		if since.IsZero() || rec.IssuedAt >= cutoff {
			out = append(out, rec)
		}
	}
	return newestRecords(out, limit)
}
