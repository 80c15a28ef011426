package messaging

import (
	"sort"
	"strings"
	"sync"

	"consent-button/go-backend/internal/domains/consent/model"
)

// ConsentEntry is the winning decision for one peer.
type ConsentEntry struct {
	Peer     string      `json:"peer"`
	State    model.State `json:"state"`
	IssuedAt int64       `json:"issued_at"`
	RecordID string      `json:"record_id"`
}

// ConsentList is the local view of an owner's consent registry. Conflicting
// records for a peer resolve last-writer-wins on IssuedAt, ties broken by the
// larger record ID so every replica converges on the same entry.
type ConsentList struct {
	mu      sync.RWMutex
	entries map[string]ConsentEntry
}

func NewConsentList(entries []ConsentEntry) *ConsentList {
	l := &ConsentList{entries: make(map[string]ConsentEntry, len(entries))}
	for _, e := range entries {
		l.Apply(e)
	}
	return l
}

// Apply merges e and reports whether it became the current entry.
func (l *ConsentList) Apply(e ConsentEntry) bool {
	e.Peer = strings.ToLower(strings.TrimSpace(e.Peer))
	if e.Peer == "" || (e.State != model.StateAllowed && e.State != model.StateBlocked) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.entries[e.Peer]
	if ok && !newer(e, cur) {
		return false
	}
	l.entries[e.Peer] = e
	return true
}

func newer(candidate, current ConsentEntry) bool {
	if candidate.IssuedAt != current.IssuedAt {
		return candidate.IssuedAt > current.IssuedAt
	}
	return candidate.RecordID > current.RecordID
}

func (l *ConsentList) State(peer string) model.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[strings.ToLower(strings.TrimSpace(peer))]
	if !ok {
		return model.StateUnknown
	}
	return e.State
}

// Latest returns the highest IssuedAt seen, used as the refresh watermark.
func (l *ConsentList) Latest() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var latest int64
	for _, e := range l.entries {
		if e.IssuedAt > latest {
			latest = e.IssuedAt
		}
	}
	return latest
}

// Snapshot returns the entries sorted by peer.
func (l *ConsentList) Snapshot() []ConsentEntry {
	l.mu.RLock()
	out := make([]ConsentEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

func (l *ConsentList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
