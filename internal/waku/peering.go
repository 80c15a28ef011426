package waku

import (
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// autoStorePeer lets go-waku pick any connected store peer.
const autoStorePeer = ""

// peerTarget is how many peers a node wants before it reports connected:
// MinPeers, at least one, never more than the bootstrap list can provide.
func peerTarget(cfg Config) int {
	target := cfg.MinPeers
	if n := len(cfg.BootstrapNodes); n > 0 && target > n {
		target = n
	}
	if target < 1 {
		target = 1
	}
	return target
}

func stateForPeers(peers int, cfg Config) string {
	if peers >= peerTarget(cfg) {
		return StateConnected
	}
	return StateDegraded
}

// handshakeTimeout bounds how long Start waits for the peer target.
func handshakeTimeout(cfg Config) time.Duration {
	timeout := 5 * cfg.ReconnectInterval
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	if cfg.ReconnectBackoffMax > 0 && timeout > cfg.ReconnectBackoffMax {
		timeout = cfg.ReconnectBackoffMax
	}
	return timeout
}

// storeTargets lists store peers to query in order. Up to fanout distinct
// bootstrap peers come first, then autoStorePeer. Without failover only the
// first target is tried.
func storeTargets(bootstrap []string, fanout int, failover bool) []string {
	if fanout < 1 {
		fanout = 1
	}
	out := make([]string, 0, min(len(bootstrap), fanout)+1)
	seen := make(map[string]struct{}, len(bootstrap))
	for _, addr := range bootstrap {
		if len(out) >= fanout {
			break
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	out = append(out, autoStorePeer)
	if !failover {
		out = out[:1]
	}
	return out
}

func encodeRecord(rec ConsentRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// decodeRecord parses a relay or store payload and keeps it only when it
// belongs to owner.
func decodeRecord(payload []byte, owner string) (ConsentRecord, bool) {
	var rec ConsentRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return ConsentRecord{}, false
	}
	if rec.ID == "" || rec.Owner != owner {
		return ConsentRecord{}, false
	}
	return rec, true
}

// collectHistory drains a paged store answer. next returns one page of raw
// payloads and whether it was the last one. Records are deduplicated by id
// and returned oldest first, trimmed to the newest limit when limit > 0.
func collectHistory(owner string, limit int, next func() (payloads [][]byte, last bool, err error)) ([]ConsentRecord, error) {
	byID := map[string]ConsentRecord{}
	for {
		payloads, last, err := next()
		if err != nil {
			return nil, err
		}
		for _, payload := range payloads {
			if rec, ok := decodeRecord(payload, owner); ok {
				byID[rec.ID] = rec
			}
		}
		if last {
			break
		}
	}
	out := make([]ConsentRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	return newestRecords(out, limit), nil
}

// newestRecords orders records oldest first, ties by id, and keeps the last
// limit of them. limit <= 0 keeps everything.
func newestRecords(records []ConsentRecord, limit int) []ConsentRecord {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].IssuedAt == records[j].IssuedAt {
			return records[i].ID < records[j].ID
		}
		return records[i].IssuedAt < records[j].IssuedAt
	})
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records
}

// redialSchedule spaces bootstrap redials with capped exponential backoff and
// up to 50% jitter.
type redialSchedule struct {
	base, max time.Duration
	backoff   time.Duration
	next      time.Time
	jitter    func(n int64) int64
}

func newRedialSchedule(cfg Config, seed int64) *redialSchedule {
	rnd := rand.New(rand.NewSource(seed))
	return &redialSchedule{
		base:    cfg.ReconnectInterval,
		max:     cfg.ReconnectBackoffMax,
		backoff: cfg.ReconnectInterval,
		jitter:  rnd.Int63n,
	}
}

func (r *redialSchedule) due(now time.Time) bool {
	return !now.Before(r.next)
}

// settle resets the backoff once the node has enough peers.
func (r *redialSchedule) settle(now time.Time) {
	r.backoff = r.base
	r.next = now
}

// failed pushes the next attempt out after a round that reached no peer.
func (r *redialSchedule) failed(now time.Time) {
	r.backoff *= 2
	if r.backoff > r.max {
		r.backoff = r.max
	}
	var jitter time.Duration
	if half := int64(r.backoff / 2); half > 0 {
		jitter = time.Duration(r.jitter(half))
	}
	r.next = now.Add(r.backoff + jitter)
}
