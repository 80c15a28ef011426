package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"consent-button/go-backend/internal/app"
)

var streamHeartbeatInterval = 20 * time.Second

// handleRPCStream serves the event feed as server-sent events, replaying
// history after ?cursor=<seq> first.
func (s *Server) handleRPCStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	release, allowed := s.streams.acquire(clientKey(r, extractToken(r)))
	if !allowed {
		http.Error(w, "too many stream subscriptions", http.StatusTooManyRequests)
		return
	}
	defer release()
	if s.service == nil {
		http.Error(w, "service is not initialized", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming is not supported", http.StatusInternalServerError)
		return
	}

	cursor := int64(0)
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = v
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	replay, ch, cancel := s.service.SubscribeEvents(cursor)
	defer cancel()

	for _, evt := range replay {
		if err := writeSSEEvent(w, evt); err != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt app.FeedEvent) error {
	data, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  evt.Method,
		"params": map[string]any{
			"seq":       evt.Seq,
			"timestamp": evt.Timestamp,
			"payload":   evt.Payload,
		},
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", evt.Seq, data)
	return err
}

type streamLimiter struct {
	maxGlobal    int
	maxPerClient int

	mu       sync.Mutex
	global   int
	byClient map[string]int
}

func newStreamLimiter(maxGlobal, maxPerClient int) *streamLimiter {
	if maxGlobal <= 0 {
		maxGlobal = 64
	}
	if maxPerClient <= 0 {
		maxPerClient = 4
	}
	return &streamLimiter{
		maxGlobal:    maxGlobal,
		maxPerClient: maxPerClient,
		byClient:     make(map[string]int),
	}
}

func (l *streamLimiter) acquire(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.global >= l.maxGlobal || l.byClient[key] >= l.maxPerClient {
		return nil, false
	}
	l.global++
	l.byClient[key]++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.global > 0 {
			l.global--
		}
		next := l.byClient[key] - 1
		if next <= 0 {
			delete(l.byClient, key)
			return
		}
		l.byClient[key] = next
	}, true
}
