// Package eventsink mirrors the daemon's consent event feed into external
// stores so other services can follow confirmed transitions.
package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

var ErrAddrRequired = errors.New("redis address is required")

// Config for the Redis stream sink. ENV: CONSENT_REDIS_ADDR, CONSENT_REDIS_STREAM.
type Config struct {
	Addr   string `env:"CONSENT_REDIS_ADDR"`
	Stream string `env:"CONSENT_REDIS_STREAM,default=consent:events"`
	// MaxLen caps the stream approximately; zero keeps everything.
	MaxLen int64 `env:"CONSENT_REDIS_STREAM_MAXLEN,default=10000"`
}

// Entry is one event read back from the stream.
type Entry struct {
	StreamID string          `json:"stream_id"`
	Seq      int64           `json:"seq"`
	Method   string          `json:"method"`
	Payload  json.RawMessage `json:"payload"`
	At       time.Time       `json:"at"`
}

// Redis appends events to a Redis stream with XADD.
type Redis struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, ErrAddrRequired
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "consent:events"
	}
	return &Redis{client: cl, stream: stream, maxLen: cfg.MaxLen}, nil
}

// NewRedisFromEnv builds a sink from CONSENT_REDIS_* variables.
func NewRedisFromEnv(ctx context.Context) (*Redis, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return NewRedis(ctx, cfg)
}

func (r *Redis) Stream() string { return r.stream }

func (r *Redis) Close() error { return r.client.Close() }

// Append writes one event. The payload is stored as JSON.
func (r *Redis) Append(ctx context.Context, seq int64, method string, payload any, at time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"seq":     seq,
			"method":  method,
			"payload": data,
			"at":      at.UTC().Format(time.RFC3339Nano),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd %s: %w", r.stream, err)
	}
	return nil
}

// Recent returns up to count newest entries, oldest first.
func (r *Redis) Recent(ctx context.Context, count int64) ([]Entry, error) {
	if count <= 0 {
		count = 50
	}
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Entry, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, decodeEntry(msgs[i]))
	}
	return out, nil
}

func decodeEntry(m redis.XMessage) Entry {
	e := Entry{StreamID: m.ID}
	e.Method = stringValue(m.Values["method"])
	e.Seq, _ = strconv.ParseInt(stringValue(m.Values["seq"]), 10, 64)
	e.At, _ = time.Parse(time.RFC3339Nano, stringValue(m.Values["at"]))
	if raw := stringValue(m.Values["payload"]); raw != "" && json.Valid([]byte(raw)) {
		e.Payload = json.RawMessage(raw)
	}
	return e
}

// go-redis hands values back as strings, but accept bytes too.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
