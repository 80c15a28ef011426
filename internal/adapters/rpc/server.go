package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"consent-button/go-backend/internal/app"
	"consent-button/go-backend/internal/domains/consent/usecase"
	"consent-button/go-backend/internal/platform/ratelimiter"
)

const DefaultRPCAddr = "127.0.0.1:8787"

// ConsentService is what the daemon exposes over JSON-RPC.
type ConsentService interface {
	Action(ctx context.Context) (app.ActionResult, error)
	Status() (usecase.DisplayState, error)
	Subscribers() []app.Subscriber
	Events(fromSeq int64) []app.FeedEvent
	SubscribeEvents(fromSeq int64) ([]app.FeedEvent, <-chan app.FeedEvent, func())
}

type Options struct {
	Addr string
	// Token enables bearer auth on /rpc and /rpc/stream when non-empty.
	Token        string
	RateLimitRPS float64
	RateBurst    int
	// Metrics is served on /metrics when set.
	Metrics             http.Handler
	MaxStreams          int
	MaxStreamsPerClient int
	Logger              *slog.Logger
}

type Server struct {
	httpServer *http.Server
	service    ConsentService
	token      string
	limiter    *ratelimiter.MapLimiter
	streams    *streamLimiter
	logger     *slog.Logger
	now        func() time.Time
}

func NewServer(svc ConsentService, opts Options) *Server {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = DefaultRPCAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = app.DefaultLogger()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service: svc,
		token:   strings.TrimSpace(opts.Token),
		limiter: ratelimiter.New(opts.RateLimitRPS, opts.RateBurst, 10*time.Minute),
		streams: newStreamLimiter(opts.MaxStreams, opts.MaxStreamsPerClient),
		logger:  logger,
		now:     time.Now,
	}
	if s.token == "" {
		logger.Warn("rpc token is not set; rpc auth disabled", "component", "rpc", "operation", "server.init")
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/rpc/stream", s.handleRPCStream)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	return s
}

func (s *Server) Addr() string { return s.httpServer.Addr }

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.logger.Info("rpc server listening", "component", "rpc", "operation", "server.run", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if !tokenMatches(extractToken(r), s.token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// tokenMatches compares in constant time for equal-length inputs.
func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// admit applies the per-client rate limit and writes 429 when exhausted.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	ok, wait := s.limiter.Take(clientKey(r, extractToken(r)), s.now())
	if ok {
		return true
	}
	seconds := int(wait.Seconds())
	if wait > 0 && seconds == 0 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	return false
}
