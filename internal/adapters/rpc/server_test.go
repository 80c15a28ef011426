package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"consent-button/go-backend/internal/app"
	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/usecase"
)

type fakeService struct {
	actionErr   error
	failure     error
	actionCtx   context.Context
	subscribers []app.Subscriber
	feed        *app.EventFeed
}

func newFakeService() *fakeService {
	return &fakeService{feed: app.NewEventFeed(16)}
}

func (f *fakeService) Action(ctx context.Context) (app.ActionResult, error) {
	f.actionCtx = ctx
	if f.actionErr != nil {
		return app.ActionResult{}, f.actionErr
	}
	return app.ActionResult{
		Started: true,
		Display: usecase.DisplayState{Status: "Consent State: allowed", Phase: model.PhaseIdle},
		Err:     f.failure,
	}, nil
}

func (f *fakeService) Status() (usecase.DisplayState, error) {
	return usecase.DisplayState{Status: usecase.DefaultLabel, Phase: model.PhaseIdle}, nil
}

func (f *fakeService) Subscribers() []app.Subscriber { return f.subscribers }

func (f *fakeService) Events(fromSeq int64) []app.FeedEvent { return f.feed.Since(fromSeq) }

func (f *fakeService) SubscribeEvents(fromSeq int64) ([]app.FeedEvent, <-chan app.FeedEvent, func()) {
	return f.feed.Subscribe(fromSeq)
}

type decodedResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func newTestServer(svc ConsentService, opts Options) *Server {
	opts.Logger = app.NewLogger(io.Discard, "error")
	return NewServer(svc, opts)
}

func callRPC(t *testing.T, h http.Handler, body, token string) (*httptest.ResponseRecorder, decodedResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp decodedResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(newFakeService(), Options{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected healthz: %d %s", rec.Code, rec.Body.String())
	}

	_, resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"health_check"}`, "")
	if resp.Error != nil || string(resp.Result) != `{"status":"ok"}` {
		t.Fatalf("unexpected health_check: %#v %s", resp.Error, resp.Result)
	}
}

func TestRPCRequiresBearerToken(t *testing.T) {
	h := newTestServer(newFakeService(), Options{Token: "secret"}).Handler()

	rec, _ := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"consent.status"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec, _ = callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"consent.status"}`, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	rec, _ = callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"consent.status"}`, "secreT")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with same-length wrong token, got %d", rec.Code)
	}
	_, resp := callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"consent.status"}`, "secret")
	if resp.Error != nil {
		t.Fatalf("unexpected error with valid token: %#v", resp.Error)
	}
}

func TestTokenMatches(t *testing.T) {
	cases := []struct {
		got  string
		want bool
	}{
		{"secret", true},
		{"secreT", false},
		{"secre", false},
		{"secrets", false},
		{"", false},
	}
	for _, tc := range cases {
		if ok := tokenMatches(tc.got, "secret"); ok != tc.want {
			t.Fatalf("tokenMatches(%q) = %v, want %v", tc.got, ok, tc.want)
		}
	}
}

func TestRPCDispatch(t *testing.T) {
	svc := newFakeService()
	svc.subscribers = []app.Subscriber{{Address: "0xabc", State: model.StateAllowed}}
	svc.feed.Publish(app.MethodConsentChanged, "first")
	svc.feed.Publish(app.MethodConsentChanged, "second")
	h := newTestServer(svc, Options{}).Handler()

	_, resp := callRPC(t, h, `{"jsonrpc":"2.0","id":"a","method":"consent.action"}`, "")
	if resp.Error != nil {
		t.Fatalf("action failed: %#v", resp.Error)
	}
	var action app.ActionResult
	if err := json.Unmarshal(resp.Result, &action); err != nil || !action.Started || action.Display.Status != "Consent State: allowed" {
		t.Fatalf("unexpected action result: %s", resp.Result)
	}
	if string(resp.ID) != `"a"` {
		t.Fatalf("id must be echoed, got %s", resp.ID)
	}

	_, resp = callRPC(t, h, `{"jsonrpc":"2.0","id":2,"method":"consent.status"}`, "")
	var display usecase.DisplayState
	if err := json.Unmarshal(resp.Result, &display); err != nil || display.Status != usecase.DefaultLabel {
		t.Fatalf("unexpected status: %s", resp.Result)
	}

	_, resp = callRPC(t, h, `{"jsonrpc":"2.0","id":3,"method":"consent.subscribers"}`, "")
	if !strings.Contains(string(resp.Result), `"0xabc"`) {
		t.Fatalf("unexpected subscribers: %s", resp.Result)
	}

	_, resp = callRPC(t, h, `{"jsonrpc":"2.0","id":4,"method":"consent.events","params":{"from_seq":1}}`, "")
	var events struct {
		Events []app.FeedEvent `json:"events"`
	}
	if err := json.Unmarshal(resp.Result, &events); err != nil || len(events.Events) != 1 || events.Events[0].Seq != 2 {
		t.Fatalf("unexpected events: %s", resp.Result)
	}

	_, resp = callRPC(t, h, `{"jsonrpc":"2.0","id":5,"method":"consent.events","params":[-1]}`, "")
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %#v", resp.Error)
	}

	_, resp = callRPC(t, h, `{"jsonrpc":"2.0","id":6,"method":"consent.nope"}`, "")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %#v", resp.Error)
	}
}

func TestConsentActionDetachesFromRequestContext(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(svc, Options{}).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"consent.action"}`)).WithContext(ctx)
	cancel()
	h.ServeHTTP(httptest.NewRecorder(), req)

	if svc.actionCtx == nil || svc.actionCtx.Err() != nil {
		t.Fatal("action must not inherit request cancellation")
	}
}

func TestConsentActionFailureMapsKindToCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: none", model.ErrWalletUnavailable), codeWalletUnavailable},
		{fmt.Errorf("%w: 4001", model.ErrUserRejected), codeUserRejected},
		{fmt.Errorf("%w: dial", model.ErrSessionCreation), codeSessionCreation},
		{fmt.Errorf("%w: publish", model.ErrConsentOperation), codeConsentOperation},
		{fmt.Errorf("boom"), codeActionFailed},
	}
	for _, tc := range cases {
		svc := newFakeService()
		svc.failure = tc.err
		_, resp := callRPC(t, newTestServer(svc, Options{}).Handler(), `{"jsonrpc":"2.0","id":1,"method":"consent.action"}`, "")
		if resp.Error == nil || resp.Error.Code != tc.code {
			t.Fatalf("%v: expected code %d, got %#v", tc.err, tc.code, resp.Error)
		}
		if !bytes.Contains(resp.Error.Data, []byte(`"display"`)) {
			t.Fatalf("error data must carry the display state: %s", resp.Error.Data)
		}
	}

	svc := newFakeService()
	svc.actionErr = app.ErrControllerNotAttached
	_, resp := callRPC(t, newTestServer(svc, Options{}).Handler(), `{"jsonrpc":"2.0","id":1,"method":"consent.action"}`, "")
	if resp.Error == nil || resp.Error.Code != codeNotInitialized {
		t.Fatalf("expected not initialized, got %#v", resp.Error)
	}
}

func TestRPCRejectsMalformedRequests(t *testing.T) {
	h := newTestServer(newFakeService(), Options{}).Handler()

	_, resp := callRPC(t, h, `{not json`, "")
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %#v", resp.Error)
	}
	_, resp = callRPC(t, h, `{"jsonrpc":"1.0","id":1,"method":"health_check"}`, "")
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %#v", resp.Error)
	}
	_, resp = callRPC(t, h, `{"jsonrpc":"2.0","id":1,"method":"health_check"}{}`, "")
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("trailing data must be rejected, got %#v", resp.Error)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	big := `{"jsonrpc":"2.0","id":1,"method":"` + strings.Repeat("x", int(maxRPCBodyBytes)) + `"}`
	rec, _ = callRPC(t, h, big, "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestRPCRateLimitPerClient(t *testing.T) {
	s := newTestServer(newFakeService(), Options{RateLimitRPS: 1, RateBurst: 2})
	frozen := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return frozen }
	h := s.Handler()

	body := `{"jsonrpc":"2.0","id":1,"method":"health_check"}`
	for i := 0; i < 2; i++ {
		if rec, _ := callRPC(t, h, body, ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d should pass, got %d", i, rec.Code)
		}
	}
	rec, _ := callRPC(t, h, body, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}
	if rec, _ := callRPC(t, h, body, "other-client"); rec.Code != http.StatusOK {
		t.Fatalf("other clients have their own bucket, got %d", rec.Code)
	}
}

func TestMetricsEndpointIsOptional(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "consent_actions_total 1\n")
	})
	rec := httptest.NewRecorder()
	newTestServer(newFakeService(), Options{Metrics: metrics}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "consent_actions_total") {
		t.Fatalf("metrics not served: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	newTestServer(newFakeService(), Options{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler, got %d", rec.Code)
	}
}

func TestEventStreamReplaysAndFollows(t *testing.T) {
	svc := newFakeService()
	svc.feed.Publish(app.MethodConsentChanged, "old")
	svc.feed.Publish(app.MethodConsentChanged, "replayed")
	ts := httptest.NewServer(newTestServer(svc, Options{}).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/rpc/stream?cursor=1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line := readDataLine(t, reader); !strings.Contains(line, `"replayed"`) {
		t.Fatalf("expected replayed event, got %s", line)
	}
	svc.feed.Publish(app.MethodConsentFailed, "live")
	if line := readDataLine(t, reader); !strings.Contains(line, `"live"`) || !strings.Contains(line, app.MethodConsentFailed) {
		t.Fatalf("expected live event, got %s", line)
	}
}

func TestEventStreamRejectsBadCursorAndLimitsClients(t *testing.T) {
	s := newTestServer(newFakeService(), Options{MaxStreams: 1, MaxStreamsPerClient: 1})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc/stream?cursor=-4", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative cursor, got %d", rec.Code)
	}

	release, ok := s.streams.acquire("ip:192.0.2.1")
	if !ok {
		t.Fatal("first stream must be admitted")
	}
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc/stream", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 when global limit reached, got %d", rec.Code)
	}
	release()
	if _, ok := s.streams.acquire("ip:192.0.2.1"); !ok {
		t.Fatal("released slot must be reusable")
	}
}

func readDataLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			return line
		}
	}
}
