package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserverCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	if err != nil {
		t.Fatalf("new observer: %v", err)
	}

	o.ActionStarted("a1")
	o.PhaseEntered("a1", model.PhaseConnecting)
	o.ActionSucceeded("a1", model.Event{State: model.StateAllowed}, 120*time.Millisecond)

	o.ActionStarted("a2")
	o.ActionFailed("a2", model.PhaseConnecting, fmt.Errorf("%w: dial", model.ErrWalletUnavailable), time.Second)
	o.ActionIgnored(model.PhaseResolving)

	if got := testutil.ToFloat64(o.actions.WithLabelValues("success", "", "allowed")); got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
	if got := testutil.ToFloat64(o.actions.WithLabelValues("failure", model.KindWalletUnavailable, "")); got != 1 {
		t.Fatalf("expected one wallet failure, got %v", got)
	}
	if got := testutil.ToFloat64(o.ignored); got != 1 {
		t.Fatalf("expected one ignored action, got %v", got)
	}
	if got := testutil.ToFloat64(o.inflight); got != 0 {
		t.Fatalf("in-flight gauge must return to zero, got %v", got)
	}
	if got := testutil.ToFloat64(o.phases.WithLabelValues("connecting")); got != 1 {
		t.Fatalf("expected one connecting phase entry, got %v", got)
	}
}

func TestObserverRegistrationConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewObserver(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	_, err := NewObserver(reg)
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyRegisteredError, got %v", err)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	if err != nil {
		t.Fatalf("new observer: %v", err)
	}
	o.ActionIgnored(model.PhaseIdle)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "consent_actions_ignored_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
