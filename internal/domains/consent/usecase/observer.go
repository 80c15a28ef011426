package usecase

import (
	"log/slog"
	"strings"
	"time"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"
)

const consentComponentName = "consent"

// LogObserver writes controller notifications as structured log records.
// Address attributes are expected to be fingerprinted by the handler.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) ActionStarted(actionID string) {
	o.logInfo("action", actionID, "consent action started")
}

func (o *LogObserver) ActionIgnored(phase model.Phase) {
	o.logInfo("action", "n/a", "consent action ignored while busy", "phase", string(phase))
}

func (o *LogObserver) PhaseEntered(actionID string, phase model.Phase) {
	o.logger.Debug("consent phase entered",
		"component", consentComponentName,
		"operation", "action",
		"correlation_id", strings.TrimSpace(actionID),
		"phase", string(phase),
	)
}

func (o *LogObserver) ActionSucceeded(actionID string, event model.Event, elapsed time.Duration) {
	message := "consent changed"
	switch event.State {
	case model.StateAllowed:
		message = "peer subscribed to sender wallet"
	case model.StateBlocked:
		message = "peer unsubscribed from sender wallet"
	}
	o.logInfo("action", actionID, message,
		"peer_address", event.PeerAddress,
		"sender_address", event.SenderAddress,
		"state", event.State.String(),
		"latency_ms", elapsed.Milliseconds(),
	)
}

func (o *LogObserver) ActionFailed(actionID string, phase model.Phase, err error, elapsed time.Duration) {
	if err == nil {
		return
	}
	o.logger.Error("consent action failed",
		"component", consentComponentName,
		"operation", "action",
		"correlation_id", strings.TrimSpace(actionID),
		"phase", string(phase),
		"kind", model.Kind(err),
		"error", err.Error(),
		"latency_ms", elapsed.Milliseconds(),
	)
}

func (o *LogObserver) logInfo(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", consentComponentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", strings.TrimSpace(correlationID),
	}
	o.logger.Info(message, append(base, attrs...)...)
}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []ports.Observer

func (m MultiObserver) ActionStarted(actionID string) {
	for _, o := range m {
		o.ActionStarted(actionID)
	}
}

func (m MultiObserver) ActionIgnored(phase model.Phase) {
	for _, o := range m {
		o.ActionIgnored(phase)
	}
}

func (m MultiObserver) PhaseEntered(actionID string, phase model.Phase) {
	for _, o := range m {
		o.PhaseEntered(actionID, phase)
	}
}

func (m MultiObserver) ActionSucceeded(actionID string, event model.Event, elapsed time.Duration) {
	for _, o := range m {
		o.ActionSucceeded(actionID, event, elapsed)
	}
}

func (m MultiObserver) ActionFailed(actionID string, phase model.Phase, err error, elapsed time.Duration) {
	for _, o := range m {
		o.ActionFailed(actionID, phase, err, elapsed)
	}
}
