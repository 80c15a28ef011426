package policy

import "consent-button/go-backend/internal/domains/consent/model"

// Operation is the consent call issued against the network for one toggle.
type Operation string

const (
	OperationAllow Operation = "allow"
	OperationBlock Operation = "block"
)

// NextOperation applies the toggle rule: unknown and blocked peers get allowed,
// allowed peers get blocked. The returned state is the expected target only;
// callers confirm it with a fresh resolve.
func NextOperation(current model.State) (Operation, model.State) {
	if current == model.StateAllowed {
		return OperationBlock, model.StateBlocked
	}
	return OperationAllow, model.StateAllowed
}

func Target(current model.State) model.State {
	_, target := NextOperation(current)
	return target
}
