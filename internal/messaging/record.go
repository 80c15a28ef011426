package messaging

import (
	"errors"
	"strconv"
	"strings"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/identity"
	"consent-button/go-backend/internal/waku"
)

const recordDomain = "consent-button/consent-record/v1"

var ErrForgedRecord = errors.New("consent record signature does not match owner")

// recordPayload is the exact byte string an owner signs for a record.
func recordPayload(rec waku.ConsentRecord) []byte {
	var b strings.Builder
	b.WriteString(recordDomain)
	for _, field := range []string{rec.ID, strings.ToLower(rec.Owner), strings.ToLower(rec.Peer), rec.State, strconv.FormatInt(rec.IssuedAt, 10)} {
		b.WriteByte('\n')
		b.WriteString(field)
	}
	return []byte(b.String())
}

// verifyRecord checks that rec belongs to owner, carries a known state and
// is signed by owner.
func verifyRecord(owner string, rec waku.ConsentRecord) (ConsentEntry, error) {
	if !strings.EqualFold(rec.Owner, owner) {
		return ConsentEntry{}, ErrForgedRecord
	}
	state, err := model.ParseState(rec.State)
	if err != nil || state == model.StateUnknown {
		return ConsentEntry{}, model.ErrInvalidState
	}
	if !identity.VerifyAddress(owner, recordPayload(rec), rec.Signature) {
		return ConsentEntry{}, ErrForgedRecord
	}
	return ConsentEntry{
		Peer:     strings.ToLower(rec.Peer),
		State:    state,
		IssuedAt: rec.IssuedAt,
		RecordID: rec.ID,
	}, nil
}
