package messaging

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"consent-button/go-backend/internal/securestore"
)

const (
	consentStoreVersion = 1
	consentStoreLabel   = "consent-list/v1"
)

// ConsentListStore persists per-owner consent list snapshots as sealed files
// under dir. With no dir or secret it is a no-op and every session starts
// from the network.
type ConsentListStore struct {
	dir    string
	secret string
}

func NewConsentListStore(dir, secret string) *ConsentListStore {
	return &ConsentListStore{dir: strings.TrimSpace(dir), secret: strings.TrimSpace(secret)}
}

func (s *ConsentListStore) enabled() bool {
	return s != nil && securestore.Configured(s.dir, s.secret)
}

func (s *ConsentListStore) path(owner string) string {
	return filepath.Join(s.dir, strings.ToLower(owner)+".consent")
}

// Load returns the persisted entries for owner, or nil when none exist.
func (s *ConsentListStore) Load(owner string) ([]ConsentEntry, error) {
	if !s.enabled() {
		return nil, nil
	}
	var state persistedConsentList
	if err := securestore.ReadJSON(s.path(owner), s.secret, consentStoreLabel, &state); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if state.Version != consentStoreVersion || !strings.EqualFold(state.Owner, owner) {
		return nil, fmt.Errorf("consent list snapshot for %s is invalid", owner)
	}
	return state.Entries, nil
}

func (s *ConsentListStore) Persist(owner string, list *ConsentList) error {
	if !s.enabled() || list == nil {
		return nil
	}
	return securestore.WriteJSON(s.path(owner), s.secret, consentStoreLabel, persistedConsentList{
		Version: consentStoreVersion,
		Owner:   strings.ToLower(owner),
		Entries: list.Snapshot(),
	})
}

type persistedConsentList struct {
	Version int            `json:"version"`
	Owner   string         `json:"owner"`
	Entries []ConsentEntry `json:"entries"`
}
