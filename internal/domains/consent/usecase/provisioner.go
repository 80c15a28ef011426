package usecase

import (
	"sync"

	"consent-button/go-backend/internal/domains/consent/ports"
)

// IdentityProvisioner hands out the sender identity for a controller. A
// supplied identity always wins; otherwise one identity is fabricated on first
// use and reused for the provisioner's lifetime.
//
// Fabrication is assumed to succeed: the factory draws from crypto/rand, which
// does not fail on supported platforms.
type IdentityProvisioner struct {
	mu        sync.Mutex
	fabricate func() ports.Identity
	cached    ports.Identity
}

func NewIdentityProvisioner(fabricate func() ports.Identity) *IdentityProvisioner {
	return &IdentityProvisioner{fabricate: fabricate}
}

func (p *IdentityProvisioner) Provision(supplied ports.Identity) ports.Identity {
	if supplied != nil {
		return supplied
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		p.cached = p.fabricate()
	}
	return p.cached
}
