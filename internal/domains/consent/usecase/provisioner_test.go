package usecase

import (
	"testing"

	"consent-button/go-backend/internal/domains/consent/ports"
)

func TestProvisionerReturnsSuppliedIdentity(t *testing.T) {
	p := NewIdentityProvisioner(func() ports.Identity {
		t.Fatal("fabricate must not run when an identity is supplied")
		return nil
	})
	supplied := fakeIdentity{address: senderAddr}
	if got := p.Provision(supplied); got != supplied {
		t.Fatalf("expected passthrough, got %#v", got)
	}
}

func TestProvisionerFabricatesOnce(t *testing.T) {
	calls := 0
	p := NewIdentityProvisioner(func() ports.Identity {
		calls++
		return fakeIdentity{address: senderAddr}
	})
	first := p.Provision(nil)
	second := p.Provision(nil)
	if first.Address() != second.Address() {
		t.Fatalf("expected the same address, got %s and %s", first.Address(), second.Address())
	}
	if calls != 1 {
		t.Fatalf("expected one fabrication, got %d", calls)
	}
}
