// Package secrets provides the credential source seeded into every run's
// binding environment. Credentials arrive already decrypted; how they are
// stored and unsealed is the concern of whatever implements Source.
package secrets

import (
	"context"
	"sync"
)

// Source yields the decrypted credentials for an owner, keyed by the
// connection name referenced in step inputs (e.g. {{credentials.crm.token}}).
type Source interface {
	Credentials(ctx context.Context, ownerID string) (map[string]any, error)
}

// Static is an in-memory Source with per-owner credential maps. Used in
// tests and single-tenant deployments where credentials come from config.
type Static struct {
	mu     sync.RWMutex
	byUser map[string]map[string]any
}

// NewStatic creates an empty Static source.
func NewStatic() *Static {
	return &Static{byUser: make(map[string]map[string]any)}
}

// Set replaces the credential map for an owner.
func (s *Static) Set(ownerID string, creds map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]any, len(creds))
	for k, v := range creds {
		cp[k] = v
	}
	s.byUser[ownerID] = cp
}

// Credentials returns the owner's credentials. Unknown owners get an empty
// map, not an error: a workflow without connections still runs.
func (s *Static) Credentials(_ context.Context, ownerID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.byUser[ownerID]
	if !ok {
		return map[string]any{}, nil
	}
	cp := make(map[string]any, len(creds))
	for k, v := range creds {
		cp[k] = v
	}
	return cp, nil
}

var _ Source = (*Static)(nil)
