package security

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
)

// StaticVerifier is a fixed token table, used by the CLI wiring and in
// tests. Production deployments plug in their own Verifier.
type StaticVerifier struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

// NewStaticVerifier creates an empty verifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{identities: make(map[string]Identity)}
}

// Add registers a token for an identity.
func (v *StaticVerifier) Add(token string, id Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.identities[token] = id
}

// Verify resolves the token against the table.
func (v *StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.identities[token]
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, "unknown token")
	}
	return &id, nil
}
