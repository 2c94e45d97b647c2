// Package pluginregistry implements PluginRegistry: dispatch from a
// presentation's declared type to the Verifier that knows how to check
// it. VerificationCore owns one Registry and registers its built-in
// verifiers (zkp-groth16-v1, and optionally the legacy age-boolean-v1
// fallback) at construction.
package pluginregistry

import (
	"context"
	"sync"

	"github.com/tracepost-larvae/agecred/models"
)

// Verifier performs the presentation-type-specific checks (spec.md
// §4.8 steps 5-8, or the boolean fallback's single check) against an
// already envelope-validated, policy-resolved, VC-parsed request.
type Verifier interface {
	Verify(ctx context.Context, req models.VerificationRequest, policy models.PolicyDefinition, vc models.VCClaims) (issuer string, reasonCodes []string, err error)
}

// Registry dispatches PresentationType -> Verifier.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[models.PresentationType]Verifier
}

func New() *Registry {
	return &Registry{verifiers: map[models.PresentationType]Verifier{}}
}

func (r *Registry) Register(t models.PresentationType, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[t] = v
}

func (r *Registry) Get(t models.PresentationType) (Verifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[t]
	return v, ok
}
