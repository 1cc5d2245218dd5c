// Package gateway verifies payments with the external party behind each
// payment method. A method is a tag that selects a Verifier from a Registry.
package gateway

import (
	"context"
	"sort"

	"storefront/internal/models"
)

// Outcome is the verdict of one verification
type Outcome struct {
	Success       bool
	Gateway       string
	TransactionID string
	// RawResponse is persisted on the payment as the gateway returned it
	RawResponse string
	Reason      string
}

// Verifier checks a payment with one gateway. A returned error means the
// gateway could not be reached or answered garbage; callers treat it as a
// failed verification.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, payment models.Payment, gatewayContext map[string]string) (Outcome, error)
}

// Registry maps payment methods to verifiers
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

// Register binds a payment method to a verifier
func (r *Registry) Register(method string, v Verifier) {
	r.verifiers[method] = v
}

// Get returns the verifier for method
func (r *Registry) Get(method string) (Verifier, bool) {
	v, ok := r.verifiers[method]
	return v, ok
}

// Methods lists the registered payment methods
func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.verifiers))
	for m := range r.verifiers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
