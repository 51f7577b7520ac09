// Package gateway holds the contracts for external payment collaborators:
// the fiat card/bank gateway and the stablecoin chain verifier. Only the
// contracts live here; static stubs back tests and DB-less development.
package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/sharevest/sharevest/internal/apperr"
)

// maxReferenceLength is the gateway's documented reference bound.
const maxReferenceLength = 64

// InitializeInput starts a hosted payment. Amounts are in the smallest
// currency unit.
type InitializeInput struct {
	Email       string
	MinorUnits  int64
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

// InitializeResult is the redirection handle returned to the buyer.
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// VerifyStatus is the gateway's view of a payment.
type VerifyStatus string

const (
	VerifySuccess VerifyStatus = "success"
	VerifyFailed  VerifyStatus = "failed"
	VerifyPending VerifyStatus = "pending"
)

// VerifyResult is the gateway's answer to a verification query.
type VerifyResult struct {
	Status     VerifyStatus
	MinorUnits int64
	Currency   string
	PaidAt     string
	Metadata   map[string]string
}

// Gateway is the fiat payment processor contract. References are opaque
// strings of at most 64 characters.
type Gateway interface {
	Initialize(ctx context.Context, input InitializeInput) (InitializeResult, error)
	Verify(ctx context.Context, reference string) (VerifyResult, error)
}

// NewReference allocates a gateway-safe opaque reference.
func NewReference() string {
	ref := uuid.NewString()
	if len(ref) > maxReferenceLength {
		ref = ref[:maxReferenceLength]
	}
	return ref
}

// StaticGateway simulates a gateway that records initialized payments and
// reports them with a configurable outcome. Used by tests and dev mode.
type StaticGateway struct {
	mu       sync.Mutex
	payments map[string]VerifyResult
	// Outcome applied to initialized payments; defaults to success.
	Outcome VerifyStatus
}

// NewStaticGateway builds a stub gateway approving everything.
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{payments: make(map[string]VerifyResult), Outcome: VerifySuccess}
}

// Initialize records the payment and returns a synthetic redirection handle.
func (g *StaticGateway) Initialize(_ context.Context, input InitializeInput) (InitializeResult, error) {
	if input.Reference == "" || len(input.Reference) > maxReferenceLength {
		return InitializeResult{}, apperr.Validation("gateway reference must be 1-%d characters", maxReferenceLength)
	}
	if input.MinorUnits <= 0 {
		return InitializeResult{}, apperr.Validation("gateway amount must be positive")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[input.Reference] = VerifyResult{
		Status:     g.Outcome,
		MinorUnits: input.MinorUnits,
		Metadata:   input.Metadata,
	}
	return InitializeResult{
		AuthorizationURL: "https://pay.example.test/" + input.Reference,
		AccessCode:       uuid.NewString(),
		Reference:        input.Reference,
	}, nil
}

// Verify reports the recorded outcome for a reference.
func (g *StaticGateway) Verify(_ context.Context, reference string) (VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	result, ok := g.payments[reference]
	if !ok {
		return VerifyResult{}, apperr.NotFound("gateway reference %s", reference)
	}
	return result, nil
}

// SetOutcome overrides the recorded outcome of one reference. Test helper.
func (g *StaticGateway) SetOutcome(reference string, status VerifyStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := g.payments[reference]
	result.Status = status
	g.payments[reference] = result
}
