package gateway

import (
	"context"
	"sync"
)

// ChainCheck describes an expected on-chain transfer.
type ChainCheck struct {
	TxHash    string
	Recipient string
	Expected  int64
	ChainID   int64
}

// ChainResult is the verifier's answer.
type ChainResult struct {
	Verified     bool
	ActualAmount int64
}

// StablecoinVerifier checks a transaction hash against an expected transfer.
// The platform never takes custody on-chain; this is a read-only check.
type StablecoinVerifier interface {
	VerifyTransfer(ctx context.Context, check ChainCheck) (ChainResult, error)
}

// StaticVerifier approves registered hashes. Tests register hashes with the
// amount the chain "saw"; unknown hashes are unverified.
type StaticVerifier struct {
	mu     sync.Mutex
	hashes map[string]int64
}

// NewStaticVerifier builds an empty stub verifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{hashes: make(map[string]int64)}
}

// Register records a hash as present on chain with the given amount.
func (v *StaticVerifier) Register(txHash string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hashes[txHash] = amount
}

// VerifyTransfer reports whether the hash is known and carries at least the
// expected amount.
func (v *StaticVerifier) VerifyTransfer(_ context.Context, check ChainCheck) (ChainResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	actual, ok := v.hashes[check.TxHash]
	if !ok {
		return ChainResult{}, nil
	}
	return ChainResult{Verified: actual >= check.Expected, ActualAmount: actual}, nil
}
