// Package reputation implements the Reputation Client (spec.md section 4.D):
// a uniform facade over either a host-injected on-chain adapter or a bounded
// in-process local fallback, gated by the engine's trust mode.
package reputation

import (
	"context"
)

// StakeInfo is the result of getStakeInfo.
type StakeInfo struct {
	Stake      float64
	Since      int64
	AgeSeconds int64
}

// Tx is a resolved on-chain (or locally simulated) transaction, as returned
// by a successful verifyPayment.
type Tx struct {
	Hash          string
	Sender        string
	Recipient     string
	Amount        float64
	Timestamp     int64
	Aborted       bool
	ComputeFailed bool
}

// PaymentCheck carries verifyPayment's inputs (spec.md section 4.D).
type PaymentCheck struct {
	TxHash                    string
	Amount                    float64
	ExpectedRecipient         string
	ExpectedSender            string
	IntentID                  string
	MaxTxAgeSeconds           int64
	LookbackLimit             int
	AllowAmountGreaterOrEqual *bool // nil means the spec default of true
}

func (c PaymentCheck) allowGreaterOrEqual() bool {
	if c.AllowAmountGreaterOrEqual == nil {
		return true
	}
	return *c.AllowAmountGreaterOrEqual
}

// PaymentResult is verifyPayment's outcome. Reason is populated from the
// fixed enumeration in spec.md section 4.D whenever OK is false.
type PaymentResult struct {
	OK     bool
	Reason string
	Tx     *Tx
}

// HostAdapter is an injected on-chain wrapper. When a Client is constructed
// with one, every facade operation delegates to it directly and the local
// fallback is never consulted.
type HostAdapter interface {
	RegisterAgent(ctx context.Context, addr string, stake float64) error
	GetReputation(ctx context.Context, addr string) (score int64, found bool, err error)
	GetStakeInfo(ctx context.Context, addr string) (StakeInfo, error)
	RecordOutcome(ctx context.Context, executor, txHash string, rating int64) error
	Slash(ctx context.Context, offender, reason string) error
	WithdrawStake(ctx context.Context, addr string) (priorStake float64, err error)
	VerifyPayment(ctx context.Context, check PaymentCheck) (PaymentResult, error)
}
