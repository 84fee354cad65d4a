package reputation

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/meshprotocol/agent/pkg/meshtypes"
)

// Options configures a Client. Mode and StrictChainOverride together resolve
// strictChain per spec.md section 4.D's open-question decision: strictChain
// is the sole trust-mode gate, computed once at construction.
type Options struct {
	// Mode is one of "local", "testnet", "production", "mainnet".
	Mode string
	// StrictChainOverride, when non-nil, takes precedence over the
	// mode-derived default.
	StrictChainOverride *bool
	// AllowLocalReputationFallback must be false in production deployments;
	// it gates local-fallback use independently of strictChain.
	AllowLocalReputationFallback bool
	// AllowDemoPaymentVerification permits the lenient "any non-empty
	// txHash passes" verifyPayment path when true, host is nil and
	// strictChain is false. Defaults to false: callers must opt in.
	AllowDemoPaymentVerification bool
	// Host is the injected on-chain adapter. Nil means "no host available".
	Host   HostAdapter
	Logger *log.Logger
}

// Client is the uniform facade of spec.md section 4.D.
type Client struct {
	host        HostAdapter
	local       *LocalFallback
	strictChain bool
	allowLocal  bool
	allowDemo   bool
	logger      *log.Logger
}

func strictChainForMode(mode string) bool {
	return mode == "production" || mode == "mainnet"
}

// New constructs a Client. A fresh LocalFallback is always created, even
// when a Host is configured, so a later host outage has a defined fallback
// behavior rather than a nil-pointer path.
func New(opts Options) *Client {
	strict := strictChainForMode(opts.Mode)
	if opts.StrictChainOverride != nil {
		strict = *opts.StrictChainOverride
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[reputation] ", log.LstdFlags)
	}
	return &Client{
		host:        opts.Host,
		local:       NewLocalFallback(),
		strictChain: strict,
		allowLocal:  opts.AllowLocalReputationFallback,
		allowDemo:   opts.AllowDemoPaymentVerification,
		logger:      logger,
	}
}

// Local exposes the fallback store directly, so a local/testnet deployment
// can seed it (e.g. RecordTx for verifyPayment) without a host adapter.
func (c *Client) Local() *LocalFallback { return c.local }

func chainUnavailable(op string) error {
	return meshtypes.PreconditionError("chain_path_unavailable", op+": no host adapter configured and strictChain is set")
}

func fallbackDisabled(op string) error {
	return meshtypes.PreconditionError("local_reputation_fallback_disabled", op+": no host adapter and local reputation fallback is disabled")
}

// RegisterAgent delegates to the host when present; otherwise it is gated
// by strictChain (chain-mutating operation) and allowLocalReputationFallback.
func (c *Client) RegisterAgent(ctx context.Context, addr string, stake float64) error {
	if c.host != nil {
		return c.host.RegisterAgent(ctx, addr, stake)
	}
	if c.strictChain {
		return chainUnavailable("registerAgent")
	}
	if !c.allowLocal {
		return fallbackDisabled("registerAgent")
	}
	if err := c.local.RegisterAgent(addr, stake); err != nil {
		if errors.Is(err, ErrMinStakeViolation) {
			return meshtypes.PreconditionError("min_stake_violation", err.Error())
		}
		return meshtypes.BackendError(err)
	}
	return nil
}

// GetReputation is a read: it falls back to local regardless of strictChain,
// gated only by allowLocalReputationFallback.
func (c *Client) GetReputation(ctx context.Context, addr string) (int64, bool, error) {
	if c.host != nil {
		return c.host.GetReputation(ctx, addr)
	}
	if !c.allowLocal {
		return 0, false, fallbackDisabled("getReputation")
	}
	v, ok := c.local.GetReputation(addr)
	return v, ok, nil
}

// GetStakeInfo is a read; same fallback gating as GetReputation.
func (c *Client) GetStakeInfo(ctx context.Context, addr string) (StakeInfo, error) {
	if c.host != nil {
		return c.host.GetStakeInfo(ctx, addr)
	}
	if !c.allowLocal {
		return StakeInfo{}, fallbackDisabled("getStakeInfo")
	}
	return c.local.GetStakeInfo(addr), nil
}

// RecordOutcome is chain-mutating: gated by strictChain in the host's absence.
func (c *Client) RecordOutcome(ctx context.Context, executor, txHash string, rating int64) error {
	if err := meshtypes.ValidateRating(rating); err != nil {
		return err
	}
	if c.host != nil {
		return c.host.RecordOutcome(ctx, executor, txHash, rating)
	}
	if c.strictChain {
		return chainUnavailable("recordOutcome")
	}
	if !c.allowLocal {
		return fallbackDisabled("recordOutcome")
	}
	if err := c.local.RecordOutcome(executor, txHash, rating); err != nil {
		if errors.Is(err, ErrReplayedTxHash) {
			return meshtypes.PreconditionError("replayed_tx_hash", err.Error())
		}
		return meshtypes.BackendError(err)
	}
	return nil
}

// Slash is chain-mutating: gated by strictChain in the host's absence.
func (c *Client) Slash(ctx context.Context, offender, reason string) error {
	if c.host != nil {
		return c.host.Slash(ctx, offender, reason)
	}
	if c.strictChain {
		return chainUnavailable("slash")
	}
	if !c.allowLocal {
		return fallbackDisabled("slash")
	}
	c.local.Slash(offender)
	c.logger.Printf("slashed %s: %s", offender, reason)
	return nil
}

// WithdrawStake is chain-mutating: gated by strictChain in the host's absence.
func (c *Client) WithdrawStake(ctx context.Context, addr string) (float64, error) {
	if c.host != nil {
		return c.host.WithdrawStake(ctx, addr)
	}
	if c.strictChain {
		return 0, chainUnavailable("withdrawStake")
	}
	if !c.allowLocal {
		return 0, fallbackDisabled("withdrawStake")
	}
	return c.local.WithdrawStake(addr), nil
}

// VerifyPayment delegates to the host when present. Without one, strict
// mode always runs the canonical ledger scan (never the demo fallback);
// non-strict mode additionally honors AllowDemoPaymentVerification.
func (c *Client) VerifyPayment(ctx context.Context, check PaymentCheck) (PaymentResult, error) {
	if c.host != nil {
		return c.host.VerifyPayment(ctx, check)
	}
	if check.TxHash == "" {
		return PaymentResult{Reason: "missing_tx_hash"}, nil
	}
	if check.ExpectedRecipient == "" {
		return PaymentResult{Reason: "missing_expected_recipient"}, nil
	}
	if !c.strictChain && c.allowDemo {
		return PaymentResult{OK: true, Tx: &Tx{Hash: check.TxHash, Recipient: check.ExpectedRecipient, Amount: check.Amount}}, nil
	}
	return c.local.VerifyPayment(check), nil
}
