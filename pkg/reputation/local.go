package reputation

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrMinStakeViolation is returned by LocalFallback.RegisterAgent when
	// stake < 1.
	ErrMinStakeViolation = errors.New("reputation: stake below minimum of 1")
	// ErrReplayedTxHash is returned by LocalFallback.RecordOutcome when
	// txHash has already been recorded for the same executor.
	ErrReplayedTxHash = errors.New("reputation: txHash already recorded for this executor")
)

// LocalFallback is the in-process simulation used when no HostAdapter is
// configured and the engine's trust mode permits it (spec.md section 4.D).
// It is also the reference semantics the tests hold a HostAdapter to.
type LocalFallback struct {
	mu         sync.Mutex
	scores     map[string]int64
	stakes     map[string]float64
	stakeSince map[string]int64
	txSeen     map[string]map[string]bool
	ledger     []Tx
	now        func() int64
}

// NewLocalFallback returns an empty local fallback.
func NewLocalFallback() *LocalFallback {
	return &LocalFallback{
		scores:     make(map[string]int64),
		stakes:     make(map[string]float64),
		stakeSince: make(map[string]int64),
		txSeen:     make(map[string]map[string]bool),
		now:        func() int64 { return time.Now().Unix() },
	}
}

// RegisterAgent requires stake >= 1. The first registration sets score=100
// and stakeSince=now; subsequent calls overwrite stake only.
func (l *LocalFallback) RegisterAgent(addr string, stake float64) error {
	if stake < 1 {
		return ErrMinStakeViolation
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.stakeSince[addr]; !seen {
		l.scores[addr] = 100
		l.stakeSince[addr] = l.now()
	}
	l.stakes[addr] = stake
	return nil
}

// GetReputation returns (score, found).
func (l *LocalFallback) GetReputation(addr string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.scores[addr]
	return v, ok
}

// GetStakeInfo returns the agent's current stake, registration time, and age.
func (l *LocalFallback) GetStakeInfo(addr string) StakeInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	since := l.stakeSince[addr]
	age := l.now() - since
	if age < 0 {
		age = 0
	}
	return StakeInfo{Stake: l.stakes[addr], Since: since, AgeSeconds: age}
}

// ratingDelta implements spec.md's reputation delta table.
func ratingDelta(rating int64) int64 {
	switch {
	case rating >= 9:
		return 15
	case rating >= 7:
		return 8
	case rating >= 5:
		return 2
	case rating >= 3:
		return -10
	default:
		return -25
	}
}

// RecordOutcome rejects replay on txHash for the same executor and applies
// the rating delta table, clamping the new score at 0.
func (l *LocalFallback) RecordOutcome(executor, txHash string, rating int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := l.txSeen[executor]
	if seen == nil {
		seen = make(map[string]bool)
		l.txSeen[executor] = seen
	}
	if seen[txHash] {
		return ErrReplayedTxHash
	}
	seen[txHash] = true
	score := l.scores[executor] + ratingDelta(rating)
	if score < 0 {
		score = 0
	}
	l.scores[executor] = score
	return nil
}

// Slash takes 20% of the offender's stake and 50 reputation points, both
// clamped at 0.
func (l *LocalFallback) Slash(offender string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stake := l.stakes[offender]
	newStake := stake - 0.2*stake
	if newStake < 0 {
		newStake = 0
	}
	l.stakes[offender] = newStake
	score := l.scores[offender] - 50
	if score < 0 {
		score = 0
	}
	l.scores[offender] = score
}

// WithdrawStake returns the prior stake and removes the agent from every
// map; a subsequent GetStakeInfo/GetReputation treats it as zero/not-found.
func (l *LocalFallback) WithdrawStake(addr string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	prior := l.stakes[addr]
	delete(l.stakes, addr)
	delete(l.stakeSince, addr)
	delete(l.scores, addr)
	return prior
}

// RecordTx seeds the local ledger verifyPayment scans against. Production
// use has no caller for this — it exists for tests and for a
// local/testnet mode where nothing actually posts chain transactions.
func (l *LocalFallback) RecordTx(tx Tx) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ledger = append(l.ledger, tx)
}

// VerifyPayment scans the local ledger the same way the canonical
// implementation scans a chain's recent transaction history.
func (l *LocalFallback) VerifyPayment(check PaymentCheck) PaymentResult {
	if check.TxHash == "" {
		return PaymentResult{Reason: "missing_tx_hash"}
	}
	if check.ExpectedRecipient == "" {
		return PaymentResult{Reason: "missing_expected_recipient"}
	}

	lookback := check.LookbackLimit
	if lookback <= 0 {
		lookback = 30
	}

	l.mu.Lock()
	ledger := append([]Tx(nil), l.ledger...)
	now := l.now()
	l.mu.Unlock()

	start := 0
	if len(ledger) > lookback {
		start = len(ledger) - lookback
	}
	recent := ledger[start:]

	target := normalizeHash(check.TxHash)
	var found *Tx
	for i := len(recent) - 1; i >= 0; i-- {
		if normalizeHash(recent[i].Hash) == target {
			tx := recent[i]
			found = &tx
			break
		}
	}
	if found == nil {
		return PaymentResult{Reason: "tx_not_found_in_recent_recipient_history"}
	}
	if found.Recipient == "" {
		return PaymentResult{Reason: "tx_has_no_internal_inbound"}
	}
	if found.Recipient != check.ExpectedRecipient {
		return PaymentResult{Reason: "recipient_mismatch"}
	}
	if check.ExpectedSender != "" && found.Sender != check.ExpectedSender {
		return PaymentResult{Reason: "sender_mismatch"}
	}
	if check.allowGreaterOrEqual() {
		if found.Amount < check.Amount {
			return PaymentResult{Reason: "amount_mismatch"}
		}
	} else if found.Amount != check.Amount {
		return PaymentResult{Reason: "amount_mismatch"}
	}
	if check.MaxTxAgeSeconds > 0 && now-found.Timestamp > check.MaxTxAgeSeconds {
		return PaymentResult{Reason: "tx_too_old"}
	}
	if found.Aborted || found.ComputeFailed {
		return PaymentResult{Reason: "tx_failed"}
	}
	return PaymentResult{OK: true, Tx: found}
}

// normalizeHash accepts hex (with or without 0x) or base64 and compares
// case-insensitively, left-padded to 32 bytes — so a short-form hash sent
// over MESH matches the full padded form a chain indexer returns.
func normalizeHash(h string) string {
	h = strings.TrimSpace(h)
	trimmed := strings.TrimPrefix(strings.ToLower(h), "0x")
	var raw []byte
	if b, err := hex.DecodeString(trimmed); err == nil {
		raw = b
	} else if b, err := base64.StdEncoding.DecodeString(h); err == nil {
		raw = b
	} else {
		return strings.ToLower(h)
	}
	if len(raw) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(raw):], raw)
		raw = padded
	}
	return hex.EncodeToString(raw)
}
