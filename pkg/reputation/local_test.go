package reputation

import "testing"

func TestRegisterAgentMinStake(t *testing.T) {
	l := NewLocalFallback()
	if err := l.RegisterAgent("A", 0.5); err == nil {
		t.Fatalf("expected error for stake < 1")
	}
	if err := l.RegisterAgent("A", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	score, ok := l.GetReputation("A")
	if !ok || score != 100 {
		t.Fatalf("GetReputation() = (%d, %v), want (100, true)", score, ok)
	}
}

func TestRegisterAgentPreservesScoreAndSince(t *testing.T) {
	l := NewLocalFallback()
	if err := l.RegisterAgent("A", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.RecordOutcome("A", "tx1", 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := l.GetStakeInfo("A")

	if err := l.RegisterAgent("A", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	score, _ := l.GetReputation("A")
	if score != 115 {
		t.Fatalf("score = %d, want 115 (preserved across re-registration)", score)
	}
	second := l.GetStakeInfo("A")
	if second.Since != first.Since {
		t.Fatalf("stakeSince changed on re-registration: %d -> %d", first.Since, second.Since)
	}
	if second.Stake != 10 {
		t.Fatalf("stake = %v, want 10 (overwritten)", second.Stake)
	}
}

func TestRecordOutcomeDeltaTable(t *testing.T) {
	cases := []struct {
		rating int64
		delta  int64
	}{
		{10, 15}, {9, 15}, {8, 8}, {7, 8}, {6, 2}, {5, 2}, {4, -10}, {3, -10}, {2, -25}, {1, -25},
	}
	for i, c := range cases {
		l := NewLocalFallback()
		addr := "A"
		l.scores[addr] = 50
		if err := l.RecordOutcome(addr, "tx", c.rating); err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}
		want := 50 + c.delta
		if want < 0 {
			want = 0
		}
		got, _ := l.GetReputation(addr)
		if got != want {
			t.Errorf("rating %d: score = %d, want %d", c.rating, got, want)
		}
	}
}

func TestRecordOutcomeScoreClampedAtZero(t *testing.T) {
	l := NewLocalFallback()
	l.scores["A"] = 10
	if err := l.RecordOutcome("A", "tx1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := l.GetReputation("A")
	if got != 0 {
		t.Fatalf("score = %d, want clamped 0", got)
	}
}

func TestRecordOutcomeRejectsReplay(t *testing.T) {
	l := NewLocalFallback()
	if err := l.RecordOutcome("A", "tx1", 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.RecordOutcome("A", "tx1", 9); err == nil {
		t.Fatalf("expected replay to be rejected")
	}
	// same txHash for a different executor is not a replay
	if err := l.RecordOutcome("B", "tx1", 9); err != nil {
		t.Fatalf("unexpected error for different executor: %v", err)
	}
}

func TestSlash(t *testing.T) {
	l := NewLocalFallback()
	if err := l.RegisterAgent("A", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Slash("A")
	info := l.GetStakeInfo("A")
	if info.Stake != 8 {
		t.Fatalf("stake after slash = %v, want 8", info.Stake)
	}
	score, _ := l.GetReputation("A")
	if score != 50 {
		t.Fatalf("score after slash = %d, want 50", score)
	}
}

func TestSlashClampsAtZero(t *testing.T) {
	l := NewLocalFallback()
	l.stakes["A"] = 1
	l.scores["A"] = 10
	l.Slash("A")
	info := l.GetStakeInfo("A")
	if info.Stake != 0.8 {
		t.Fatalf("stake = %v, want 0.8", info.Stake)
	}
	score, _ := l.GetReputation("A")
	if score != 0 {
		t.Fatalf("score = %d, want clamped 0", score)
	}
}

func TestWithdrawStake(t *testing.T) {
	l := NewLocalFallback()
	if err := l.RegisterAgent("A", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prior := l.WithdrawStake("A")
	if prior != 7 {
		t.Fatalf("WithdrawStake() = %v, want 7", prior)
	}
	info := l.GetStakeInfo("A")
	if info.Stake != 0 {
		t.Fatalf("stake after withdraw = %v, want 0", info.Stake)
	}
	if _, ok := l.GetReputation("A"); ok {
		t.Fatalf("expected agent to be gone after withdraw")
	}
}

func TestVerifyPaymentReasons(t *testing.T) {
	l := NewLocalFallback()
	l.now = func() int64 { return 1000 }
	l.RecordTx(Tx{Hash: "abcd", Sender: "S", Recipient: "R", Amount: 5, Timestamp: 990})

	if res := l.VerifyPayment(PaymentCheck{}); res.Reason != "missing_tx_hash" {
		t.Errorf("got %q, want missing_tx_hash", res.Reason)
	}
	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd"}); res.Reason != "missing_expected_recipient" {
		t.Errorf("got %q, want missing_expected_recipient", res.Reason)
	}
	if res := l.VerifyPayment(PaymentCheck{TxHash: "deadbeef", ExpectedRecipient: "R"}); res.Reason != "tx_not_found_in_recent_recipient_history" {
		t.Errorf("got %q, want tx_not_found_in_recent_recipient_history", res.Reason)
	}
	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd", ExpectedRecipient: "OTHER"}); res.Reason != "recipient_mismatch" {
		t.Errorf("got %q, want recipient_mismatch", res.Reason)
	}
	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd", ExpectedRecipient: "R", ExpectedSender: "NOTS"}); res.Reason != "sender_mismatch" {
		t.Errorf("got %q, want sender_mismatch", res.Reason)
	}
	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd", ExpectedRecipient: "R", Amount: 100}); res.Reason != "amount_mismatch" {
		t.Errorf("got %q, want amount_mismatch", res.Reason)
	}
	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd", ExpectedRecipient: "R", Amount: 5, MaxTxAgeSeconds: 5}); res.Reason != "tx_too_old" {
		t.Errorf("got %q, want tx_too_old", res.Reason)
	}
	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd", ExpectedRecipient: "R", Amount: 5}); !res.OK {
		t.Errorf("expected ok, got reason %q", res.Reason)
	}
}

func TestVerifyPaymentAmountGreaterOrEqualDefault(t *testing.T) {
	l := NewLocalFallback()
	l.now = func() int64 { return 1000 }
	l.RecordTx(Tx{Hash: "abcd", Recipient: "R", Amount: 10, Timestamp: 1000})

	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd", ExpectedRecipient: "R", Amount: 5}); !res.OK {
		t.Fatalf("expected amount >= check to pass by default, got reason %q", res.Reason)
	}
	strict := false
	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd", ExpectedRecipient: "R", Amount: 5, AllowAmountGreaterOrEqual: &strict}); res.Reason != "amount_mismatch" {
		t.Fatalf("expected amount_mismatch with exact-match required, got %q", res.Reason)
	}
}

func TestVerifyPaymentHashNormalization(t *testing.T) {
	l := NewLocalFallback()
	l.now = func() int64 { return 1000 }
	l.RecordTx(Tx{Hash: "0xABCD", Recipient: "R", Amount: 1, Timestamp: 1000})

	if res := l.VerifyPayment(PaymentCheck{TxHash: "abcd", ExpectedRecipient: "R", Amount: 1}); !res.OK {
		t.Fatalf("expected case/prefix-insensitive hash match, got reason %q", res.Reason)
	}
}
