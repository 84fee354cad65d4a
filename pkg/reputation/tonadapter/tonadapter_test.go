package tonadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meshprotocol/agent/pkg/reputation"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetReputationParsesStack(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runGetMethod" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"gas_used":  1000,
				"exit_code": 0,
				"stack": [][2]any{
					{"num", "0x64"},
					{"num", "0x1"},
				},
			},
		})
	})

	a := New(Config{BaseURL: srv.URL, ContractAddress: "0:registry"})
	score, found, err := a.GetReputation(context.Background(), "0:agent")
	if err != nil {
		t.Fatalf("GetReputation: %v", err)
	}
	if score != 100 || !found {
		t.Fatalf("expected score=100 found=true, got score=%d found=%v", score, found)
	}
}

func TestGetStakeInfoComputesAge(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"exit_code": 0,
				"stack": [][2]any{
					{"num", "0x3b9aca00"},
					{"num", "0x0"},
				},
			},
		})
	})

	a := New(Config{BaseURL: srv.URL, ContractAddress: "0:registry"})
	info, err := a.GetStakeInfo(context.Background(), "0:agent")
	if err != nil {
		t.Fatalf("GetStakeInfo: %v", err)
	}
	if info.Stake != 1.0 {
		t.Fatalf("expected stake 1.0 ton, got %v", info.Stake)
	}
	if info.AgeSeconds <= 0 {
		t.Fatalf("expected positive age since since=0, got %d", info.AgeSeconds)
	}
}

func TestVerifyPaymentMissingTxHash(t *testing.T) {
	a := New(Config{ContractAddress: "0:registry"})
	res, err := a.VerifyPayment(context.Background(), reputation.PaymentCheck{ExpectedRecipient: "0:r"})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if res.OK || res.Reason != "missing_tx_hash" {
		t.Fatalf("expected missing_tx_hash, got %+v", res)
	}
}

func TestVerifyPaymentMatchesRecentTransaction(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getTransactions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": []map[string]any{
				{
					"utime": 1700000000,
					"in_msg": map[string]any{
						"source":      "0:sender",
						"destination": "0:recipient",
						"value":       "5000000000",
						"hash":        "abcDEF==",
					},
				},
			},
		})
	})

	a := New(Config{BaseURL: srv.URL})
	res, err := a.VerifyPayment(context.Background(), reputation.PaymentCheck{
		TxHash:            "abcdef",
		Amount:            5,
		ExpectedRecipient: "0:recipient",
		ExpectedSender:    "0:sender",
	})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
	if res.Tx.Amount != 5 {
		t.Fatalf("expected amount 5, got %v", res.Tx.Amount)
	}
}

func TestVerifyPaymentNotFound(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": []map[string]any{},
		})
	})

	a := New(Config{BaseURL: srv.URL})
	res, err := a.VerifyPayment(context.Background(), reputation.PaymentCheck{
		TxHash:            "deadbeef",
		ExpectedRecipient: "0:recipient",
	})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if res.OK || res.Reason != "tx_not_found_in_recent_recipient_history" {
		t.Fatalf("expected not-found reason, got %+v", res)
	}
}

func TestRegisterAgentNotSupported(t *testing.T) {
	a := New(Config{ContractAddress: "0:registry"})
	if err := a.RegisterAgent(context.Background(), "0:agent", 5); err == nil {
		t.Fatalf("expected notSupported error")
	}
}
