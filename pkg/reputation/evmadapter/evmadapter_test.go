package evmadapter

import (
	"math"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestRegistryABIParses(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		t.Fatalf("parse registry abi: %v", err)
	}
	for _, name := range []string{"registerAgent", "reputationOf", "stakeInfo", "recordOutcome", "slash", "withdrawStake"} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Fatalf("expected method %q in registry abi", name)
		}
	}
	if _, ok := parsed.Events["PaymentSettled"]; !ok {
		t.Fatalf("expected PaymentSettled event in registry abi")
	}
}

func TestWeiFloatRoundTrip(t *testing.T) {
	v := 12.5
	got := weiToFloat(floatToWei(v))
	if math.Abs(got-v) > 1e-9 {
		t.Fatalf("round trip mismatch: got %v want %v", got, v)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.GasLimit != 200_000 {
		t.Fatalf("expected default gas limit 200000, got %d", cfg.GasLimit)
	}
	if cfg.LookbackBlocks != 5000 {
		t.Fatalf("expected default lookback 5000, got %d", cfg.LookbackBlocks)
	}
}

func TestConfigDefaultsPreservesOverrides(t *testing.T) {
	cfg := Config{GasLimit: 50_000, LookbackBlocks: 100}.withDefaults()
	if cfg.GasLimit != 50_000 || cfg.LookbackBlocks != 100 {
		t.Fatalf("expected overrides preserved, got %+v", cfg)
	}
}
