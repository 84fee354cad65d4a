package config

import (
	"os"
	"testing"
)

func clearMeshEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"MESH_CONFIG_FILE", "MESH_ADDRESS", "MESH_SKILLS", "MESH_MIN_FEE", "MESH_STAKE",
		"MESH_RESPONSE_TIME", "MESH_GROUP_ID", "MESH_REPLY_CHAT", "MESH_OPERATOR_CHAT_ID",
		"MESH_CONTRACT_ADDRESS", "MESH_MODE", "MESH_STRICT_CHAIN",
		"MESH_ALLOW_LOCAL_REPUTATION_FALLBACK", "MESH_ALLOW_DEMO_PAYMENT_VERIFICATION",
		"MESH_AUTO_REGISTER_ON_START", "MESH_WAIT_FOR_DEADLINE", "MESH_ENABLE_SCHEDULER",
		"MESH_SCHEDULER_INTERVAL_MS", "MESH_EXPIRY_SWEEP_INTERVAL_MS",
		"MESH_MAX_INTENT_DEADLINE_SECONDS", "MESH_MAX_PAYLOAD_BYTES", "MESH_SEND_RETRIES",
		"MESH_SEND_RETRY_BASE_MS", "DATABASE_URL", "SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY",
		"MESH_KV_STORE_PATH", "MESH_REPUTATION_BACKEND", "MESH_EVM_RPC_URL",
		"MESH_EVM_CHAIN_ID", "MESH_EVM_PRIVATE_KEY", "MESH_TON_BASE_URL", "MESH_TON_API_KEY",
		"MESH_AUDIT_ENABLED", "MESH_AUDIT_FIREBASE_PROJECT_ID", "MESH_HTTP_ADDR", "LOG_LEVEL",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearMeshEnv(t)
	os.Setenv("MESH_ADDRESS", "alice")
	defer clearMeshEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "local" {
		t.Errorf("expected default mode local, got %q", cfg.Mode)
	}
	if !cfg.WaitForDeadline {
		t.Error("expected waitForDeadline to default true")
	}
	if !cfg.EnableScheduler {
		t.Error("expected enableScheduler to default true")
	}
	if cfg.SchedulerIntervalMs != 1000 {
		t.Errorf("expected schedulerIntervalMs default 1000, got %d", cfg.SchedulerIntervalMs)
	}
	if cfg.MaxIntentDeadlineSeconds != 3600 {
		t.Errorf("expected maxIntentDeadlineSeconds default 3600, got %d", cfg.MaxIntentDeadlineSeconds)
	}
	if cfg.MaxPayloadBytes != 16384 {
		t.Errorf("expected maxPayloadBytes default 16384, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.SendRetries != 2 || cfg.SendRetryBaseMs != 150 {
		t.Errorf("expected sendRetries=2 sendRetryBaseMs=150, got %d/%d", cfg.SendRetries, cfg.SendRetryBaseMs)
	}
	if cfg.ReputationBackend != "local" {
		t.Errorf("expected reputationBackend default local, got %q", cfg.ReputationBackend)
	}
}

func TestLoadParsesEnvOverrides(t *testing.T) {
	clearMeshEnv(t)
	os.Setenv("MESH_ADDRESS", "bob")
	os.Setenv("MESH_SKILLS", "translate, summarize ,")
	os.Setenv("MESH_WAIT_FOR_DEADLINE", "false")
	os.Setenv("MESH_SCHEDULER_INTERVAL_MS", "500")
	os.Setenv("MESH_MODE", "production")
	os.Setenv("MESH_STRICT_CHAIN", "false")
	os.Setenv("MESH_REPUTATION_BACKEND", "evm")
	os.Setenv("MESH_EVM_RPC_URL", "https://rpc.example")
	defer clearMeshEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := []string{"translate", "summarize"}; len(cfg.Skills) != len(want) || cfg.Skills[0] != want[0] || cfg.Skills[1] != want[1] {
		t.Errorf("expected skills %v, got %v", want, cfg.Skills)
	}
	if cfg.WaitForDeadline {
		t.Error("expected waitForDeadline overridden to false")
	}
	if cfg.SchedulerIntervalMs != 500 {
		t.Errorf("expected schedulerIntervalMs 500, got %d", cfg.SchedulerIntervalMs)
	}
	if !cfg.StrictChainSet || cfg.StrictChain {
		t.Errorf("expected strictChain explicitly set to false, got set=%v value=%v", cfg.StrictChainSet, cfg.StrictChain)
	}
}

func TestValidateRequiresAddress(t *testing.T) {
	cfg := Config{Mode: "local", ReputationBackend: "local"}.withDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a missing address")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Config{Address: "alice", Mode: "staging", ReputationBackend: "local"}.withDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject an unrecognized mode")
	}
}

func TestValidateFlagsProductionWithLocalReputation(t *testing.T) {
	cfg := Config{Address: "alice", Mode: "production", ReputationBackend: "local"}.withDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to flag mode=production with reputationBackend=local and no explicit strictChain")
	}
}

func TestValidateForDevelopmentOnlyRequiresAddress(t *testing.T) {
	cfg := Config{Mode: "production", ReputationBackend: "local"}
	if err := cfg.ValidateForDevelopment(); err == nil {
		t.Fatal("expected ValidateForDevelopment to reject a missing address")
	}
	cfg.Address = "alice"
	if err := cfg.ValidateForDevelopment(); err != nil {
		t.Fatalf("expected ValidateForDevelopment to pass with only an address set, got %v", err)
	}
}

func TestValidateRequiresEVMRPCURL(t *testing.T) {
	cfg := Config{Address: "alice", Mode: "local", ReputationBackend: "evm"}.withDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject reputationBackend=evm with no evmRpcUrl")
	}
}
