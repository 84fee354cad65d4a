// Package config loads MESH's process-wide configuration (spec.md section 6):
// an env-var-driven Load()/Validate() pair following the teacher's
// getEnv/getEnvInt/getEnvInt64/getEnvBool/getEnvDuration helper pattern, plus
// an optional YAML overlay applied before the env pass so operators can check
// a config file into source control and override narrow fields with env vars
// in deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option spec.md section 6 recognizes, plus the
// supplemented audit/metrics knobs of SPEC_FULL.md section 11/12.
type Config struct {
	// Agent identity (section 6)
	Address        string   `yaml:"address"`
	Skills         []string `yaml:"skills"`
	MinFee         string   `yaml:"minFee"`
	Stake          string   `yaml:"stake"`
	ResponseTime   string   `yaml:"responseTime"`
	MeshGroupID    string   `yaml:"meshGroupId"`
	ReplyChat      string   `yaml:"replyChat"`
	OperatorChatID string   `yaml:"operatorChatId"`

	// Trust mode / reputation client (section 4.D/6)
	ContractAddress              string `yaml:"contractAddress"`
	Mode                         string `yaml:"mode"` // "local" | "testnet" | "production" | "mainnet"
	StrictChain                  bool   `yaml:"strictChain"`
	StrictChainSet               bool   `yaml:"-"` // true if StrictChain was explicitly set, vs. mode-derived
	AllowLocalReputationFallback bool   `yaml:"allowLocalReputationFallback"`
	AllowDemoPaymentVerification bool   `yaml:"allowDemoPaymentVerification"`
	AutoRegisterOnStart          bool   `yaml:"autoRegisterOnStart"`

	// Coordinator/Scheduler timing (section 4.E/4.F/6)
	WaitForDeadline          bool `yaml:"waitForDeadline"`
	EnableScheduler          bool `yaml:"enableScheduler"`
	SchedulerIntervalMs      int  `yaml:"schedulerIntervalMs"`
	ExpirySweepIntervalMs    int  `yaml:"expirySweepIntervalMs"`
	MaxIntentDeadlineSeconds int64 `yaml:"maxIntentDeadlineSeconds"`
	MaxPayloadBytes          int  `yaml:"maxPayloadBytes"`

	// Transport retry (section 4.G/6)
	SendRetries     int `yaml:"sendRetries"`
	SendRetryBaseMs int `yaml:"sendRetryBaseMs"`

	// Backend selection (section 4.B/6): DatabaseURL selects sqlstore;
	// SupabaseURL+SupabaseServiceRoleKey selects reststore; otherwise
	// KVStorePath selects kvstore; absence of all three selects the
	// in-memory store.
	DatabaseURL              string `yaml:"databaseUrl"`
	SupabaseURL              string `yaml:"supabaseUrl"`
	SupabaseServiceRoleKey   string `yaml:"supabaseServiceRoleKey"`
	KVStorePath              string `yaml:"kvStorePath"`

	// Chain adapter selection (section 11 domain stack): "local" | "evm" | "ton".
	ReputationBackend string `yaml:"reputationBackend"`
	EVMRPCURL         string `yaml:"evmRpcUrl"`
	EVMChainID        int64  `yaml:"evmChainId"`
	EVMPrivateKey     string `yaml:"evmPrivateKey"`
	TONBaseURL        string `yaml:"tonBaseUrl"`
	TONAPIKey         string `yaml:"tonApiKey"`

	// Audit mirror (section 11/12, supplemented feature)
	AuditEnabled          bool   `yaml:"auditEnabled"`
	AuditFirebaseProjectID string `yaml:"auditFirebaseProjectId"`

	// HTTP surface (section 12, supplemented feature)
	HTTPAddr string `yaml:"httpAddr"`

	// Logging
	LogLevel string `yaml:"logLevel"`
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = "local"
	}
	if c.MeshGroupID == "" {
		c.MeshGroupID = "mesh-default"
	}
	if c.SchedulerIntervalMs == 0 {
		c.SchedulerIntervalMs = 1000
	}
	if c.ExpirySweepIntervalMs == 0 {
		c.ExpirySweepIntervalMs = 1000
	}
	if c.MaxIntentDeadlineSeconds == 0 {
		c.MaxIntentDeadlineSeconds = 3600
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = 16384
	}
	if c.SendRetries == 0 {
		c.SendRetries = 2
	}
	if c.SendRetryBaseMs == 0 {
		c.SendRetryBaseMs = 150
	}
	if c.ReputationBackend == "" {
		c.ReputationBackend = "local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = "0.0.0.0:8080"
	}
	return c
}

// Load reads Config from an optional YAML file (MESH_CONFIG_FILE, if set)
// followed by environment variables, which take precedence over anything the
// file sets — the same layered posture as the teacher's DATABASE_URL +
// individual DB_* fields, generalized to a file + env overlay.
func Load() (*Config, error) {
	cfg := Config{
		// waitForDeadline/enableScheduler default true per spec.md section 6;
		// these are the only two bool options whose "unset" default is true,
		// so they're seeded here before the YAML overlay can see them.
		WaitForDeadline: true,
		EnableScheduler: true,
	}

	if path := os.Getenv("MESH_CONFIG_FILE"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg = cfg.withDefaults()
	return &cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}

func applyEnv(cfg *Config) {
	cfg.Address = getEnv("MESH_ADDRESS", cfg.Address)
	if v := os.Getenv("MESH_SKILLS"); v != "" {
		cfg.Skills = splitCSV(v)
	}
	cfg.MinFee = getEnv("MESH_MIN_FEE", cfg.MinFee)
	cfg.Stake = getEnv("MESH_STAKE", cfg.Stake)
	cfg.ResponseTime = getEnv("MESH_RESPONSE_TIME", cfg.ResponseTime)
	cfg.MeshGroupID = getEnv("MESH_GROUP_ID", cfg.MeshGroupID)
	cfg.ReplyChat = getEnv("MESH_REPLY_CHAT", cfg.ReplyChat)
	cfg.OperatorChatID = getEnv("MESH_OPERATOR_CHAT_ID", cfg.OperatorChatID)

	cfg.ContractAddress = getEnv("MESH_CONTRACT_ADDRESS", cfg.ContractAddress)
	cfg.Mode = getEnv("MESH_MODE", cfg.Mode)
	if v := os.Getenv("MESH_STRICT_CHAIN"); v != "" {
		cfg.StrictChain = getEnvBool("MESH_STRICT_CHAIN", cfg.StrictChain)
		cfg.StrictChainSet = true
	}
	cfg.AllowLocalReputationFallback = getEnvBool("MESH_ALLOW_LOCAL_REPUTATION_FALLBACK", cfg.AllowLocalReputationFallback)
	cfg.AllowDemoPaymentVerification = getEnvBool("MESH_ALLOW_DEMO_PAYMENT_VERIFICATION", cfg.AllowDemoPaymentVerification)
	cfg.AutoRegisterOnStart = getEnvBool("MESH_AUTO_REGISTER_ON_START", cfg.AutoRegisterOnStart)

	cfg.WaitForDeadline = getEnvBool("MESH_WAIT_FOR_DEADLINE", cfg.WaitForDeadline)
	cfg.EnableScheduler = getEnvBool("MESH_ENABLE_SCHEDULER", cfg.EnableScheduler)
	cfg.SchedulerIntervalMs = getEnvInt("MESH_SCHEDULER_INTERVAL_MS", cfg.SchedulerIntervalMs)
	cfg.ExpirySweepIntervalMs = getEnvInt("MESH_EXPIRY_SWEEP_INTERVAL_MS", cfg.ExpirySweepIntervalMs)
	cfg.MaxIntentDeadlineSeconds = getEnvInt64("MESH_MAX_INTENT_DEADLINE_SECONDS", cfg.MaxIntentDeadlineSeconds)
	cfg.MaxPayloadBytes = getEnvInt("MESH_MAX_PAYLOAD_BYTES", cfg.MaxPayloadBytes)

	cfg.SendRetries = getEnvInt("MESH_SEND_RETRIES", cfg.SendRetries)
	cfg.SendRetryBaseMs = getEnvInt("MESH_SEND_RETRY_BASE_MS", cfg.SendRetryBaseMs)

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SupabaseURL = getEnv("SUPABASE_URL", cfg.SupabaseURL)
	cfg.SupabaseServiceRoleKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", cfg.SupabaseServiceRoleKey)
	cfg.KVStorePath = getEnv("MESH_KV_STORE_PATH", cfg.KVStorePath)

	cfg.ReputationBackend = getEnv("MESH_REPUTATION_BACKEND", cfg.ReputationBackend)
	cfg.EVMRPCURL = getEnv("MESH_EVM_RPC_URL", cfg.EVMRPCURL)
	cfg.EVMChainID = getEnvInt64("MESH_EVM_CHAIN_ID", cfg.EVMChainID)
	cfg.EVMPrivateKey = getEnv("MESH_EVM_PRIVATE_KEY", cfg.EVMPrivateKey)
	cfg.TONBaseURL = getEnv("MESH_TON_BASE_URL", cfg.TONBaseURL)
	cfg.TONAPIKey = getEnv("MESH_TON_API_KEY", cfg.TONAPIKey)

	cfg.AuditEnabled = getEnvBool("MESH_AUDIT_ENABLED", cfg.AuditEnabled)
	cfg.AuditFirebaseProjectID = getEnv("MESH_AUDIT_FIREBASE_PROJECT_ID", cfg.AuditFirebaseProjectID)

	cfg.HTTPAddr = getEnv("MESH_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate checks the combination of options the Lifecycle needs to start.
// It is deliberately narrower than the teacher's production Validate(): MESH
// has no JWT/TLS/CORS surface (Non-goal, section 1), so there is nothing
// analogous to check there.
func (c *Config) Validate() error {
	var errs []string

	if c.Address == "" {
		errs = append(errs, "address (MESH_ADDRESS) is required")
	}
	switch c.Mode {
	case "local", "testnet", "production", "mainnet":
	default:
		errs = append(errs, fmt.Sprintf("mode %q is not one of local|testnet|production|mainnet", c.Mode))
	}
	if strictChainForMode(c.Mode) && !c.StrictChainSet && c.ReputationBackend == "local" {
		errs = append(errs, "mode implies strictChain=true but reputationBackend is local - set MESH_REPUTATION_BACKEND or MESH_STRICT_CHAIN explicitly")
	}
	if c.ReputationBackend == "evm" && c.EVMRPCURL == "" {
		errs = append(errs, "reputationBackend=evm requires evmRpcUrl (MESH_EVM_RPC_URL)")
	}
	if c.AuditEnabled && c.AuditFirebaseProjectID == "" {
		errs = append(errs, "auditEnabled requires auditFirebaseProjectId (MESH_AUDIT_FIREBASE_PROJECT_ID)")
	}
	if c.SupabaseURL != "" && c.SupabaseServiceRoleKey == "" {
		errs = append(errs, "supabaseUrl is set but supabaseServiceRoleKey is empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation for local runs: only
// the agent address is required, matching the teacher's own
// ValidateForDevelopment "absolute minimum" posture.
func (c *Config) ValidateForDevelopment() error {
	if c.Address == "" {
		return fmt.Errorf("development configuration validation failed:\n  - address (MESH_ADDRESS) is required")
	}
	return nil
}

// strictChainForMode mirrors reputation.strictChainForMode's unexported
// rule (production/mainnet implies strict) so Validate can flag an
// inconsistent combination without importing pkg/reputation.
func strictChainForMode(mode string) bool {
	return mode == "production" || mode == "mainnet"
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
