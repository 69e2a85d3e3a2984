package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-level configuration loaded once at startup
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Signer   SignerConfig
	Relay    Snapshot
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.DBName + "?sslmode=" + c.SSLMode + "&prepare_threshold=0"
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	PASSWORD string
}

// SignerConfig holds the local keystore settings
type SignerConfig struct {
	KeystoreDir string
	Passphrase  string
}

// ChainConfig holds per-chain connection settings
type ChainConfig struct {
	ChainID    uint64
	RPCURL     string
	BundlerURL string
	// LegacyGas selects the single-gas-price regime for chains without
	// EIP-1559 support.
	LegacyGas bool
}

// Snapshot is a point-in-time read of the operator-tunable relay parameters.
// Snapshots are immutable: workers read one per cycle and never mutate it.
type Snapshot struct {
	SubmitBatchSize    int
	SubmitInterval     time.Duration
	ConfirmInterval    time.Duration
	IndexInterval      time.Duration
	ReconcileInterval  time.Duration
	DispatchInterval   time.Duration
	ConfigPollInterval time.Duration

	// Confirmation policy.
	MinBlocksBeforeRetry uint64
	CancelTimeout        time.Duration
	DroppedTimeout       time.Duration
	StalledTimeout       time.Duration

	// Gas ceilings, wei. A candidate above either ceiling defers the
	// submission or retry instead of attempting it.
	MaxFeeCeilingWei         *big.Int
	MaxPriorityFeeCeilingWei *big.Int

	// Indexer bounds.
	MaxBlocksPerRun  uint64
	SafetyOffset     uint64
	MaxBackfillRange uint64
	LeaseTTL         time.Duration

	WebhookURL string

	Chains map[uint64]ChainConfig
}

// Chain returns the chain config for an id, ok=false when not configured
func (s *Snapshot) Chain(chainID uint64) (ChainConfig, bool) {
	c, ok := s.Chains[chainID]
	return c, ok
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "chainrelay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			PASSWORD: getEnv("REDIS_PASSWORD", ""),
		},
		Signer: SignerConfig{
			KeystoreDir: getEnv("SIGNER_KEYSTORE_DIR", "./keystore"),
			Passphrase:  getEnv("SIGNER_PASSPHRASE", ""),
		},
		Relay: LoadSnapshot(),
	}
}

// LoadSnapshot reads the relay parameters from the environment. The config
// poller re-reads it each cycle and merges operator overrides on top.
func LoadSnapshot() Snapshot {
	return Snapshot{
		SubmitBatchSize:    getEnvAsInt("RELAY_SUBMIT_BATCH_SIZE", 25),
		SubmitInterval:     getEnvAsDuration("RELAY_SUBMIT_INTERVAL", 5*time.Second),
		ConfirmInterval:    getEnvAsDuration("RELAY_CONFIRM_INTERVAL", 10*time.Second),
		IndexInterval:      getEnvAsDuration("RELAY_INDEX_INTERVAL", 10*time.Second),
		ReconcileInterval:  getEnvAsDuration("RELAY_RECONCILE_INTERVAL", time.Minute),
		DispatchInterval:   getEnvAsDuration("RELAY_DISPATCH_INTERVAL", 5*time.Second),
		ConfigPollInterval: getEnvAsDuration("RELAY_CONFIG_POLL_INTERVAL", 30*time.Second),

		MinBlocksBeforeRetry: getEnvAsUint("RELAY_MIN_BLOCKS_BEFORE_RETRY", 12),
		CancelTimeout:        getEnvAsDuration("RELAY_CANCEL_TIMEOUT", time.Hour),
		DroppedTimeout:       getEnvAsDuration("RELAY_DROPPED_TIMEOUT", 3*time.Hour),
		StalledTimeout:       getEnvAsDuration("RELAY_STALLED_TIMEOUT", 10*time.Minute),

		MaxFeeCeilingWei:         getEnvAsBigInt("RELAY_MAX_FEE_CEILING_WEI", "1000000000000"), // 1000 gwei
		MaxPriorityFeeCeilingWei: getEnvAsBigInt("RELAY_MAX_PRIORITY_FEE_CEILING_WEI", "500000000000"),

		MaxBlocksPerRun:  getEnvAsUint("RELAY_MAX_BLOCKS_PER_RUN", 500),
		SafetyOffset:     getEnvAsUint("RELAY_SAFETY_OFFSET", 3),
		MaxBackfillRange: getEnvAsUint("RELAY_MAX_BACKFILL_RANGE", 5000),
		LeaseTTL:         getEnvAsDuration("RELAY_LEASE_TTL", 2*time.Minute),

		WebhookURL: getEnv("RELAY_WEBHOOK_URL", ""),

		Chains: parseChains(getEnv("RELAY_CHAIN_RPC_URLS", ""), getEnv("RELAY_CHAIN_BUNDLER_URLS", ""), getEnv("RELAY_LEGACY_GAS_CHAINS", "")),
	}
}

// parseChains parses "137=https://rpc-a,1=https://rpc-b" style lists
func parseChains(rpcs, bundlers, legacy string) map[uint64]ChainConfig {
	chains := make(map[uint64]ChainConfig)
	for id, url := range parsePairs(rpcs) {
		chains[id] = ChainConfig{ChainID: id, RPCURL: url}
	}
	for id, url := range parsePairs(bundlers) {
		c := chains[id]
		c.ChainID = id
		c.BundlerURL = url
		chains[id] = c
	}
	for _, part := range strings.Split(legacy, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		c := chains[id]
		c.ChainID = id
		c.LegacyGas = true
		chains[id] = c
	}
	return chains
}

func parsePairs(s string) map[uint64]string {
	out := make(map[uint64]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		id, err := strconv.ParseUint(kv[0], 10, 64)
		if err != nil {
			continue
		}
		out[id] = kv[1]
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBigInt(key, defaultValue string) *big.Int {
	raw := getEnv(key, defaultValue)
	if v, ok := new(big.Int).SetString(raw, 10); ok {
		return v
	}
	v, _ := new(big.Int).SetString(defaultValue, 10)
	return v
}
