package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mselser95/esports-arb/pkg/types"
)

// OverflowPolicy selects event-bus behavior on a full partition.
type OverflowPolicy string

const (
	OverflowDrop     OverflowPolicy = "drop"
	OverflowCoalesce OverflowPolicy = "coalesce"
	OverflowBlock    OverflowPolicy = "block"
	OverflowHalt     OverflowPolicy = "halt"
)

// BusConfig holds event bus configuration.
type BusConfig struct {
	MaxQueueSize     int
	OverflowPolicy   OverflowPolicy
	HandlerTimeout   time.Duration
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
}

// TruthConfig holds truth engine configuration.
type TruthConfig struct {
	ConfirmThreshold        float64
	MaxWaitMS               int64
	RequiredSourcesForFinal int
	AllowedSkewMS           int64
	TierASources            []string
	TierBSources            []string
	TierCSources            []string
}

// TierFor classifies a source name into its configured tier. Unknown
// sources default to Tier C.
func (c TruthConfig) TierFor(source string) types.SourceTier {
	for _, s := range c.TierASources {
		if s == source {
			return types.TierA
		}
	}
	for _, s := range c.TierBSources {
		if s == source {
			return types.TierB
		}
	}
	return types.TierC
}

// TradingConfig holds trading engine configuration.
type TradingConfig struct {
	IdleAfterNoOpportunityTicks int
	TemporalSignalTTLMS         int64
	PairCostCap                 float64
	FeeRate                     float64
	StepUSDC                    float64
	MaxTotalCost                float64
	MaxLegImbalanceUSDC         float64
	LegShareThreshold           float64
	MaxConsecutiveRejects       int
	MaxCancelFailures           int
}

// FeedConfig holds the websocket match-event feed configuration.
type FeedConfig struct {
	URL                   string
	DialTimeout           time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
}

// StorageConfig holds execution/outcome storage configuration.
type StorageConfig struct {
	Mode         string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// SimConfig holds price-walk simulator configuration.
type SimConfig struct {
	Episodes        int
	StepsPerEpisode int
	SlippageBPS     float64
	Volatility      float64
	MeanRevert      float64
}

// Config holds all application configuration.
type Config struct {
	LogLevel      string
	HTTPPort      string
	ExecutionMode string // "paper" or "live"

	Bus     BusConfig
	Truth   TruthConfig
	Trading TradingConfig
	Feed    FeedConfig
	Storage StorageConfig
	Sim     SimConfig
}

// LoadFromEnv loads configuration from environment variables with defaults.
// Values that fail to parse fall back to the default; Validate catches
// out-of-range values afterwards.
func LoadFromEnv() *Config {
	return &Config{
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort:      getEnvOrDefault("HTTP_PORT", "8080"),
		ExecutionMode: getEnvOrDefault("EXECUTION_MODE", "paper"),

		Bus: BusConfig{
			MaxQueueSize:     getIntOrDefault("BUS_MAX_QUEUE_SIZE", 1000),
			OverflowPolicy:   OverflowPolicy(getEnvOrDefault("BUS_OVERFLOW_POLICY", "drop")),
			HandlerTimeout:   getDurationMSOrDefault("BUS_HANDLER_TIMEOUT_MS", 5000*time.Millisecond),
			MaxRetryAttempts: getIntOrDefault("BUS_MAX_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:   getDurationMSOrDefault("BUS_RETRY_BASE_DELAY_MS", 100*time.Millisecond),
		},

		Truth: TruthConfig{
			ConfirmThreshold:        getFloat64OrDefault("TRUTH_CONFIRM_THRESHOLD", 0.90),
			MaxWaitMS:               getInt64OrDefault("TRUTH_MAX_WAIT_MS", 10000),
			RequiredSourcesForFinal: getIntOrDefault("TRUTH_REQUIRED_SOURCES", 2),
			AllowedSkewMS:           getInt64OrDefault("TRUTH_ALLOWED_SKEW_MS", 2000),
			TierASources:            getSliceOrDefault("TRUTH_TIER_A_SOURCES", []string{"grid", "official"}),
			TierBSources:            getSliceOrDefault("TRUTH_TIER_B_SOURCES", []string{"pandascore", "opendota"}),
			TierCSources:            getSliceOrDefault("TRUTH_TIER_C_SOURCES", []string{"liquipedia"}),
		},

		Trading: TradingConfig{
			IdleAfterNoOpportunityTicks: getIntOrDefault("TRADING_IDLE_AFTER_TICKS", 100),
			TemporalSignalTTLMS:         getInt64OrDefault("TRADING_TEMPORAL_TTL_MS", 5000),
			PairCostCap:                 getFloat64OrDefault("TRADING_PAIR_COST_CAP", 0.975),
			FeeRate:                     getFloat64OrDefault("TRADING_FEE_RATE", 0.02),
			StepUSDC:                    getFloat64OrDefault("TRADING_STEP_USDC", 25.0),
			MaxTotalCost:                getFloat64OrDefault("TRADING_MAX_TOTAL_COST", 1500.0),
			MaxLegImbalanceUSDC:         getFloat64OrDefault("TRADING_MAX_LEG_IMBALANCE_USDC", 100.0),
			LegShareThreshold:           getFloat64OrDefault("TRADING_LEG_SHARE_THRESHOLD", 20.0),
			MaxConsecutiveRejects:       getIntOrDefault("TRADING_MAX_CONSECUTIVE_REJECTS", 3),
			MaxCancelFailures:           getIntOrDefault("TRADING_MAX_CANCEL_FAILURES", 3),
		},

		Feed: FeedConfig{
			URL:                   getEnvOrDefault("FEED_WS_URL", ""),
			DialTimeout:           getDurationMSOrDefault("FEED_DIAL_TIMEOUT_MS", 10000*time.Millisecond),
			ReconnectInitialDelay: getDurationMSOrDefault("FEED_RECONNECT_INITIAL_DELAY_MS", 1000*time.Millisecond),
			ReconnectMaxDelay:     getDurationMSOrDefault("FEED_RECONNECT_MAX_DELAY_MS", 30000*time.Millisecond),
			ReconnectBackoffMult:  getFloat64OrDefault("FEED_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		},

		Storage: StorageConfig{
			Mode:         getEnvOrDefault("STORAGE_MODE", "console"),
			PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
			PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
			PostgresUser: getEnvOrDefault("POSTGRES_USER", "esports"),
			PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "esports123"),
			PostgresDB:   getEnvOrDefault("POSTGRES_DB", "esports_arb"),
			PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		},

		Sim: SimConfig{
			Episodes:        getIntOrDefault("SIM_EPISODES", 2000),
			StepsPerEpisode: getIntOrDefault("SIM_STEPS", 120),
			SlippageBPS:     getFloat64OrDefault("SIM_SLIPPAGE_BPS", 5.0),
			Volatility:      getFloat64OrDefault("SIM_VOLATILITY", 0.06),
			MeanRevert:      getFloat64OrDefault("SIM_MEAN_REVERT", 0.05),
		},
	}
}

// Validate checks that configuration values are valid. Errors are
// *types.ConfigError; the caller decides whether they abort (live mode)
// or are logged (paper mode).
func (c *Config) Validate() error {
	if c.ExecutionMode != "paper" && c.ExecutionMode != "live" {
		return &types.ConfigError{Option: "EXECUTION_MODE", Reason: fmt.Sprintf("must be 'paper' or 'live', got %q", c.ExecutionMode)}
	}

	switch c.Bus.OverflowPolicy {
	case OverflowDrop, OverflowCoalesce, OverflowBlock, OverflowHalt:
	default:
		return &types.ConfigError{Option: "BUS_OVERFLOW_POLICY", Reason: fmt.Sprintf("unknown policy %q", c.Bus.OverflowPolicy)}
	}

	if c.Bus.MaxQueueSize < 1 {
		return &types.ConfigError{Option: "BUS_MAX_QUEUE_SIZE", Reason: "must be at least 1"}
	}
	if c.Bus.MaxRetryAttempts < 1 {
		return &types.ConfigError{Option: "BUS_MAX_RETRY_ATTEMPTS", Reason: "must be at least 1"}
	}
	if c.Bus.HandlerTimeout <= 0 {
		return &types.ConfigError{Option: "BUS_HANDLER_TIMEOUT_MS", Reason: "must be positive"}
	}

	if c.Truth.ConfirmThreshold <= 0 || c.Truth.ConfirmThreshold > 1 {
		return &types.ConfigError{Option: "TRUTH_CONFIRM_THRESHOLD", Reason: fmt.Sprintf("must be in (0,1], got %f", c.Truth.ConfirmThreshold)}
	}
	if c.Truth.RequiredSourcesForFinal < 1 {
		return &types.ConfigError{Option: "TRUTH_REQUIRED_SOURCES", Reason: "must be at least 1"}
	}
	if c.Truth.AllowedSkewMS < 0 {
		return &types.ConfigError{Option: "TRUTH_ALLOWED_SKEW_MS", Reason: "must be non-negative"}
	}

	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 1 {
		return &types.ConfigError{Option: "TRADING_FEE_RATE", Reason: fmt.Sprintf("must be in [0,1), got %f", c.Trading.FeeRate)}
	}
	if c.Trading.PairCostCap >= 1.0-c.Trading.FeeRate {
		return &types.ConfigError{
			Option: "TRADING_PAIR_COST_CAP",
			Reason: fmt.Sprintf("%f must be < 1 - fee_rate (%f)", c.Trading.PairCostCap, 1.0-c.Trading.FeeRate),
		}
	}
	if c.Trading.StepUSDC <= 0 {
		return &types.ConfigError{Option: "TRADING_STEP_USDC", Reason: "must be positive"}
	}
	if c.Trading.MaxTotalCost <= 0 {
		return &types.ConfigError{Option: "TRADING_MAX_TOTAL_COST", Reason: "must be positive"}
	}

	if c.Storage.Mode != "console" && c.Storage.Mode != "postgres" {
		return &types.ConfigError{Option: "STORAGE_MODE", Reason: fmt.Sprintf("must be 'console' or 'postgres', got %q", c.Storage.Mode)}
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationMSOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return time.Duration(ms) * time.Millisecond
}

func getSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
