package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"github.com/origins-protocol/opr/internal/types"
	"github.com/origins-protocol/opr/internal/utils"
)

type sdkDec = sdkmath.LegacyDec

// Config is the full application configuration, loaded from a TOML file with
// secret values overlaid from environment variables. Validation happens once
// at startup; an invalid configuration is fatal and the core never sees it.
type Config struct {
	RPCURL                 string `toml:"rpc_url"`
	OriginsContractAddress string `toml:"origins_contract_address"`
	PositionThreshold      string `toml:"position_threshold"`      // Minimum notional in USD, decimal string
	RecommendationInterval string `toml:"recommendation_interval"` // Duration between cycles, e.g. "5m"
	MaxPositions           int    `toml:"max_positions"`
	LogLevel               string `toml:"log_level"`

	Engine    EngineConfig    `toml:"engine"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Subgraph  SubgraphConfig  `toml:"subgraph"`
	Database  DatabaseConfig  `toml:"database"`
	Web       WebConfig       `toml:"web"`

	// Parsed forms, populated by Load after validation.
	Interval time.Duration          `toml:"-"`
	Params   types.EngineParameters `toml:"-"`
}

// EngineConfig holds the scoring weights and cutoffs as decimal strings so
// values survive the file round-trip without floating point drift.
type EngineConfig struct {
	WRisk               string `toml:"w_risk"`
	WLiquidity          string `toml:"w_liquidity"`
	CriticalRiskCutoff  string `toml:"critical_risk_cutoff"`
	RebalanceRiskCutoff string `toml:"rebalance_risk_cutoff"`
	OpenLiquidityFloor  string `toml:"open_liquidity_floor"`
	SafeHealthRatio     string `toml:"safe_health_ratio"`
	DepthEpsilon        string `toml:"depth_epsilon"`
	MaxStaleness        string `toml:"max_staleness"`
}

// SchedulerConfig bounds cycle execution.
type SchedulerConfig struct {
	StageTimeout          string `toml:"stage_timeout"` // Deadline per stage (fetch, analyze, rank, emit)
	AllowPartialSnapshots bool   `toml:"allow_partial_snapshots"`
}

// SubgraphConfig points at the market data subgraph.
type SubgraphConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"` // Overridden by SUBGRAPH_API_KEY when set
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"` // Overridden by DB_PASSWORD when set
	DBName   string `toml:"dbname"`
	SSLMode  string `toml:"sslmode"`
}

// WebConfig holds the dashboard/API server settings.
type WebConfig struct {
	Port string `toml:"port"`
}

// Load reads, overlays, parses, and validates the configuration file.
func Load(path string) (*Config, error) {
	log.Info().Str("path", path).Msg("Loading application configuration...")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("rpcURL", cfg.RPCURL).
		Str("contract", cfg.OriginsContractAddress).
		Dur("interval", cfg.Interval).
		Int("maxPositions", cfg.MaxPositions).
		Msg("Configuration loaded successfully.")

	return cfg, nil
}

// defaults returns a Config pre-filled with the documented default curve and
// weights (see Parameters.go); the TOML file overrides selectively.
func defaults() *Config {
	return &Config{
		PositionThreshold:      DefaultPositionThreshold,
		RecommendationInterval: DefaultRecommendationInterval,
		MaxPositions:           DefaultMaxPositions,
		LogLevel:               "info",
		Engine:                 DefaultEngineConfig,
		Scheduler: SchedulerConfig{
			StageTimeout:          DefaultStageTimeout,
			AllowPartialSnapshots: false,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Web: WebConfig{Port: "8080"},
	}
}

// applyEnvOverrides overlays secrets and operational overrides from the
// environment (populated via godotenv in main).
func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv("RPC_URL"); ok {
		c.RPCURL = v
	}
	if v, ok := os.LookupEnv("SUBGRAPH_API_KEY"); ok {
		c.Subgraph.APIKey = v
	}
	if v, ok := os.LookupEnv("DB_PASSWORD"); ok {
		c.Database.Password = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
}

// finalize parses string fields into their typed forms and validates the lot.
func (c *Config) finalize() error {
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if !utils.IsHexAddress(c.OriginsContractAddress) {
		return fmt.Errorf("origins_contract_address %q is not a valid contract address", c.OriginsContractAddress)
	}
	if c.MaxPositions < 0 {
		return errors.New("max_positions cannot be negative")
	}
	if c.Subgraph.URL == "" {
		return errors.New("subgraph.url is required")
	}

	interval, err := time.ParseDuration(c.RecommendationInterval)
	if err != nil || interval <= 0 {
		return fmt.Errorf("recommendation_interval %q is not a positive duration", c.RecommendationInterval)
	}
	c.Interval = interval

	stageTimeout, err := time.ParseDuration(c.Scheduler.StageTimeout)
	if err != nil || stageTimeout <= 0 {
		return fmt.Errorf("scheduler.stage_timeout %q is not a positive duration", c.Scheduler.StageTimeout)
	}

	maxStaleness, err := time.ParseDuration(c.Engine.MaxStaleness)
	if err != nil || maxStaleness <= 0 {
		return fmt.Errorf("engine.max_staleness %q is not a positive duration", c.Engine.MaxStaleness)
	}

	params := types.EngineParameters{
		MaxPositions: c.MaxPositions,
		MaxStaleness: maxStaleness,
	}
	decFields := []struct {
		name string
		src  string
		dst  *sdkDec
	}{
		{"engine.w_risk", c.Engine.WRisk, &params.WRisk},
		{"engine.w_liquidity", c.Engine.WLiquidity, &params.WLiquidity},
		{"engine.critical_risk_cutoff", c.Engine.CriticalRiskCutoff, &params.CriticalRiskCutoff},
		{"engine.rebalance_risk_cutoff", c.Engine.RebalanceRiskCutoff, &params.RebalanceRiskCutoff},
		{"engine.open_liquidity_floor", c.Engine.OpenLiquidityFloor, &params.OpenLiquidityFloor},
		{"engine.safe_health_ratio", c.Engine.SafeHealthRatio, &params.SafeHealthRatio},
		{"engine.depth_epsilon", c.Engine.DepthEpsilon, &params.DepthEpsilon},
		{"position_threshold", c.PositionThreshold, &params.PositionThreshold},
	}
	for _, f := range decFields {
		dec, err := utils.ParseDec(f.src)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = dec
	}

	if err := params.Validate(); err != nil {
		return fmt.Errorf("engine parameters invalid: %w", err)
	}
	c.Params = params

	return nil
}

// StageTimeout returns the parsed per-stage deadline. finalize guarantees the
// string parses.
func (c *Config) StageTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.StageTimeout)
	return d
}
