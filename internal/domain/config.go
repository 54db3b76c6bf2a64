package domain

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete Merlin service configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure backends.
	Tier Tier `json:"tier"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// Engine is the initial decision-engine snapshot; later versions are
	// swapped in atomically via the config API.
	Engine *EngineConfig `json:"engine"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, in-process cache and channel bus.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// EngineConfig is an immutable, versioned decision-engine snapshot. Updates
// produce a new snapshot that is validated whole and swapped atomically, so
// concurrent scoring never observes a torn config.
type EngineConfig struct {
	Version string `json:"version"`

	// HomeCountry is the fallback home country for transactions that do not
	// carry one.
	HomeCountry string `json:"homeCountry"`

	// Rules in declared evaluation order.
	Rules []RuleConfig `json:"rules"`

	// Night window for the off-hours rule, local transaction hours.
	// The window wraps midnight when NightStartHour > NightEndHour.
	NightStartHour int `json:"nightStartHour"`
	NightEndHour   int `json:"nightEndHour"`

	// VelocityWindow bounds the count used by the velocity rule.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// Account history retention: at most HistoryWindowSize transactions or
	// HistoryWindowAge, whichever is smaller.
	HistoryWindowSize int           `json:"historyWindowSize"`
	HistoryWindowAge  time.Duration `json:"historyWindowAge"`

	// Score combination weights; must sum to 1.
	RuleWeight       float64 `json:"ruleWeight"`
	AnomalyWeight    float64 `json:"anomalyWeight"`
	ClassifierWeight float64 `json:"classifierWeight"`

	// RuleSaturation is the triggered-weight sum that maps to a full 10 on
	// the normalized rule scale.
	RuleSaturation float64 `json:"ruleSaturation"`

	// Decision thresholds: score < Flag => Allow, < Block => Flag,
	// otherwise Block. Boundaries belong to the higher-risk bucket.
	FlagThreshold  float64 `json:"flagThreshold"`
	BlockThreshold float64 `json:"blockThreshold"`

	// ContributionFloor is the minimum score points an ensemble model must
	// contribute before it is surfaced in the audit reasons.
	ContributionFloor float64 `json:"contributionFloor"`

	// EnsembleTimeout bounds model inference; on timeout the engine
	// degrades to the rule-only score.
	EnsembleTimeout time.Duration `json:"ensembleTimeout"`

	// ReopenWindow is how long after closing an alert may be reopened.
	ReopenWindow time.Duration `json:"reopenWindow"`
}

// DefaultEngineConfig returns the default decision-engine snapshot.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Version:     "default-1",
		HomeCountry: "IE",
		Rules: []RuleConfig{
			{
				ID:        "high-amount",
				Kind:      RuleHighAmount,
				Name:      "High amount",
				Enabled:   true,
				Weight:    3.0,
				Threshold: 5000,
				Reason:    "Unusually high transaction amount",
			},
			{
				ID:      "foreign-transaction",
				Kind:    RuleForeign,
				Name:    "Foreign transaction",
				Enabled: true,
				Weight:  2.0,
				Reason:  "Merchant country differs from home country",
			},
			{
				ID:      "off-hours",
				Kind:    RuleOffHours,
				Name:    "Off-hours",
				Enabled: true,
				Weight:  1.5,
				Reason:  "Transaction at unusual time",
			},
			{
				ID:      "velocity",
				Kind:    RuleVelocity,
				Name:    "Velocity",
				Enabled: true,
				Weight:  2.5,
				Limit:   3,
				Reason:  "Multiple rapid transactions",
			},
			{
				ID:      "new-merchant",
				Kind:    RuleNewMerchant,
				Name:    "New merchant",
				Enabled: true,
				Weight:  1.0,
				Reason:  "First transaction with this merchant",
			},
		},
		NightStartHour:    22,
		NightEndHour:      6,
		VelocityWindow:    10 * time.Minute,
		HistoryWindowSize: 50,
		HistoryWindowAge:  24 * time.Hour,
		RuleWeight:        0.75,
		AnomalyWeight:     0.10,
		ClassifierWeight:  0.15,
		RuleSaturation:    7.5,
		FlagThreshold:     3,
		BlockThreshold:    7,
		ContributionFloor: 0.5,
		EnsembleTimeout:   50 * time.Millisecond,
		ReopenWindow:      30 * 24 * time.Hour,
	}
}

// Validate rejects a snapshot whole; a rejected snapshot must never be
// partially applied.
func (c *EngineConfig) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("%w: version is required", ErrConfigInvalid)
	}
	if c.HomeCountry == "" {
		return fmt.Errorf("%w: home country is required", ErrConfigInvalid)
	}
	sum := c.RuleWeight + c.AnomalyWeight + c.ClassifierWeight
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("%w: combination weights sum to %.4f, want 1", ErrConfigInvalid, sum)
	}
	if c.RuleWeight < 0 || c.AnomalyWeight < 0 || c.ClassifierWeight < 0 {
		return fmt.Errorf("%w: combination weights must be non-negative", ErrConfigInvalid)
	}
	if c.RuleSaturation <= 0 {
		return fmt.Errorf("%w: rule saturation must be positive", ErrConfigInvalid)
	}
	if c.FlagThreshold < 0 || c.BlockThreshold > 10 || c.FlagThreshold >= c.BlockThreshold {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= flag < block <= 10", ErrConfigInvalid)
	}
	if c.NightStartHour < 0 || c.NightStartHour > 23 || c.NightEndHour < 0 || c.NightEndHour > 23 {
		return fmt.Errorf("%w: night window hours must be in [0,23]", ErrConfigInvalid)
	}
	if c.VelocityWindow <= 0 {
		return fmt.Errorf("%w: velocity window must be positive", ErrConfigInvalid)
	}
	if c.HistoryWindowSize <= 0 || c.HistoryWindowAge <= 0 {
		return fmt.Errorf("%w: history window must be positive", ErrConfigInvalid)
	}
	if c.ContributionFloor < 0 {
		return fmt.Errorf("%w: contribution floor must be non-negative", ErrConfigInvalid)
	}
	if c.ReopenWindow < 0 {
		return fmt.Errorf("%w: reopen window must be non-negative", ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if r.ID == "" {
			return fmt.Errorf("%w: rule id is required", ErrConfigInvalid)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate rule id %q", ErrConfigInvalid, r.ID)
		}
		seen[r.ID] = true
		if r.Weight < 0 {
			return fmt.Errorf("%w: rule %s: weight must be non-negative", ErrConfigInvalid, r.ID)
		}
		switch r.Kind {
		case RuleHighAmount:
			if r.Threshold <= 0 {
				return fmt.Errorf("%w: rule %s: threshold must be positive", ErrConfigInvalid, r.ID)
			}
		case RuleVelocity:
			if r.Limit <= 0 {
				return fmt.Errorf("%w: rule %s: limit must be positive", ErrConfigInvalid, r.ID)
			}
		case RuleForeign, RuleOffHours, RuleNewMerchant:
			// No extra parameters.
		case RuleExpression:
			if r.Expression == "" {
				return fmt.Errorf("%w: rule %s: expression is required", ErrConfigInvalid, r.ID)
			}
		default:
			return fmt.Errorf("%w: rule %s: unknown kind %q", ErrConfigInvalid, r.ID, r.Kind)
		}
	}
	return nil
}

// OffHours reports whether hour falls inside the configured night window.
// A wrapping window (22 -> 6) covers [22,24) and [0,6].
func (c *EngineConfig) OffHours(hour int) bool {
	if c.NightStartHour > c.NightEndHour {
		return hour >= c.NightStartHour || hour <= c.NightEndHour
	}
	return hour >= c.NightStartHour && hour <= c.NightEndHour
}

// DefaultConfig returns a Community tier configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./merlin.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "merlin",
		},
		Engine: DefaultEngineConfig(),
	}
}

// ProConfig returns a Pro tier configuration.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "merlin",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
