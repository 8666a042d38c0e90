// Package config loads daemon settings from config.yaml, .env and BETSELECT_* env vars.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/betting"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BETSELECT_SERVER_ADDR.
const EnvPrefix = "BETSELECT"

// ErrUnknownProfile is returned by Profile for names neither configured nor built in.
var ErrUnknownProfile = errors.New("unknown risk profile")

// Config is the daemon configuration.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	RateLimit RateLimitConfig          `mapstructure:"rate_limit"`
	Redis     RedisConfig              `mapstructure:"redis"`
	Stream    StreamConfig             `mapstructure:"stream"`
	Selection SelectionConfig          `mapstructure:"selection"`
	Profiles  map[string]ProfileConfig `mapstructure:"profiles"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Env             string        `mapstructure:"env"`
	ServiceName     string        `mapstructure:"service_name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// RateLimitConfig configures the request rate limiter.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RedisConfig configures the optional Redis Streams emitter.
type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	StreamPrefix   string        `mapstructure:"stream_prefix"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// StreamConfig configures the WebSocket hub.
type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// SelectionConfig holds selection defaults.
type SelectionConfig struct {
	DefaultProfile string `mapstructure:"default_profile"`
}

// ProfileConfig is a risk profile as written in config.yaml.
type ProfileConfig struct {
	MinConfidenceThreshold float64  `mapstructure:"min_confidence_threshold"`
	MaxStakePercentage     float64  `mapstructure:"max_stake_percentage"`
	VolatilityTolerance    float64  `mapstructure:"volatility_tolerance"`
	MaxRiskScore           float64  `mapstructure:"max_risk_score"`
	PreferredSports        []string `mapstructure:"preferred_sports"`
	PreferredMarkets       []string `mapstructure:"preferred_markets"`
	ExcludedEvents         []string `mapstructure:"excluded_events"`
	FoldKeys               bool     `mapstructure:"fold_keys"`
	KellyFraction          float64  `mapstructure:"kelly_fraction"`
	MaxConcurrentBets      int      `mapstructure:"max_concurrent_bets"`
}

// RiskProfile converts the configured values into a betting.RiskProfile.
func (p ProfileConfig) RiskProfile(name string) *betting.RiskProfile {
	return &betting.RiskProfile{
		Name:                   name,
		MinConfidenceThreshold: p.MinConfidenceThreshold,
		MaxStakePercentage:     p.MaxStakePercentage,
		VolatilityTolerance:    p.VolatilityTolerance,
		MaxRiskScore:           p.MaxRiskScore,
		PreferredSports:        betting.NewSet(p.PreferredSports...),
		PreferredMarkets:       betting.NewSet(p.PreferredMarkets...),
		ExcludedEvents:         betting.NewSet(p.ExcludedEvents...),
		FoldKeys:               p.FoldKeys,
		KellyFraction:          p.KellyFraction,
		MaxConcurrentBets:      p.MaxConcurrentBets,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.env", "local")
	v.SetDefault("server.service_name", "betselectd")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("rate_limit.rps", 50.0)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream_prefix", "betselect")
	v.SetDefault("redis.publish_timeout", 2*time.Second)

	v.SetDefault("stream.heartbeat_interval", 30*time.Second)

	v.SetDefault("selection.default_profile", betting.ProfileModerate)
}

// Load reads configuration. path may name a config file; when empty,
// config.yaml is looked up in the working directory and ./config, and a
// missing file is not an error. A .env file, if present, is loaded first
// and BETSELECT_* variables override file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be positive, got %v", c.RateLimit.RPS)
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive, got %d", c.RateLimit.Burst)
	}
	for name, p := range c.Profiles {
		// An omitted list decodes as empty, which would admit nothing.
		if len(p.PreferredSports) == 0 {
			return fmt.Errorf("profile %q: preferred_sports is empty", name)
		}
		if len(p.PreferredMarkets) == 0 {
			return fmt.Errorf("profile %q: preferred_markets is empty", name)
		}
		if err := p.RiskProfile(name).Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}
	if _, err := c.Profile(c.Selection.DefaultProfile); err != nil {
		return fmt.Errorf("selection.default_profile: %w", err)
	}
	return nil
}

// Profile returns the named risk profile. Configured profiles shadow the
// built-in ones. An empty name selects the default profile.
func (c *Config) Profile(name string) (*betting.RiskProfile, error) {
	if name == "" {
		name = c.Selection.DefaultProfile
	}
	key := strings.ToLower(name)
	if p, ok := c.Profiles[key]; ok {
		return p.RiskProfile(key), nil
	}
	if p, ok := betting.BuiltinProfiles()[key]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
}

// ProfileNames lists every resolvable profile name, sorted.
func (c *Config) ProfileNames() []string {
	seen := make(map[string]struct{})
	for name := range betting.BuiltinProfiles() {
		seen[name] = struct{}{}
	}
	for name := range c.Profiles {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
