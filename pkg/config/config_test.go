package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/betting"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.RateLimit.RPS != 50 || cfg.RateLimit.Burst != 100 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by default")
	}
	if cfg.Selection.DefaultProfile != betting.ProfileModerate {
		t.Errorf("DefaultProfile = %q", cfg.Selection.DefaultProfile)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BETSELECT_SERVER_ADDR", ":9999")
	t.Setenv("BETSELECT_REDIS_ENABLED", "true")
	t.Setenv("BETSELECT_RATE_LIMIT_BURST", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q, want :9999", cfg.Server.Addr)
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled should be overridden to true")
	}
	if cfg.RateLimit.Burst != 7 {
		t.Errorf("Burst = %d, want 7", cfg.RateLimit.Burst)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":7070"
  env: prod
redis:
  enabled: true
  stream_prefix: bets
selection:
  default_profile: tight
profiles:
  tight:
    min_confidence_threshold: 0.8
    max_stake_percentage: 0.01
    volatility_tolerance: 0.2
    max_risk_score: 0.3
    preferred_sports: [Soccer]
    preferred_markets: [moneyline]
    excluded_events: [ev-9]
    fold_keys: true
    kelly_fraction: 0.1
    max_concurrent_bets: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" || cfg.Server.Env != "prod" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Redis.StreamPrefix != "bets" {
		t.Errorf("StreamPrefix = %q, want bets", cfg.Redis.StreamPrefix)
	}

	p, err := cfg.Profile("")
	if err != nil {
		t.Fatalf("Profile(default): %v", err)
	}
	if p.Name != "tight" || p.MaxConcurrentBets != 2 || p.KellyFraction != 0.1 {
		t.Errorf("profile = %+v", p)
	}
	if !p.FoldKeys || !p.PreferredSports.ContainsFold("soccer") {
		t.Error("fold_keys should let soccer match Soccer")
	}
	if !p.ExcludedEvents.Contains("ev-9") {
		t.Error("excluded events not loaded")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "bad rate limit",
			body: "rate_limit:\n  rps: 0\n",
		},
		{
			name: "unknown default profile",
			body: "selection:\n  default_profile: nope\n",
		},
		{
			name: "profile without sports",
			body: "profiles:\n  loose:\n    kelly_fraction: 0.5\n    preferred_markets: [moneyline]\n",
		},
		{
			name: "profile without markets",
			body: "profiles:\n  loose:\n    kelly_fraction: 0.5\n    preferred_sports: [soccer]\n",
		},
		{
			name: "malformed profile",
			body: "profiles:\n  broken:\n    kelly_fraction: 2\n    preferred_sports: [soccer]\n    preferred_markets: [moneyline]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Load should fail")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing explicit file should fail")
	}
}

func TestProfile_Builtins(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, name := range []string{betting.ProfileConservative, betting.ProfileModerate, "AGGRESSIVE"} {
		if _, err := cfg.Profile(name); err != nil {
			t.Errorf("Profile(%q): %v", name, err)
		}
	}

	if _, err := cfg.Profile("unknown"); !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("Profile(unknown) error = %v, want ErrUnknownProfile", err)
	}
}

func TestProfileNames(t *testing.T) {
	cfg := &Config{Profiles: map[string]ProfileConfig{"custom": {}, "moderate": {}}}

	got := cfg.ProfileNames()
	want := []string{"aggressive", "conservative", "custom", "moderate"}
	if len(got) != len(want) {
		t.Fatalf("ProfileNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ProfileNames[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
