package betting

// Built-in profile names.
const (
	ProfileConservative = "conservative"
	ProfileModerate     = "moderate"
	ProfileAggressive   = "aggressive"
)

var defaultSports = []string{"soccer", "basketball", "tennis", "american_football", "baseball", "hockey"}

var defaultMarkets = []string{"moneyline", "spread", "totals", "match_winner", "both_teams_to_score"}

// DefaultRiskProfile returns the moderate profile.
func DefaultRiskProfile() *RiskProfile {
	return &RiskProfile{
		Name:                   ProfileModerate,
		MinConfidenceThreshold: 0.65,
		MaxStakePercentage:     0.05, // 5% of bankroll
		VolatilityTolerance:    0.5,
		MaxRiskScore:           0.6,
		PreferredSports:        NewSet(defaultSports...),
		PreferredMarkets:       NewSet(defaultMarkets...),
		ExcludedEvents:         NewSet(),
		KellyFraction:          0.25, // Quarter Kelly
		MaxConcurrentBets:      5,
	}
}

// ConservativeRiskProfile returns tight limits for small, confident bets.
func ConservativeRiskProfile() *RiskProfile {
	return &RiskProfile{
		Name:                   ProfileConservative,
		MinConfidenceThreshold: 0.75,
		MaxStakePercentage:     0.02,
		VolatilityTolerance:    0.3,
		MaxRiskScore:           0.4,
		PreferredSports:        NewSet(defaultSports...),
		PreferredMarkets:       NewSet("moneyline", "match_winner"),
		ExcludedEvents:         NewSet(),
		KellyFraction:          0.1,
		MaxConcurrentBets:      3,
	}
}

// AggressiveRiskProfile returns loose limits.
func AggressiveRiskProfile() *RiskProfile {
	return &RiskProfile{
		Name:                   ProfileAggressive,
		MinConfidenceThreshold: 0.55,
		MaxStakePercentage:     0.1,
		VolatilityTolerance:    0.8,
		MaxRiskScore:           0.8,
		PreferredSports:        NewSet(defaultSports...),
		PreferredMarkets:       NewSet(defaultMarkets...),
		ExcludedEvents:         NewSet(),
		KellyFraction:          0.5,
		MaxConcurrentBets:      10,
	}
}

// BuiltinProfiles returns every built-in profile keyed by name.
func BuiltinProfiles() map[string]*RiskProfile {
	return map[string]*RiskProfile{
		ProfileConservative: ConservativeRiskProfile(),
		ProfileModerate:     DefaultRiskProfile(),
		ProfileAggressive:   AggressiveRiskProfile(),
	}
}
