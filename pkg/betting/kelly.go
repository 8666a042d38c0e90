package betting

import "math"

// KellyStake returns the recommended stake as a fraction of bankroll.
//
// Parameters:
//   - probability: model win probability (0-1)
//   - odds: decimal payout multiplier (> 1)
//   - kellyFraction: multiplier on full Kelly (0-1), e.g. 0.25 for quarter Kelly
//
// With b = odds - 1 (net payout per unit staked) and q = 1 - probability:
//   - k = (probability*b - q) / b
//   - result = max(0, k * kellyFraction)
//
// Odds of 1 or less leave no edge and return 0. So does any non-finite input.
func KellyStake(probability, odds, kellyFraction float64) float64 {
	if !finite(probability) || !finite(odds) || !finite(kellyFraction) {
		return 0
	}
	if probability < 0 || probability > 1 || kellyFraction <= 0 {
		return 0
	}

	b := odds - 1
	if b <= 0 {
		return 0
	}

	q := 1 - probability
	k := (probability*b - q) / b

	stake := k * kellyFraction
	if stake <= 0 || !finite(stake) {
		return 0
	}
	return stake
}

// RecommendedStake returns the currency stake for an opportunity under the
// profile: fractional Kelly times bankroll, capped at the profile's maximum
// stake percentage of bankroll.
func RecommendedStake(o Opportunity, profile *RiskProfile) float64 {
	if profile == nil || !finite(o.Bankroll) || o.Bankroll <= 0 {
		return 0
	}

	stake := KellyStake(o.Probability, o.Odds, profile.KellyFraction) * o.Bankroll

	// Cap at max stake percentage
	maxStake := o.Bankroll * profile.MaxStakePercentage
	if !finite(maxStake) || maxStake <= 0 {
		return 0
	}
	if stake > maxStake {
		stake = maxStake
	}
	return stake
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
