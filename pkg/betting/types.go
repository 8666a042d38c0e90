// Package betting validates betting opportunities against a risk profile,
// sizes stakes with fractional Kelly and selects the best bets by expected value.
package betting

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrMalformedProfile is returned when a risk profile cannot be used for selection.
	ErrMalformedProfile = errors.New("malformed risk profile")

	// ErrInvalidInput is returned when an opportunity has an unusable shape.
	ErrInvalidInput = errors.New("invalid input")
)

// Opportunity is a single betting opportunity.
type Opportunity struct {
	EventID     string  `json:"event_id"`
	Sport       string  `json:"sport"`
	Market      string  `json:"market"`
	Odds        float64 `json:"odds"`        // Decimal payout multiplier, > 1
	Probability float64 `json:"probability"` // Model win probability (0-1)
	Confidence  float64 `json:"confidence"`  // 0-1
	Stake       float64 `json:"stake"`       // Proposed amount
	Bankroll    float64 `json:"bankroll"`    // Available capital
	Volatility  float64 `json:"volatility"`  // 0-1
	RiskScore   float64 `json:"risk_score"`  // 0-1
}

// ExpectedValue returns the confidence-weighted net profit of the proposed stake.
//
//	EV = c * stake * (odds - 1) - (1 - c) * stake
func (o Opportunity) ExpectedValue() float64 {
	return o.Confidence*o.Stake*(o.Odds-1) - (1-o.Confidence)*o.Stake
}

// checkShape reports whether every numeric field is usable.
func (o Opportunity) checkShape() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"odds", o.Odds},
		{"probability", o.Probability},
		{"confidence", o.Confidence},
		{"stake", o.Stake},
		{"bankroll", o.Bankroll},
		{"volatility", o.Volatility},
		{"risk_score", o.RiskScore},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidInput, f.name)
		}
	}
	if o.Odds <= 1 {
		return fmt.Errorf("%w: odds %.4f must be greater than 1", ErrInvalidInput, o.Odds)
	}
	if o.Probability < 0 || o.Probability > 1 {
		return fmt.Errorf("%w: probability %.4f outside [0,1]", ErrInvalidInput, o.Probability)
	}
	return nil
}

// RiskProfile is a named bundle of thresholds constraining which
// opportunities are acceptable.
type RiskProfile struct {
	Name string `json:"name"`

	// Thresholds
	MinConfidenceThreshold float64 `json:"min_confidence_threshold"`
	MaxStakePercentage     float64 `json:"max_stake_percentage"` // Fraction of bankroll (0-1)
	VolatilityTolerance    float64 `json:"volatility_tolerance"`
	MaxRiskScore           float64 `json:"max_risk_score"`

	// Restrictions. A nil set is a configuration error, an empty set admits nothing.
	PreferredSports  Set `json:"preferred_sports"`
	PreferredMarkets Set `json:"preferred_markets"`
	ExcludedEvents   Set `json:"excluded_events"`

	// FoldKeys matches sports and markets ignoring case, accents and spacing.
	// Event IDs always match exactly.
	FoldKeys bool `json:"fold_keys,omitempty"`

	// Sizing
	KellyFraction     float64 `json:"kelly_fraction"` // Multiplier on full Kelly (0-1)
	MaxConcurrentBets int     `json:"max_concurrent_bets"`
}

// Validate reports whether the profile is usable for selection.
func (p *RiskProfile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: profile is nil", ErrMalformedProfile)
	}
	if p.PreferredSports == nil {
		return fmt.Errorf("%w: preferred_sports is not set", ErrMalformedProfile)
	}
	if p.PreferredMarkets == nil {
		return fmt.Errorf("%w: preferred_markets is not set", ErrMalformedProfile)
	}
	thresholds := []struct {
		name  string
		value float64
	}{
		{"min_confidence_threshold", p.MinConfidenceThreshold},
		{"max_stake_percentage", p.MaxStakePercentage},
		{"volatility_tolerance", p.VolatilityTolerance},
		{"max_risk_score", p.MaxRiskScore},
		{"kelly_fraction", p.KellyFraction},
	}
	for _, th := range thresholds {
		if math.IsNaN(th.value) || math.IsInf(th.value, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrMalformedProfile, th.name)
		}
	}
	if p.KellyFraction < 0 || p.KellyFraction > 1 {
		return fmt.Errorf("%w: kelly_fraction %.4f outside [0,1]", ErrMalformedProfile, p.KellyFraction)
	}
	if p.MaxConcurrentBets < 0 {
		return fmt.Errorf("%w: max_concurrent_bets %d is negative", ErrMalformedProfile, p.MaxConcurrentBets)
	}
	return nil
}

// ValidationResult is the outcome of validating one opportunity.
type ValidationResult struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason,omitempty"`
}

// Set is a set of string keys, stored as given.
type Set map[string]struct{}

// NewSet creates a set holding the given keys. It never returns nil.
func NewSet(keys ...string) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Add inserts a key.
func (s Set) Add(key string) {
	s[key] = struct{}{}
}

// Contains reports whether key is in the set. A nil set contains nothing.
func (s Set) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

// ContainsFold reports whether a member equals key after NormalizeKey.
func (s Set) ContainsFold(key string) bool {
	if s.Contains(key) {
		return true
	}
	want := NormalizeKey(key)
	for k := range s {
		if NormalizeKey(k) == want {
			return true
		}
	}
	return false
}

// Keys returns the keys in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the set as a sorted list. A nil set encodes as null.
func (s Set) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.Keys())
}

// UnmarshalJSON decodes a list of keys. null leaves the set nil.
func (s *Set) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewSet(keys...)
	return nil
}

// NormalizeKey folds a sport or market key for comparison:
// lower case, accents removed, whitespace collapsed.
func NormalizeKey(key string) string {
	key = strings.ToLower(key)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	key, _, _ = transform.String(t, key)

	return strings.Join(strings.Fields(key), " ")
}
