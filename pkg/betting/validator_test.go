package betting

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// testProfile returns a permissive profile for soccer moneyline bets.
func testProfile() *RiskProfile {
	return &RiskProfile{
		Name:                   "test",
		MinConfidenceThreshold: 0.6,
		MaxStakePercentage:     0.1,
		VolatilityTolerance:    0.5,
		MaxRiskScore:           0.5,
		PreferredSports:        NewSet("soccer"),
		PreferredMarkets:       NewSet("moneyline"),
		ExcludedEvents:         NewSet("ev-excluded"),
		KellyFraction:          0.5,
		MaxConcurrentBets:      3,
	}
}

// validOpportunity passes every check in testProfile.
func validOpportunity() Opportunity {
	return Opportunity{
		EventID:     "ev-1",
		Sport:       "soccer",
		Market:      "moneyline",
		Odds:        2.0,
		Probability: 0.6,
		Confidence:  0.7,
		Stake:       50,
		Bankroll:    1000,
		Volatility:  0.3,
		RiskScore:   0.3,
	}
}

func TestValidate_Valid(t *testing.T) {
	v := NewRiskValidator()

	result := v.Validate(validOpportunity(), testProfile())
	if !result.IsValid {
		t.Fatalf("expected valid opportunity, got reason %q", result.Reason)
	}
	if result.Reason != "" {
		t.Errorf("valid result should have empty reason, got %q", result.Reason)
	}
}

func TestValidate_EachCheck(t *testing.T) {
	v := NewRiskValidator()

	tests := []struct {
		name   string
		mutate func(o *Opportunity)
		want   string
	}{
		{"low confidence", func(o *Opportunity) { o.Confidence = 0.5 }, ReasonLowConfidence},
		{"stake above max percentage", func(o *Opportunity) { o.Stake = 150 }, ReasonStakePercentage},
		{"volatile", func(o *Opportunity) { o.Volatility = 0.9 }, ReasonVolatility},
		{"risky", func(o *Opportunity) { o.RiskScore = 0.9 }, ReasonRiskScore},
		{"other sport", func(o *Opportunity) { o.Sport = "tennis" }, ReasonSportNotPreferred},
		{"other market", func(o *Opportunity) { o.Market = "spread" }, ReasonMarketNotPreferred},
		{"excluded event", func(o *Opportunity) { o.EventID = "ev-excluded" }, ReasonEventExcluded},
		{
			// Half Kelly at p=0.55, even money: 0.05 * 1000 = 50
			"stake above kelly",
			func(o *Opportunity) { o.Probability = 0.55; o.Stake = 60 },
			ReasonKellyStake,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOpportunity()
			tt.mutate(&o)

			result := v.Validate(o, testProfile())
			if result.IsValid {
				t.Fatal("expected rejection")
			}
			if result.Reason != tt.want {
				t.Errorf("reason = %q, want %q", result.Reason, tt.want)
			}
		})
	}
}

func TestValidate_FirstFailureWins(t *testing.T) {
	v := NewRiskValidator()

	o := validOpportunity()
	o.Sport = "tennis"
	o.Confidence = 0.1
	o.EventID = "ev-excluded"

	result := v.Validate(o, testProfile())
	if result.Reason != ReasonLowConfidence {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonLowConfidence)
	}

	o.Confidence = 0.9
	result = v.Validate(o, testProfile())
	if result.Reason != ReasonSportNotPreferred {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonSportNotPreferred)
	}
}

func TestValidate_InvalidInput(t *testing.T) {
	v := NewRiskValidator()

	tests := []struct {
		name    string
		mutate  func(o *Opportunity)
		profile func(p *RiskProfile)
	}{
		{"NaN odds", func(o *Opportunity) { o.Odds = math.NaN() }, nil},
		{"infinite stake", func(o *Opportunity) { o.Stake = math.Inf(1) }, nil},
		{"odds of one", func(o *Opportunity) { o.Odds = 1 }, nil},
		{"probability above one", func(o *Opportunity) { o.Probability = 1.5 }, nil},
		{"negative probability", func(o *Opportunity) { o.Probability = -0.1 }, nil},
		{"nil preferred sports", nil, func(p *RiskProfile) { p.PreferredSports = nil }},
		{"nil preferred markets", nil, func(p *RiskProfile) { p.PreferredMarkets = nil }},
		{"NaN kelly fraction", nil, func(p *RiskProfile) { p.KellyFraction = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := validOpportunity()
			if tt.mutate != nil {
				tt.mutate(&o)
			}
			p := testProfile()
			if tt.profile != nil {
				tt.profile(p)
			}

			result := v.Validate(o, p)
			if result.IsValid || result.Reason != ReasonInvalidInput {
				t.Errorf("got %+v, want invalid input", result)
			}
		})
	}

	if result := v.Validate(validOpportunity(), nil); result.Reason != ReasonInvalidInput {
		t.Errorf("nil profile: got %+v, want invalid input", result)
	}
}

func TestValidate_ReportsInvalidInput(t *testing.T) {
	var got []recordedError
	v := NewRiskValidator(WithValidatorErrorHandler(ErrorHandlerFunc(func(err error, component, operation string) {
		got = append(got, recordedError{err, component, operation})
	})))

	bad := validOpportunity()
	bad.Odds = math.NaN()
	if result := v.Validate(bad, testProfile()); result.Reason != ReasonInvalidInput {
		t.Fatalf("NaN odds: got %+v, want invalid input", result)
	}

	broken := testProfile()
	broken.PreferredMarkets = nil
	if result := v.Validate(validOpportunity(), broken); result.Reason != ReasonInvalidInput {
		t.Fatalf("nil markets: got %+v, want invalid input", result)
	}

	// Business-rule rejections are not errors.
	low := validOpportunity()
	low.Confidence = 0.1
	v.Validate(low, testProfile())

	if len(got) != 2 {
		t.Fatalf("handled errors = %d, want 2", len(got))
	}
	if !errors.Is(got[0].err, ErrInvalidInput) || !errors.Is(got[1].err, ErrMalformedProfile) {
		t.Errorf("errors = %v, %v", got[0].err, got[1].err)
	}
	for _, e := range got {
		if e.component != ComponentValidator || e.operation != OperationValidate {
			t.Errorf("tags = %s/%s, want %s/%s", e.component, e.operation, ComponentValidator, OperationValidate)
		}
	}
}

func TestValidate_FoldKeys(t *testing.T) {
	v := NewRiskValidator()
	p := testProfile()
	p.PreferredSports = NewSet("Fútbol", "soccer")

	o := validOpportunity()
	o.Sport = "  FUTBOL "
	o.Market = "Moneyline"

	if result := v.Validate(o, p); result.Reason != ReasonSportNotPreferred {
		t.Errorf("without FoldKeys got %+v, want sport rejection", result)
	}

	p.FoldKeys = true
	if result := v.Validate(o, p); !result.IsValid {
		t.Errorf("expected folded keys to match, got reason %q", result.Reason)
	}
}

func TestValidate_ExcludedEventsMatchExactly(t *testing.T) {
	v := NewRiskValidator()

	for _, fold := range []bool{false, true} {
		p := testProfile()
		p.ExcludedEvents = NewSet("match-abc")
		p.FoldKeys = fold

		o := validOpportunity()
		o.EventID = "MATCH-ABC"
		if result := v.Validate(o, p); !result.IsValid {
			t.Errorf("fold=%v: distinct event ID rejected: %+v", fold, result)
		}

		o.EventID = "match-abc"
		if result := v.Validate(o, p); result.Reason != ReasonEventExcluded {
			t.Errorf("fold=%v: excluded event got %+v", fold, result)
		}
	}
}

func TestValidate_ReasonNamesFirstViolatedCheck(t *testing.T) {
	v := NewRiskValidator()
	rng := rand.New(rand.NewSource(42))
	p := testProfile()
	sports := []string{"soccer", "tennis"}
	markets := []string{"moneyline", "spread"}
	events := []string{"ev-1", "ev-excluded"}

	for i := 0; i < 2000; i++ {
		o := Opportunity{
			EventID:     events[rng.Intn(len(events))],
			Sport:       sports[rng.Intn(len(sports))],
			Market:      markets[rng.Intn(len(markets))],
			Odds:        1.01 + rng.Float64()*4,
			Probability: rng.Float64(),
			Confidence:  rng.Float64(),
			Stake:       rng.Float64() * 200,
			Bankroll:    1000,
			Volatility:  rng.Float64(),
			RiskScore:   rng.Float64(),
		}

		result := v.Validate(o, p)

		var firstFailed Check
		for _, c := range Checks {
			if !passes(c, o, p) {
				firstFailed = c
				break
			}
		}

		if firstFailed == 0 {
			if !result.IsValid {
				t.Fatalf("case %d: no check fails but got reason %q", i, result.Reason)
			}
			continue
		}
		if result.IsValid {
			t.Fatalf("case %d: check %s fails but result is valid", i, firstFailed)
		}
		if result.Reason != firstFailed.Reason() {
			t.Fatalf("case %d: reason %q, want %q", i, result.Reason, firstFailed.Reason())
		}
	}
}

func TestCheck_String(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range Checks {
		name := c.String()
		if name == "unknown" || seen[name] {
			t.Errorf("check %d has bad name %q", c, name)
		}
		seen[name] = true
	}
	if Check(99).Reason() != ReasonInvalidInput {
		t.Error("unknown check should map to invalid input")
	}
}
