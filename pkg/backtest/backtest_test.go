package backtest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/betting"

	"github.com/shopspring/decimal"
)

func testProfile() *betting.RiskProfile {
	return &betting.RiskProfile{
		Name:                   "test",
		MinConfidenceThreshold: 0.6,
		MaxStakePercentage:     0.1,
		VolatilityTolerance:    0.5,
		MaxRiskScore:           0.5,
		PreferredSports:        betting.NewSet("soccer"),
		PreferredMarkets:       betting.NewSet("moneyline"),
		ExcludedEvents:         betting.NewSet(),
		KellyFraction:          0.5,
		MaxConcurrentBets:      2,
	}
}

func candidate(id, model string, stake, odds float64, won bool) Candidate {
	return Candidate{
		Opportunity: betting.Opportunity{
			EventID:     id,
			Sport:       "soccer",
			Market:      "moneyline",
			Odds:        odds,
			Probability: 0.7,
			Confidence:  0.8,
			Stake:       stake,
			Volatility:  0.2,
			RiskScore:   0.2,
		},
		Model: model,
		Won:   won,
	}
}

func syntheticRounds() []Round {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cricket := candidate("c", "m1", 10, 2, true)
	cricket.Sport = "cricket"

	// Deliberately out of order; Run sorts by timestamp.
	return []Round{
		{Timestamp: t0.Add(2 * time.Hour), Candidates: []Candidate{
			candidate("e", "m2", 60, 2, false),
		}},
		{Timestamp: t0, Candidates: []Candidate{
			candidate("a", "m1", 50, 2, true),
			candidate("b", "m2", 40, 2, false),
			cricket,
		}},
		{Timestamp: t0.Add(time.Hour), Candidates: []Candidate{
			candidate("d", "m1", 100, 3, true),
		}},
	}
}

func TestNewBacktest(t *testing.T) {
	bt := New(nil)
	if bt == nil {
		t.Fatal("New returned nil")
	}
	if bt.config.Profile == nil || bt.config.InitialBankroll.LessThanOrEqual(decimal.Zero) {
		t.Errorf("default config = %+v", bt.config)
	}
}

func TestBacktestWithSyntheticData(t *testing.T) {
	bt := New(&Config{
		InitialBankroll: decimal.NewFromInt(1000),
		Profile:         testProfile(),
	})
	bt.LoadRounds(syntheticRounds()...)

	result, err := bt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Round 1: a wins +50, b loses -40 -> 1010
	// Round 2: d wins at 3.0 -> +200 -> 1210
	// Round 3: e loses -60 -> 1150
	if !result.FinalBankroll.Equal(decimal.NewFromInt(1150)) {
		t.Errorf("final bankroll = %s, want 1150", result.FinalBankroll)
	}
	if !result.TotalPnL.Equal(decimal.NewFromInt(150)) {
		t.Errorf("pnl = %s, want 150", result.TotalPnL)
	}
	if !result.TotalStaked.Equal(decimal.NewFromInt(250)) {
		t.Errorf("staked = %s, want 250", result.TotalStaked)
	}
	if !result.ROI.Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("roi = %s, want 0.6", result.ROI)
	}
	if result.TotalBets != 4 || result.Wins != 2 || result.Losses != 2 {
		t.Errorf("bets = %d wins = %d losses = %d", result.TotalBets, result.Wins, result.Losses)
	}
	if result.Offered != 5 {
		t.Errorf("offered = %d, want 5", result.Offered)
	}
	if result.Rejections[betting.ReasonSportNotPreferred] != 1 {
		t.Errorf("rejections = %v", result.Rejections)
	}

	wantDrawdown := decimal.NewFromInt(60).Div(decimal.NewFromInt(1210))
	if !result.MaxDrawdown.Equal(wantDrawdown) {
		t.Errorf("max drawdown = %s, want %s", result.MaxDrawdown, wantDrawdown)
	}

	if len(result.EquityCurve) != 3 {
		t.Fatalf("equity points = %d, want 3", len(result.EquityCurve))
	}
	if !result.EquityCurve[0].Timestamp.Before(result.EquityCurve[1].Timestamp) {
		t.Error("rounds should replay in timestamp order")
	}

	if len(result.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(result.Models))
	}
	m1 := result.Models[0]
	if m1.Model != "m1" || !m1.Profit.Equal(decimal.NewFromInt(250)) {
		t.Errorf("m1 = %+v, want profit 250", m1)
	}
	m2 := result.Models[1]
	if m2.Model != "m2" || !m2.Profit.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("m2 = %+v, want profit -100", m2)
	}
}

func TestBacktestSettlesEachMarketSeparately(t *testing.T) {
	profile := testProfile()
	profile.PreferredMarkets = betting.NewSet("moneyline", "totals")

	moneyline := candidate("evt-1", "elo", 100, 2, false)
	totals := candidate("evt-1", "poisson", 50, 2, true)
	totals.Market = "totals"

	bt := New(&Config{InitialBankroll: decimal.NewFromInt(1000), Profile: profile})
	bt.LoadRounds(Round{Timestamp: time.Now(), Candidates: []Candidate{moneyline, totals}})

	result, err := bt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Bets) != 2 {
		t.Fatalf("bets = %d, want 2", len(result.Bets))
	}

	for _, bet := range result.Bets {
		switch bet.Market {
		case "moneyline":
			if bet.Model != "elo" || bet.Won || !bet.PnL.Equal(decimal.NewFromInt(-100)) {
				t.Errorf("moneyline bet = %+v", bet)
			}
		case "totals":
			if bet.Model != "poisson" || !bet.Won || !bet.PnL.Equal(decimal.NewFromInt(50)) {
				t.Errorf("totals bet = %+v", bet)
			}
		default:
			t.Errorf("unexpected market %q", bet.Market)
		}
	}

	if result.Wins != 1 || result.Losses != 1 {
		t.Errorf("wins = %d losses = %d, want 1 and 1", result.Wins, result.Losses)
	}
	if !result.FinalBankroll.Equal(decimal.NewFromInt(950)) {
		t.Errorf("final bankroll = %s, want 950", result.FinalBankroll)
	}
	if len(result.Models) != 2 {
		t.Fatalf("models = %+v, want elo and poisson", result.Models)
	}
	if m := result.Models[0]; m.Model != "elo" || m.Losses != 1 || m.Wins != 0 {
		t.Errorf("elo = %+v", m)
	}
	if m := result.Models[1]; m.Model != "poisson" || m.Wins != 1 || !m.Profit.Equal(decimal.NewFromInt(50)) {
		t.Errorf("poisson = %+v", m)
	}
}

func TestBacktestRecommendedStake(t *testing.T) {
	bt := New(&Config{
		InitialBankroll:     decimal.NewFromInt(1000),
		Profile:             testProfile(),
		UseRecommendedStake: true,
	})
	bt.LoadRounds(Round{
		Timestamp:  time.Now(),
		Candidates: []Candidate{candidate("a", "", 50, 2, true)},
	})

	result, err := bt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Bets) != 1 {
		t.Fatalf("bets = %d, want 1", len(result.Bets))
	}

	// Half Kelly on p=0.7, odds=2 is 20% of bankroll, capped at 10%.
	if !result.Bets[0].Stake.Equal(decimal.NewFromInt(100)) {
		t.Errorf("stake = %s, want 100", result.Bets[0].Stake)
	}
	if result.Bets[0].Model != DefaultModel {
		t.Errorf("model = %q, want %q", result.Bets[0].Model, DefaultModel)
	}
}

func TestBacktestErrors(t *testing.T) {
	if _, err := New(nil).Run(context.Background()); err == nil {
		t.Error("Run with no data should fail")
	}

	bad := testProfile()
	bad.PreferredSports = nil
	bt := New(&Config{InitialBankroll: decimal.NewFromInt(100), Profile: bad})
	bt.LoadRounds(syntheticRounds()...)
	if _, err := bt.Run(context.Background()); err == nil {
		t.Error("Run with malformed profile should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bt = New(&Config{InitialBankroll: decimal.NewFromInt(100), Profile: testProfile()})
	bt.LoadRounds(syntheticRounds()...)
	if _, err := bt.Run(ctx); err != context.Canceled {
		t.Errorf("Run with cancelled context error = %v, want context.Canceled", err)
	}
}

func TestLoadDataFromCSV(t *testing.T) {
	csvData := strings.Join([]string{
		"timestamp,event_id,sport,market,odds,probability,confidence,stake,volatility,risk_score,model,won",
		"2026-03-01T12:00:00Z,a,soccer,moneyline,2,0.7,0.8,50,0.2,0.2,m1,true",
		"2026-03-01T12:00:00Z,b,soccer,moneyline,2,0.7,0.8,40,0.2,0.2,m2,false",
		"1772373600,d,soccer,moneyline,3,0.7,0.8,100,0.2,0.2,m1,true",
	}, "\n")

	path := filepath.Join(t.TempDir(), "rounds.csv")
	if err := os.WriteFile(path, []byte(csvData), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	bt := New(&Config{InitialBankroll: decimal.NewFromInt(1000), Profile: testProfile()})
	if err := bt.LoadDataFromCSV(path); err != nil {
		t.Fatalf("LoadDataFromCSV: %v", err)
	}
	if len(bt.rounds) != 2 {
		t.Fatalf("rounds = %d, want 2", len(bt.rounds))
	}

	result, err := bt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.FinalBankroll.Equal(decimal.NewFromInt(1210)) {
		t.Errorf("final bankroll = %s, want 1210", result.FinalBankroll)
	}
}

func TestLoadDataFromCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing column", "timestamp,event_id,won\n2026-03-01T12:00:00Z,a,true"},
		{"bad timestamp", "timestamp,event_id,odds,won\nyesterday,a,2,true"},
		{"bad odds", "timestamp,event_id,odds,won\n2026-03-01T12:00:00Z,a,two,true"},
		{"bad won", "timestamp,event_id,odds,won\n2026-03-01T12:00:00Z,a,2,maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := New(nil).loadCSV(strings.NewReader(tt.data)); err == nil {
				t.Error("loadCSV should fail")
			}
		})
	}
}

func TestLoadDataFromJSON(t *testing.T) {
	data := `[{"timestamp":"2026-03-01T12:00:00Z","candidates":[
		{"event_id":"a","sport":"soccer","market":"moneyline","odds":2,"probability":0.7,
		 "confidence":0.8,"stake":50,"volatility":0.2,"risk_score":0.2,"model":"m1","won":true}]}]`

	path := filepath.Join(t.TempDir(), "rounds.json")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	bt := New(nil)
	if err := bt.LoadDataFromJSON(path); err != nil {
		t.Fatalf("LoadDataFromJSON: %v", err)
	}
	if len(bt.rounds) != 1 || len(bt.rounds[0].Candidates) != 1 {
		t.Fatalf("rounds = %+v", bt.rounds)
	}
	c := bt.rounds[0].Candidates[0]
	if c.EventID != "a" || c.Model != "m1" || !c.Won || c.Stake != 50 {
		t.Errorf("candidate = %+v", c)
	}
}
