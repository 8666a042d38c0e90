// Package backtest replays settled opportunities through the bet selector
// to measure how a risk profile would have performed.
package backtest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/betting"

	"github.com/shopspring/decimal"
)

// DefaultModel is used for candidates that name no prediction model.
const DefaultModel = "default"

// Candidate is an opportunity with its known outcome.
type Candidate struct {
	betting.Opportunity
	Model string `json:"model,omitempty"`
	Won   bool   `json:"won"`
}

// Round is a set of opportunities offered at the same time.
type Round struct {
	Timestamp  time.Time   `json:"timestamp"`
	Candidates []Candidate `json:"candidates"`
}

// Config holds backtest configuration.
type Config struct {
	InitialBankroll decimal.Decimal
	Profile         *betting.RiskProfile

	// UseRecommendedStake stakes the Kelly-sized recommendation instead of
	// the candidate's proposed stake.
	UseRecommendedStake bool

	Events betting.EventEmitter
	Errors betting.ErrorHandler
}

// DefaultConfig returns default backtest configuration.
func DefaultConfig() *Config {
	return &Config{
		InitialBankroll: decimal.NewFromInt(10000),
		Profile:         betting.DefaultRiskProfile(),
	}
}

// Result holds backtest results.
type Result struct {
	StartTime       time.Time            `json:"start_time"`
	EndTime         time.Time            `json:"end_time"`
	Rounds          int                  `json:"rounds"`
	Profile         string               `json:"profile"`
	InitialBankroll decimal.Decimal      `json:"initial_bankroll"`
	FinalBankroll   decimal.Decimal      `json:"final_bankroll"`
	TotalPnL        decimal.Decimal      `json:"total_pnl"`
	TotalReturn     decimal.Decimal      `json:"total_return"` // Percentage
	TotalStaked     decimal.Decimal      `json:"total_staked"`
	ROI             decimal.Decimal      `json:"roi"`
	TotalBets       int                  `json:"total_bets"`
	Wins            int                  `json:"wins"`
	Losses          int                  `json:"losses"`
	WinRate         decimal.Decimal      `json:"win_rate"`
	MaxDrawdown     decimal.Decimal      `json:"max_drawdown"`
	Offered         int                  `json:"offered"`
	Rejections      map[string]int       `json:"rejections"`
	Models          []betting.ModelStats `json:"models"`
	Bets            []BetRecord          `json:"bets,omitempty"`
	EquityCurve     []EquityPoint        `json:"equity_curve,omitempty"`
}

// BetRecord records a single settled bet during backtest.
type BetRecord struct {
	Timestamp     time.Time       `json:"timestamp"`
	EventID       string          `json:"event_id"`
	Market        string          `json:"market"`
	Model         string          `json:"model"`
	Odds          float64         `json:"odds"`
	ExpectedValue float64         `json:"expected_value"`
	Stake         decimal.Decimal `json:"stake"`
	Won           bool            `json:"won"`
	PnL           decimal.Decimal `json:"pnl"`
}

// EquityPoint records bankroll after a round.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}

// Backtest replays historical rounds.
type Backtest struct {
	config *Config
	rounds []Round
}

// New creates a new backtest.
func New(config *Config) *Backtest {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Profile == nil {
		config.Profile = betting.DefaultRiskProfile()
	}
	return &Backtest{config: config}
}

// LoadRounds adds rounds to replay.
func (bt *Backtest) LoadRounds(rounds ...Round) {
	bt.rounds = append(bt.rounds, rounds...)
}

// LoadDataFromJSON loads a JSON array of rounds.
func (bt *Backtest) LoadDataFromJSON(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var rounds []Round
	if err := json.NewDecoder(file).Decode(&rounds); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}

	bt.LoadRounds(rounds...)
	return nil
}

// LoadDataFromCSV loads one candidate per row; rows sharing a timestamp form a round.
// Expected columns: timestamp, event_id, sport, market, odds, probability,
// confidence, stake, volatility, risk_score, model, won
func (bt *Backtest) LoadDataFromCSV(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return bt.loadCSV(file)
}

func (bt *Backtest) loadCSV(r io.Reader) error {
	reader := csv.NewReader(r)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	// Build column index
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(col)] = i
	}
	for _, required := range []string{"timestamp", "event_id", "odds", "won"} {
		if _, ok := colIndex[required]; !ok {
			return fmt.Errorf("missing column %q", required)
		}
	}

	byTime := make(map[time.Time]*Round)
	line := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read record: %w", err)
		}
		line++

		field := func(name string) string {
			if idx, ok := colIndex[name]; ok && idx < len(record) {
				return strings.TrimSpace(record[idx])
			}
			return ""
		}
		number := func(name string) (float64, error) {
			raw := field(name)
			if raw == "" {
				return 0, nil
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return 0, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			return v, nil
		}

		ts, err := parseTimestamp(field("timestamp"))
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		won, err := strconv.ParseBool(field("won"))
		if err != nil {
			return fmt.Errorf("line %d: won: %w", line, err)
		}

		c := Candidate{
			Opportunity: betting.Opportunity{
				EventID: field("event_id"),
				Sport:   field("sport"),
				Market:  field("market"),
			},
			Model: field("model"),
			Won:   won,
		}
		for name, dst := range map[string]*float64{
			"odds":        &c.Odds,
			"probability": &c.Probability,
			"confidence":  &c.Confidence,
			"stake":       &c.Stake,
			"volatility":  &c.Volatility,
			"risk_score":  &c.RiskScore,
		} {
			if *dst, err = number(name); err != nil {
				return err
			}
		}

		round, ok := byTime[ts]
		if !ok {
			round = &Round{Timestamp: ts}
			byTime[ts] = round
		}
		round.Candidates = append(round.Candidates, c)
	}

	for _, round := range byTime {
		bt.LoadRounds(*round)
	}
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(ts, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// rejectionCounter counts validation failures by reason.
type rejectionCounter map[string]int

func (c rejectionCounter) Emit(name string, payload any) {
	if p, ok := payload.(betting.ValidationFailedPayload); ok && name == betting.EventValidationFailed {
		c[p.Reason]++
	}
}

// Run replays every loaded round in timestamp order. Each round is selected
// against the bankroll at its start and settled before the next one.
func (bt *Backtest) Run(ctx context.Context) (*Result, error) {
	if len(bt.rounds) == 0 {
		return nil, fmt.Errorf("no historical data loaded")
	}
	if err := bt.config.Profile.Validate(); err != nil {
		return nil, err
	}

	rounds := make([]Round, len(bt.rounds))
	copy(rounds, bt.rounds)
	sort.SliceStable(rounds, func(i, j int) bool {
		return rounds[i].Timestamp.Before(rounds[j].Timestamp)
	})

	rejections := rejectionCounter{}
	selector := betting.NewSelector(
		betting.NewRiskValidator(),
		betting.MultiEmitter{rejections, bt.config.Events},
		bt.config.Errors,
		nil,
	)

	result := &Result{
		StartTime:       rounds[0].Timestamp,
		EndTime:         rounds[len(rounds)-1].Timestamp,
		Rounds:          len(rounds),
		Profile:         bt.config.Profile.Name,
		InitialBankroll: bt.config.InitialBankroll,
		Rejections:      rejections,
	}

	bankroll := bt.config.InitialBankroll
	peak := bankroll
	maxDrawdown := decimal.Zero

	for _, round := range rounds {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bankrollF := bankroll.InexactFloat64()
		opportunities := make([]betting.Opportunity, len(round.Candidates))
		for i, c := range round.Candidates {
			o := c.Opportunity
			o.Bankroll = bankrollF
			opportunities[i] = o
		}
		result.Offered += len(opportunities)

		available := bankroll
		for _, bet := range selector.SelectRanked(opportunities, bt.config.Profile) {
			c := round.Candidates[bet.Index]

			stakeF := bet.Opportunity.Stake
			if bt.config.UseRecommendedStake {
				stakeF = bet.RecommendedStake
			}
			stake := decimal.NewFromFloat(stakeF)
			if stake.GreaterThan(available) {
				stake = available
			}
			if !stake.IsPositive() {
				continue
			}
			available = available.Sub(stake)

			payout := decimal.Zero
			pnl := stake.Neg()
			if c.Won {
				payout = stake.Mul(decimal.NewFromFloat(bet.Opportunity.Odds))
				pnl = payout.Sub(stake)
			}
			bankroll = bankroll.Add(pnl)

			model := c.Model
			if model == "" {
				model = DefaultModel
			}
			if _, err := selector.UpdateModelPerformance(model, betting.BetResult{
				Won:    c.Won,
				Payout: payout.InexactFloat64(),
				Stake:  stake.InexactFloat64(),
			}); err != nil {
				return nil, fmt.Errorf("settle %s: %w", c.EventID, err)
			}

			result.TotalBets++
			if c.Won {
				result.Wins++
			} else {
				result.Losses++
			}
			result.TotalStaked = result.TotalStaked.Add(stake)
			result.Bets = append(result.Bets, BetRecord{
				Timestamp:     round.Timestamp,
				EventID:       c.EventID,
				Market:        c.Market,
				Model:         model,
				Odds:          bet.Opportunity.Odds,
				ExpectedValue: bet.ExpectedValue,
				Stake:         stake,
				Won:           c.Won,
				PnL:           pnl,
			})
		}

		// Track peak and drawdown
		if bankroll.GreaterThan(peak) {
			peak = bankroll
		}
		drawdown := decimal.Zero
		if peak.IsPositive() {
			drawdown = peak.Sub(bankroll).Div(peak)
		}
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: round.Timestamp,
			Equity:    bankroll,
			Drawdown:  drawdown,
		})
	}

	result.FinalBankroll = bankroll
	result.TotalPnL = bankroll.Sub(bt.config.InitialBankroll)
	result.MaxDrawdown = maxDrawdown
	result.Models = selector.Models().Snapshot()

	if !bt.config.InitialBankroll.IsZero() {
		result.TotalReturn = result.TotalPnL.Div(bt.config.InitialBankroll).Mul(decimal.NewFromInt(100))
	}
	if !result.TotalStaked.IsZero() {
		result.ROI = result.TotalPnL.Div(result.TotalStaked)
	}
	if result.TotalBets > 0 {
		result.WinRate = decimal.NewFromInt(int64(result.Wins)).Div(decimal.NewFromInt(int64(result.TotalBets)))
	}

	return result, nil
}
