// backtest replays settled opportunities through the bet selector and
// reports how a risk profile would have performed.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/backtest"
	"github.com/phenomenon0/betting-analytics/pkg/betting"
	"github.com/phenomenon0/betting-analytics/pkg/config"
	"github.com/phenomenon0/betting-analytics/pkg/logging"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// Input flags
	dataFile   = flag.String("data", "", "Path to historical rounds (JSON or CSV)")
	configPath = flag.String("config", "", "Path to config file for named profiles")
	profile    = flag.String("profile", "", "Risk profile name (default: selection.default_profile)")
	outputFile = flag.String("output", "", "Output file for results (JSON or CSV)")

	// Backtest flags
	bankroll    = flag.Float64("bankroll", 10000, "Initial bankroll")
	recommended = flag.Bool("recommended", false, "Stake the Kelly recommendation instead of the proposed stake")
	verbose     = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()

	log, err := logging.New("backtest", "local")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	risk, err := cfg.Profile(*profile)
	if err != nil {
		log.Fatal("failed to resolve profile", zap.Error(err))
	}

	bt := backtest.New(&backtest.Config{
		InitialBankroll:     decimal.NewFromFloat(*bankroll),
		Profile:             risk,
		UseRecommendedStake: *recommended,
		Errors:              logging.NewErrorHandler(log, nil),
	})

	switch {
	case *dataFile == "":
		log.Info("no data file provided, running demo with synthetic data")
		bt.LoadRounds(syntheticRounds(200, 8)...)
	case strings.HasSuffix(*dataFile, ".json"):
		if err := bt.LoadDataFromJSON(*dataFile); err != nil {
			log.Fatal("failed to load JSON data", zap.Error(err))
		}
	case strings.HasSuffix(*dataFile, ".csv"):
		if err := bt.LoadDataFromCSV(*dataFile); err != nil {
			log.Fatal("failed to load CSV data", zap.Error(err))
		}
	default:
		log.Fatal("unknown data file format (expected .json or .csv)", zap.String("file", *dataFile))
	}

	log.Info("running backtest",
		zap.String("profile", risk.Name),
		zap.Float64("bankroll", *bankroll),
		zap.Bool("recommended_stake", *recommended),
	)

	result, err := bt.Run(context.Background())
	if err != nil {
		log.Fatal("backtest failed", zap.Error(err))
	}

	printResults(result)

	if *outputFile != "" {
		if err := exportResults(result, *outputFile); err != nil {
			log.Error("failed to export results", zap.Error(err))
		} else {
			log.Info("results exported", zap.String("file", *outputFile))
		}
	}
}

func printResults(result *backtest.Result) {
	hundred := decimal.NewFromInt(100)

	fmt.Println()
	fmt.Println("==================== BACKTEST RESULTS ====================")
	fmt.Println()
	fmt.Printf("  Profile:          %s\n", result.Profile)
	fmt.Printf("  Period:           %s to %s (%d rounds)\n",
		result.StartTime.Format("2006-01-02"),
		result.EndTime.Format("2006-01-02"),
		result.Rounds)
	fmt.Println()
	fmt.Printf("  Initial Bankroll: $%s\n", result.InitialBankroll.StringFixed(2))
	fmt.Printf("  Final Bankroll:   $%s\n", result.FinalBankroll.StringFixed(2))
	fmt.Printf("  Total PnL:        $%s\n", result.TotalPnL.StringFixed(2))
	fmt.Printf("  Total Return:     %s%%\n", result.TotalReturn.StringFixed(2))
	fmt.Printf("  ROI on Staked:    %s%%\n", result.ROI.Mul(hundred).StringFixed(2))
	fmt.Println()
	fmt.Printf("  Offered:          %d\n", result.Offered)
	fmt.Printf("  Bets Placed:      %d\n", result.TotalBets)
	fmt.Printf("  Wins / Losses:    %d / %d\n", result.Wins, result.Losses)
	fmt.Printf("  Win Rate:         %s%%\n", result.WinRate.Mul(hundred).StringFixed(1))
	fmt.Printf("  Max Drawdown:     %s%%\n", result.MaxDrawdown.Mul(hundred).StringFixed(2))
	fmt.Println()

	if len(result.Rejections) > 0 {
		fmt.Println("  Rejections:")
		for _, c := range betting.Checks {
			if n := result.Rejections[c.Reason()]; n > 0 {
				fmt.Printf("    %-36s %d\n", c.Reason(), n)
			}
		}
		if n := result.Rejections[betting.ReasonInvalidInput]; n > 0 {
			fmt.Printf("    %-36s %d\n", betting.ReasonInvalidInput, n)
		}
		fmt.Println()
	}

	if len(result.Models) > 0 {
		fmt.Println("  Models:")
		for _, m := range result.Models {
			fmt.Printf("    %-12s W/L %d/%d  profit $%s  ROI %s%%\n",
				m.Model, m.Wins, m.Losses,
				m.Profit.StringFixed(2),
				m.ROI.Mul(hundred).StringFixed(2))
		}
		fmt.Println()
	}
	fmt.Println("===========================================================")

	if *verbose && len(result.Bets) > 0 {
		fmt.Println()
		fmt.Println("Bet History:")
		fmt.Println("------------")
		for i, bet := range result.Bets {
			outcome := "LOST"
			if bet.Won {
				outcome = "WON"
			}
			fmt.Printf("  %d. %s %s/%s $%s @ %.2f %s (PnL: $%s)\n",
				i+1,
				bet.Timestamp.Format("2006-01-02 15:04"),
				bet.EventID,
				bet.Market,
				bet.Stake.StringFixed(2),
				bet.Odds,
				outcome,
				bet.PnL.StringFixed(2))
		}
	}
}

func exportResults(result *backtest.Result, filename string) error {
	if strings.HasSuffix(filename, ".json") {
		return exportJSON(result, filename)
	} else if strings.HasSuffix(filename, ".csv") {
		return exportCSV(result, filename)
	}
	// Default to JSON
	return exportJSON(result, filename+".json")
}

func exportJSON(result *backtest.Result, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

func exportCSV(result *backtest.Result, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	// Write summary
	w.Write([]string{"metric", "value"})
	w.Write([]string{"profile", result.Profile})
	w.Write([]string{"start_time", result.StartTime.Format(time.RFC3339)})
	w.Write([]string{"end_time", result.EndTime.Format(time.RFC3339)})
	w.Write([]string{"initial_bankroll", result.InitialBankroll.String()})
	w.Write([]string{"final_bankroll", result.FinalBankroll.String()})
	w.Write([]string{"total_pnl", result.TotalPnL.String()})
	w.Write([]string{"total_return_pct", result.TotalReturn.String()})
	w.Write([]string{"roi", result.ROI.String()})
	w.Write([]string{"total_bets", fmt.Sprintf("%d", result.TotalBets)})
	w.Write([]string{"wins", fmt.Sprintf("%d", result.Wins)})
	w.Write([]string{"losses", fmt.Sprintf("%d", result.Losses)})
	w.Write([]string{"win_rate", result.WinRate.String()})
	w.Write([]string{"max_drawdown", result.MaxDrawdown.String()})

	// Write blank line
	w.Write([]string{})

	// Write bets
	if len(result.Bets) > 0 {
		w.Write([]string{"timestamp", "event_id", "market", "model", "odds", "expected_value", "stake", "won", "pnl"})
		for _, bet := range result.Bets {
			w.Write([]string{
				bet.Timestamp.Format(time.RFC3339),
				bet.EventID,
				bet.Market,
				bet.Model,
				fmt.Sprintf("%.4f", bet.Odds),
				fmt.Sprintf("%.4f", bet.ExpectedValue),
				bet.Stake.String(),
				fmt.Sprintf("%t", bet.Won),
				bet.PnL.String(),
			})
		}
	}

	return w.Error()
}

// syntheticRounds generates rounds whose outcomes follow the stated probability.
func syntheticRounds(n, perRound int) []backtest.Round {
	rng := rand.New(rand.NewSource(42))
	sports := []string{"soccer", "basketball", "tennis", "cricket"}
	markets := []string{"moneyline", "spread", "totals"}
	models := []string{"elo", "poisson", "xgboost"}
	start := time.Now().Add(-time.Duration(n) * time.Hour)

	rounds := make([]backtest.Round, 0, n)
	for i := 0; i < n; i++ {
		round := backtest.Round{Timestamp: start.Add(time.Duration(i) * time.Hour)}
		for j := 0; j < perRound; j++ {
			prob := 0.35 + rng.Float64()*0.5
			// Bookmaker odds with a margin, plus noise so some edges are positive
			odds := (1/prob)*(0.9+rng.Float64()*0.25) + 0.01
			round.Candidates = append(round.Candidates, backtest.Candidate{
				Opportunity: betting.Opportunity{
					EventID:     fmt.Sprintf("ev-%d-%d", i, j),
					Sport:       sports[rng.Intn(len(sports))],
					Market:      markets[rng.Intn(len(markets))],
					Odds:        odds,
					Probability: prob,
					Confidence:  0.5 + rng.Float64()*0.5,
					Stake:       10 + rng.Float64()*490,
					Volatility:  rng.Float64(),
					RiskScore:   rng.Float64(),
				},
				Model: models[rng.Intn(len(models))],
				Won:   rng.Float64() < prob,
			})
		}
		rounds = append(rounds, round)
	}
	return rounds
}
