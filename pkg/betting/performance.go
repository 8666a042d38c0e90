package betting

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BetResult is the settlement of one bet placed on a model's recommendation.
type BetResult struct {
	Won    bool    `json:"won"`
	Payout float64 `json:"payout"` // Total return on a win, stake included
	Stake  float64 `json:"stake"`
}

// profit returns the net result of the bet.
func (r BetResult) profit() decimal.Decimal {
	stake := decimal.NewFromFloat(r.Stake)
	if r.Won {
		return decimal.NewFromFloat(r.Payout).Sub(stake)
	}
	return stake.Neg()
}

// ModelStats is the running record of one prediction model.
type ModelStats struct {
	Model       string          `json:"model"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	Profit      decimal.Decimal `json:"profit"`
	ROI         decimal.Decimal `json:"roi"` // Profit / TotalStaked
	LastUpdated time.Time       `json:"last_updated"`
}

// WinRate returns wins / settled bets, or zero when nothing has settled.
func (s ModelStats) WinRate() decimal.Decimal {
	total := s.Wins + s.Losses
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(total)))
}

// ModelTracker accumulates settled results per model name.
// It is advisory bookkeeping and never feeds back into selection.
type ModelTracker struct {
	mu     sync.RWMutex
	models map[string]*ModelStats
	now    func() time.Time
}

// NewModelTracker creates an empty tracker.
func NewModelTracker() *ModelTracker {
	return &ModelTracker{
		models: make(map[string]*ModelStats),
		now:    time.Now,
	}
}

// Update records one settled bet for the model and returns the new stats.
func (t *ModelTracker) Update(model string, result BetResult) (ModelStats, error) {
	if model == "" {
		return ModelStats{}, fmt.Errorf("%w: model name is empty", ErrInvalidInput)
	}
	if !finite(result.Stake) || result.Stake < 0 {
		return ModelStats{}, fmt.Errorf("%w: stake %v", ErrInvalidInput, result.Stake)
	}
	if result.Won && (!finite(result.Payout) || result.Payout < 0) {
		return ModelStats{}, fmt.Errorf("%w: payout %v", ErrInvalidInput, result.Payout)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stats, ok := t.models[model]
	if !ok {
		stats = &ModelStats{Model: model}
		t.models[model] = stats
	}

	if result.Won {
		stats.Wins++
	} else {
		stats.Losses++
	}
	stats.TotalStaked = stats.TotalStaked.Add(decimal.NewFromFloat(result.Stake))
	stats.Profit = stats.Profit.Add(result.profit())
	if stats.TotalStaked.IsPositive() {
		stats.ROI = stats.Profit.Div(stats.TotalStaked)
	} else {
		stats.ROI = decimal.Zero
	}
	stats.LastUpdated = t.now()

	return *stats, nil
}

// Get returns the stats for one model.
func (t *ModelTracker) Get(model string) (ModelStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats, ok := t.models[model]
	if !ok {
		return ModelStats{}, false
	}
	return *stats, true
}

// Snapshot returns a copy of every model's stats sorted by model name.
func (t *ModelTracker) Snapshot() []ModelStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ModelStats, 0, len(t.models))
	for _, stats := range t.models {
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Reset forgets every model.
func (t *ModelTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.models = make(map[string]*ModelStats)
}
