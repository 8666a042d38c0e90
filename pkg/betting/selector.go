package betting

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Tags reported to the error handler and performance monitor.
const (
	ComponentSelector       = "BestBetSelector"
	OperationSelectBestBets = "selectBestBets"
)

// ErrSelectionPanic wraps a panic recovered during selection.
var ErrSelectionPanic = errors.New("selection panicked")

// RankedBet is a selected opportunity with its ranking inputs.
type RankedBet struct {
	// Index is the opportunity's position in the input slice.
	Index            int         `json:"index"`
	Opportunity      Opportunity `json:"opportunity"`
	ExpectedValue    float64     `json:"expected_value"`
	RecommendedStake float64     `json:"recommended_stake"`
}

// Selector filters opportunities through a RiskValidator, ranks survivors by
// expected value and keeps the best MaxConcurrentBets.
//
// Selection never fails from the caller's point of view: any error is routed
// to the ErrorHandler and the result degrades to no recommended bets.
type Selector struct {
	validator *RiskValidator
	events    EventEmitter
	errs      ErrorHandler
	perf      PerformanceMonitor
	models    *ModelTracker
	now       func() time.Time
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithModelTracker shares a model tracker with the selector.
func WithModelTracker(t *ModelTracker) SelectorOption {
	return func(s *Selector) {
		if t != nil {
			s.models = t
		}
	}
}

// WithClock sets the clock used for duration measurement.
func WithClock(now func() time.Time) SelectorOption {
	return func(s *Selector) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSelector creates a selector. Nil collaborators are replaced with no-ops.
func NewSelector(
	validator *RiskValidator,
	events EventEmitter,
	errs ErrorHandler,
	perf PerformanceMonitor,
	opts ...SelectorOption,
) *Selector {
	if validator == nil {
		validator = NewRiskValidator()
	}
	if events == nil {
		events = nopEmitter{}
	}
	if errs == nil {
		errs = nopErrorHandler{}
	}
	if perf == nil {
		perf = nopMonitor{}
	}

	s := &Selector{
		validator: validator,
		events:    events,
		errs:      errs,
		perf:      perf,
		models:    NewModelTracker(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validator returns the selector's risk validator.
func (s *Selector) Validator() *RiskValidator {
	return s.validator
}

// Models returns the selector's model tracker.
func (s *Selector) Models() *ModelTracker {
	return s.models
}

// SelectBestBets returns at most profile.MaxConcurrentBets valid
// opportunities ordered by descending expected value. Ties keep input order.
// The input slice is not modified.
func (s *Selector) SelectBestBets(opportunities []Opportunity, profile *RiskProfile) []Opportunity {
	ranked := s.SelectRanked(opportunities, profile)

	out := make([]Opportunity, len(ranked))
	for i, r := range ranked {
		out[i] = r.Opportunity
	}
	return out
}

// SelectRanked is SelectBestBets with expected value and recommended stake
// attached to each pick.
func (s *Selector) SelectRanked(opportunities []Opportunity, profile *RiskProfile) []RankedBet {
	start := s.now()
	defer func() {
		elapsed := s.now().Sub(start)
		s.perf.RecordOperation(OperationSelectBestBets, float64(elapsed)/float64(time.Millisecond))
	}()

	bets, err := s.rank(opportunities, profile)
	if err != nil {
		s.errs.HandleError(err, ComponentSelector, OperationSelectBestBets)
		return []RankedBet{}
	}
	return bets
}

func (s *Selector) rank(opportunities []Opportunity, profile *RiskProfile) (bets []RankedBet, err error) {
	defer func() {
		if r := recover(); r != nil {
			bets = nil
			err = fmt.Errorf("%w: %v", ErrSelectionPanic, r)
		}
	}()

	if err := profile.Validate(); err != nil {
		return nil, err
	}

	// Filter
	valid := make([]RankedBet, 0, len(opportunities))
	for i, o := range opportunities {
		result := s.validator.Validate(o, profile)
		if !result.IsValid {
			s.events.Emit(EventValidationFailed, ValidationFailedPayload{
				Opportunity: o,
				Reason:      result.Reason,
			})
			continue
		}
		valid = append(valid, RankedBet{
			Index:            i,
			Opportunity:      o,
			ExpectedValue:    o.ExpectedValue(),
			RecommendedStake: RecommendedStake(o, profile),
		})
	}

	// Rank by expected value, input order on ties
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].ExpectedValue > valid[j].ExpectedValue
	})

	if len(valid) > profile.MaxConcurrentBets {
		valid = valid[:profile.MaxConcurrentBets]
	}
	return valid, nil
}

// UpdateModelPerformance records a settled bet for the model. The stats are
// advisory and have no bearing on selection.
func (s *Selector) UpdateModelPerformance(model string, result BetResult) (ModelStats, error) {
	return s.models.Update(model, result)
}
