package betting

// Check identifies one risk check. Checks run in declaration order and the
// first failure is reported.
type Check int

const (
	CheckConfidence Check = iota + 1
	CheckStakePercentage
	CheckVolatility
	CheckRiskScore
	CheckSport
	CheckMarket
	CheckExcludedEvent
	CheckKellyStake
)

// Rejection reasons, one per check.
const (
	ReasonInvalidInput       = "invalid input"
	ReasonLowConfidence      = "confidence below threshold"
	ReasonStakePercentage    = "stake exceeds max stake percentage"
	ReasonVolatility         = "volatility exceeds tolerance"
	ReasonRiskScore          = "risk score exceeds maximum"
	ReasonSportNotPreferred  = "sport not preferred"
	ReasonMarketNotPreferred = "market not preferred"
	ReasonEventExcluded      = "event excluded"
	ReasonKellyStake         = "stake exceeds kelly stake"
)

func (c Check) String() string {
	switch c {
	case CheckConfidence:
		return "confidence"
	case CheckStakePercentage:
		return "stake_percentage"
	case CheckVolatility:
		return "volatility"
	case CheckRiskScore:
		return "risk_score"
	case CheckSport:
		return "sport"
	case CheckMarket:
		return "market"
	case CheckExcludedEvent:
		return "excluded_event"
	case CheckKellyStake:
		return "kelly_stake"
	default:
		return "unknown"
	}
}

// Reason returns the rejection reason reported when the check fails.
func (c Check) Reason() string {
	switch c {
	case CheckConfidence:
		return ReasonLowConfidence
	case CheckStakePercentage:
		return ReasonStakePercentage
	case CheckVolatility:
		return ReasonVolatility
	case CheckRiskScore:
		return ReasonRiskScore
	case CheckSport:
		return ReasonSportNotPreferred
	case CheckMarket:
		return ReasonMarketNotPreferred
	case CheckExcludedEvent:
		return ReasonEventExcluded
	case CheckKellyStake:
		return ReasonKellyStake
	default:
		return ReasonInvalidInput
	}
}

// Checks lists every check in evaluation order.
var Checks = []Check{
	CheckConfidence,
	CheckStakePercentage,
	CheckVolatility,
	CheckRiskScore,
	CheckSport,
	CheckMarket,
	CheckExcludedEvent,
	CheckKellyStake,
}

// Tags reported to the error handler for validation failures.
const (
	ComponentValidator = "RiskValidator"
	OperationValidate  = "validate"
)

// RiskValidator checks opportunities against a risk profile.
// It is safe for concurrent use if its ErrorHandler is.
type RiskValidator struct {
	errs ErrorHandler
}

// ValidatorOption configures a RiskValidator.
type ValidatorOption func(*RiskValidator)

// WithValidatorErrorHandler reports unusable input to h.
func WithValidatorErrorHandler(h ErrorHandler) ValidatorOption {
	return func(v *RiskValidator) {
		if h != nil {
			v.errs = h
		}
	}
}

// NewRiskValidator creates a risk validator.
func NewRiskValidator(opts ...ValidatorOption) *RiskValidator {
	v := &RiskValidator{errs: nopErrorHandler{}}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every check in order and returns the first failure.
// Business-rule failures are reported in the result, never as a panic.
// Unusable input yields an invalid result with reason "invalid input" and is
// forwarded to the error handler.
func (v *RiskValidator) Validate(o Opportunity, profile *RiskProfile) ValidationResult {
	if err := o.checkShape(); err != nil {
		v.reportError(err)
		return ValidationResult{IsValid: false, Reason: ReasonInvalidInput}
	}
	if err := profile.Validate(); err != nil {
		v.reportError(err)
		return ValidationResult{IsValid: false, Reason: ReasonInvalidInput}
	}

	if failed, ok := v.FirstFailure(o, profile); ok {
		return ValidationResult{IsValid: false, Reason: failed.Reason()}
	}
	return ValidationResult{IsValid: true}
}

func (v *RiskValidator) reportError(err error) {
	if v.errs != nil {
		v.errs.HandleError(err, ComponentValidator, OperationValidate)
	}
}

// FirstFailure returns the first failing check, if any. The caller is
// responsible for having checked the input shape.
func (v *RiskValidator) FirstFailure(o Opportunity, profile *RiskProfile) (Check, bool) {
	for _, c := range Checks {
		if !passes(c, o, profile) {
			return c, true
		}
	}
	return 0, false
}

func passes(c Check, o Opportunity, p *RiskProfile) bool {
	switch c {
	case CheckConfidence:
		return o.Confidence >= p.MinConfidenceThreshold
	case CheckStakePercentage:
		return o.Stake <= o.Bankroll*p.MaxStakePercentage
	case CheckVolatility:
		return o.Volatility <= p.VolatilityTolerance
	case CheckRiskScore:
		return o.RiskScore <= p.MaxRiskScore
	case CheckSport:
		if p.FoldKeys {
			return p.PreferredSports.ContainsFold(o.Sport)
		}
		return p.PreferredSports.Contains(o.Sport)
	case CheckMarket:
		if p.FoldKeys {
			return p.PreferredMarkets.ContainsFold(o.Market)
		}
		return p.PreferredMarkets.Contains(o.Market)
	case CheckExcludedEvent:
		return !p.ExcludedEvents.Contains(o.EventID)
	case CheckKellyStake:
		// Fractional Kelly is canonical here, same as RecommendedStake.
		return o.Stake <= KellyStake(o.Probability, o.Odds, p.KellyFraction)*o.Bankroll
	default:
		return false
	}
}
