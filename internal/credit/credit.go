// Package credit converts credit default swap spreads into cumulative default
// probabilities using the reduced-form approximation
//
//	hazard = spread / (1 - recovery)
//	cumulative(h) = 1 - (1 - hazard)^h
//
// Everything here is pure: no I/O, no logging, no shared state.
package credit

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// DefaultRecoveryRate is the fraction of notional assumed recovered on default.
	DefaultRecoveryRate = 0.35
	// DefaultHorizonYears is the compounding horizon used by the dashboard.
	DefaultHorizonYears = 5

	bpsPerUnit = 10000
)

// ErrOutOfRange reports a recovery rate outside [0,1) or a non-positive horizon.
var ErrOutOfRange = errors.New("credit: parameter out of range")

var hundred = decimal.NewFromInt(100)

// SpreadObservation is one period of a spread series. An invalid SpreadBps
// means the instrument was not observable in that period.
type SpreadObservation struct {
	Period    string              `json:"period"`
	SpreadBps decimal.NullDecimal `json:"spread_bps"`
}

// DefaultProbabilityResult is the derived probability for one period.
type DefaultProbabilityResult struct {
	Period        string              `json:"period"`
	CumulativePct decimal.NullDecimal `json:"cumulative_pct"`
}

// ValidateParams checks the recovery rate and horizon.
func ValidateParams(recoveryRate float64, horizonYears int) error {
	if math.IsNaN(recoveryRate) || recoveryRate < 0 || recoveryRate >= 1 {
		return fmt.Errorf("%w: recovery_rate %v must be in [0,1)", ErrOutOfRange, recoveryRate)
	}
	if horizonYears <= 0 {
		return fmt.Errorf("%w: horizon_years %d must be positive", ErrOutOfRange, horizonYears)
	}
	return nil
}

// HazardRate returns the annual default intensity implied by a spread,
// clamped to [0,1]. Spreads larger than the loss given default would
// otherwise yield a negative survival base that oscillates in sign when
// raised to an integer power.
func HazardRate(spreadBps decimal.Decimal, recoveryRate float64) float64 {
	spread := spreadBps.InexactFloat64() / bpsPerUnit
	hazard := spread / (1 - recoveryRate)
	switch {
	case hazard < 0:
		return 0
	case hazard > 1:
		return 1
	}
	return hazard
}

// DefaultProbability returns the cumulative probability of default over
// horizonYears, in percent rounded to one decimal place.
//
// A missing or negative spread yields an invalid result; a zero spread
// yields exactly 0.
func DefaultProbability(spreadBps decimal.NullDecimal, recoveryRate float64, horizonYears int) (decimal.NullDecimal, error) {
	if err := ValidateParams(recoveryRate, horizonYears); err != nil {
		return decimal.NullDecimal{}, err
	}
	if !spreadBps.Valid || spreadBps.Decimal.IsNegative() {
		return decimal.NullDecimal{}, nil
	}
	if spreadBps.Decimal.IsZero() {
		return decimal.NewNullDecimal(decimal.Zero), nil
	}

	hazard := HazardRate(spreadBps.Decimal, recoveryRate)
	cumulative := 1 - math.Pow(1-hazard, float64(horizonYears))

	pct := decimal.NewFromFloat(cumulative).Mul(hundred).Round(1)
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	return decimal.NewNullDecimal(pct), nil
}

// Estimator binds a recovery assumption and horizon for repeated use.
type Estimator struct {
	RecoveryRate float64
	HorizonYears int
}

// NewEstimator validates parameters once so per-period calls cannot fail.
func NewEstimator(recoveryRate float64, horizonYears int) (Estimator, error) {
	if err := ValidateParams(recoveryRate, horizonYears); err != nil {
		return Estimator{}, err
	}
	return Estimator{RecoveryRate: recoveryRate, HorizonYears: horizonYears}, nil
}

// Estimate converts a single spread.
func (e Estimator) Estimate(spreadBps decimal.NullDecimal) (decimal.NullDecimal, error) {
	return DefaultProbability(spreadBps, e.RecoveryRate, e.HorizonYears)
}

// Series converts every observation, preserving order and absences.
func (e Estimator) Series(observations []SpreadObservation) ([]DefaultProbabilityResult, error) {
	results := make([]DefaultProbabilityResult, 0, len(observations))
	for _, obs := range observations {
		pct, err := e.Estimate(obs.SpreadBps)
		if err != nil {
			return nil, fmt.Errorf("period %s: %w", obs.Period, err)
		}
		results = append(results, DefaultProbabilityResult{Period: obs.Period, CumulativePct: pct})
	}
	return results, nil
}

// Latest returns the last valid result of a series.
func Latest(results []DefaultProbabilityResult) (DefaultProbabilityResult, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].CumulativePct.Valid {
			return results[i], true
		}
	}
	return DefaultProbabilityResult{}, false
}
