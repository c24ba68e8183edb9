package scoring

import (
	"context"
	"maps"
)

// Thresholds are the score floors consumed by qualification, routing and
// outreach, plus the source weights scoring applies. A calibration replaces
// the defaults for its account.
type Thresholds struct {
	// Version identifies the calibration the thresholds came from. It is
	// empty for the defaults.
	Version        string
	QualifiedFloor int
	HotFloor       int
	// SourceBonus overrides the stock source points for the sources a
	// calibration had enough outcomes for.
	SourceBonus map[string]int
}

// Apply returns base with the calibrated source points merged in.
func (t Thresholds) Apply(base Weights) Weights {
	if len(t.SourceBonus) == 0 {
		return base
	}
	out := base
	out.SourceBonus = maps.Clone(base.SourceBonus)
	if out.SourceBonus == nil {
		out.SourceBonus = make(map[string]int, len(t.SourceBonus))
	}
	maps.Copy(out.SourceBonus, t.SourceBonus)
	return out
}

// DefaultThresholds applies to accounts that were never calibrated.
func DefaultThresholds() Thresholds {
	return Thresholds{QualifiedFloor: 40, HotFloor: 60}
}

// CalibrationReader returns the thresholds in force for an account.
type CalibrationReader interface {
	Thresholds(ctx context.Context, accountID string) (Thresholds, error)
}

// StaticCalibration always returns the same thresholds.
type StaticCalibration Thresholds

func (s StaticCalibration) Thresholds(context.Context, string) (Thresholds, error) {
	return Thresholds(s), nil
}
