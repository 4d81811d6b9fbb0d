package rollout

// #region strategy

// Strategy names a rollout style, ordered by caution: direct < canary <
// blue-green.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyCanary    Strategy = "canary"
	StrategyBlueGreen Strategy = "blue-green"
)

// Thresholds splits the risk range into strategy bands.
type Thresholds struct {
	Low    float64
	Medium float64
}

// DefaultThresholds returns the calibrated bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.2, Medium: 0.5}
}

// SelectStrategy maps a risk score to a strategy. The mapping is monotonic:
// a higher score never yields a less cautious strategy.
func SelectStrategy(riskScore float64, t Thresholds) Strategy {
	switch {
	case riskScore < t.Low:
		return StrategyDirect
	case riskScore < t.Medium:
		return StrategyCanary
	default:
		return StrategyBlueGreen
	}
}

// #endregion
