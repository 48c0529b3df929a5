/*

This file contains the types for scoring positions, and the tunable parameters
for the recommendation engine.

*/

package types

import (
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
)

// EngineParameters holds all tunable weights, cutoffs, and thresholds used by
// the analyzer and recommendation engine. The set is validated once at startup;
// the core never sees an invalid configuration.
type EngineParameters struct {
	// --- Composite Weights ---
	WRisk      sdkmath.LegacyDec `json:"w_risk"`      // Weight of the risk score in the composite. WRisk + WLiquidity must equal 1.
	WLiquidity sdkmath.LegacyDec `json:"w_liquidity"` // Weight of the inverted liquidity score in the composite.

	// --- Action Cutoffs ---
	CriticalRiskCutoff  sdkmath.LegacyDec `json:"critical_risk_cutoff"`  // Risk score at or above which a position must be closed.
	RebalanceRiskCutoff sdkmath.LegacyDec `json:"rebalance_risk_cutoff"` // Risk score at or above which a rebalance is recommended.
	OpenLiquidityFloor  sdkmath.LegacyDec `json:"open_liquidity_floor"`  // Liquidity score at or below which low-risk positions signal room to add.

	// --- Filtering & Bounds ---
	PositionThreshold sdkmath.LegacyDec `json:"position_threshold"` // Minimum notional (USD); smaller positions never occupy a rank slot.
	MaxPositions      int               `json:"max_positions"`      // Cap on emitted recommendations per cycle.

	// --- Risk Curve ---
	SafeHealthRatio sdkmath.LegacyDec `json:"safe_health_ratio"` // Health ratio at or above which risk is zero. Ratio <= 1 maps to max risk.

	// --- Liquidity Curve ---
	DepthEpsilon sdkmath.LegacyDec `json:"depth_epsilon"` // Division guard when reported depth is zero.

	// --- Input Freshness ---
	MaxStaleness time.Duration `json:"max_staleness"` // Positions older than this are excluded with an audit record, not silently dropped.
}

// Validate checks internal consistency of the parameter set. It mirrors the
// startup-only ConfigError policy: the scheduler and engine assume a validated
// set and never re-check.
func (p EngineParameters) Validate() error {
	if p.WRisk.IsNil() || p.WLiquidity.IsNil() {
		return errors.New("composite weights must be set")
	}
	if p.WRisk.IsNegative() || p.WLiquidity.IsNegative() {
		return errors.New("composite weights cannot be negative")
	}
	if !p.WRisk.Add(p.WLiquidity).Equal(sdkmath.LegacyOneDec()) {
		return errors.New("composite weights must sum to 1")
	}
	if p.CriticalRiskCutoff.IsNil() || p.RebalanceRiskCutoff.IsNil() || p.OpenLiquidityFloor.IsNil() {
		return errors.New("action cutoffs must be set")
	}
	if p.RebalanceRiskCutoff.GT(p.CriticalRiskCutoff) {
		return errors.New("rebalance cutoff cannot exceed critical cutoff")
	}
	if p.PositionThreshold.IsNil() || p.PositionThreshold.IsNegative() {
		return errors.New("position threshold must be non-negative")
	}
	if p.MaxPositions < 0 {
		return errors.New("max positions cannot be negative")
	}
	if p.SafeHealthRatio.IsNil() || !p.SafeHealthRatio.GT(sdkmath.LegacyOneDec()) {
		return errors.New("safe health ratio must be greater than 1")
	}
	if p.DepthEpsilon.IsNil() || !p.DepthEpsilon.IsPositive() {
		return errors.New("depth epsilon must be positive")
	}
	if p.MaxStaleness <= 0 {
		return errors.New("max staleness must be positive")
	}
	return nil
}

// Composite blends a risk score and a liquidity score into the single ranking
// metric: w_risk*risk + w_liquidity*(1-liquidity). Higher composite means the
// position needs attention sooner.
func (p EngineParameters) Composite(risk, liquidity sdkmath.LegacyDec) sdkmath.LegacyDec {
	inverted := sdkmath.LegacyOneDec().Sub(liquidity)
	return p.WRisk.Mul(risk).Add(p.WLiquidity.Mul(inverted))
}

// Score is the per-position output of the analyzer, the unit the engine ranks.
type Score struct {
	PositionID PositionID        `json:"position_id"`
	RiskScore  sdkmath.LegacyDec `json:"risk_score"`      // In [0, 1], higher = more liquidation risk.
	Liquidity  sdkmath.LegacyDec `json:"liquidity_score"` // In [0, 1], higher = easier to unwind.
	Composite  sdkmath.LegacyDec `json:"composite_score"` // Weighted blend used for ranking.
	Notional   sdkmath.LegacyDec `json:"notional"`        // Collateral value at the snapshot price, used for threshold filtering.
	Staleness  time.Duration     `json:"staleness"`       // Elapsed time since the position's last on-chain refresh.
}

// Exclusion records a position left out of a cycle's ranking and why. Excluded
// positions are flagged for auditability, never silently dropped.
type Exclusion struct {
	PositionID PositionID `json:"position_id"`
	Reason     string     `json:"reason"`
}
