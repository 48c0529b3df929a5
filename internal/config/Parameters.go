/*

This file contains the default parameters for the recommendation engine.

The risk curve and composite weights are deliberately conservative: the output
of this system drives operator attention (and potentially automated unwinding),
so a position flagged too early costs a glance while a position flagged too
late costs capital.

*/

package config

// Default top-level settings, overridable from the TOML file.
const (
	DefaultPositionThreshold = "100.0" // Ignore positions below $100 notional.
	// Rationale: dust positions cannot meaningfully be rebalanced and their
	// scores crowd real positions out of the bounded output list.

	DefaultRecommendationInterval = "5m" // One cycle every five minutes.
	// Rationale: lending positions drift with price, not with every block.
	// Five minutes keeps recommendations fresh without hammering the data
	// sources, and matches the original operator cadence.

	DefaultMaxPositions = 10 // Emit at most ten recommendations per cycle.

	DefaultStageTimeout = "30s" // Per-stage deadline before the cycle fails with a timeout.
	// Rationale: a cycle that cannot fetch or analyze inside 30 seconds is
	// working off data that will be superseded by the next tick anyway.
)

// DefaultEngineConfig provides the baseline scoring curve. Values are decimal
// strings so they parse losslessly into fixed-precision decimals.
var DefaultEngineConfig = EngineConfig{
	WRisk:      "0.6", // Weight of liquidation risk in the composite.
	WLiquidity: "0.4", // Weight of unwind difficulty in the composite.
	// Rationale: risk dominates because a hard-to-unwind healthy position is
	// an inconvenience while an at-risk position is a loss. Weights must sum
	// to 1 and are validated at startup.

	CriticalRiskCutoff: "0.9", // At or above: CLOSE.
	// Rationale: 0.9 on the linear curve corresponds to a health ratio of
	// 1.1 with the default safe ratio of 2.0 - about one adverse price move
	// away from liquidation.

	RebalanceRiskCutoff: "0.5", // At or above: REBALANCE.
	// Rationale: the midpoint of the curve (health ratio 1.5) is where
	// collateral top-ups are still cheap relative to forced closure.

	OpenLiquidityFloor: "0.2", // At or below, with low risk: OPEN.
	// Rationale: a healthy position whose exit would consume most of the
	// available depth signals an under-supplied market worth adding to.

	SafeHealthRatio: "2.0", // Health ratio at which risk reaches zero.
	// Rationale: twice-collateralized positions survive any realistic single
	// price move. The curve is a linear clamp between ratio 1.0 (risk 1.0)
	// and this bound (risk 0.0); the exact shape is configuration, not code.

	DepthEpsilon: "0.000001", // Division guard for zero reported depth.
	// Zero depth with a nonzero exit size must score 0.0, never fault.

	MaxStaleness: "15m", // Positions older than this are excluded and flagged.
	// Rationale: three missed refresh windows. Stale collateral values make
	// both scores fiction; exclusion with an audit record beats guessing.
}
