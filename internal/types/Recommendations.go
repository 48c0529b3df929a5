/*

This file contains the types for the ranked recommendation output of a cycle.
A cycle's output is an immutable value handed to consumers; the next cycle
supersedes it, never merges into it.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Action is the closed set of recommended actions for a position.
type Action string

const (
	ActionRebalance Action = "REBALANCE"
	ActionClose     Action = "CLOSE"
	ActionHold      Action = "HOLD"
	ActionOpen      Action = "OPEN" // Signals room to add to a healthy, thin-liquidity position
)

// Recommendation is one entry of the ranked output list.
type Recommendation struct {
	PositionID PositionID        `json:"position_id"`
	Action     Action            `json:"action"`
	Composite  sdkmath.LegacyDec `json:"composite_score"`
	Rank       int               `json:"rank"`   // 1-based, unique within a cycle
	Reason     string            `json:"reason"` // Human-readable rule that fired
}

// PortfolioMetrics summarizes the evaluated position set for one cycle.
type PortfolioMetrics struct {
	TotalNotionalUSD  sdkmath.LegacyDec `json:"total_notional_usd"`
	PositionCount     int               `json:"position_count"`
	ConcentrationRisk sdkmath.LegacyDec `json:"concentration_risk"` // Largest position notional over total, 1.0 when a single position dominates
}

// CycleResult is the complete, immutable output of one successful cycle.
type CycleResult struct {
	CycleNumber     int              `json:"cycle_number"`
	CycleID         string           `json:"cycle_id"` // uuid for tracing logs across the cycle
	StartedAt       time.Time        `json:"started_at"`
	SnapshotAt      time.Time        `json:"snapshot_at"` // captured_at of the market snapshot used
	Recommendations []Recommendation `json:"recommendations"`
	Exclusions      []Exclusion      `json:"exclusions"`
	Metrics         PortfolioMetrics `json:"metrics"`
	Duration        time.Duration    `json:"duration"`
}
