/*

This file contains portfolio-level metrics derived from a cycle's scores.

*/

package engine

import (
	sdkmath "cosmossdk.io/math"

	"github.com/origins-protocol/opr/internal/types"
)

// ComputePortfolioMetrics aggregates a cycle's scores into portfolio totals.
// Concentration risk is the largest single position's share of total notional:
// 1.0 means everything rides on one position, values near 1/n mean an evenly
// spread book.
func ComputePortfolioMetrics(scores []types.Score) types.PortfolioMetrics {
	total := sdkmath.LegacyZeroDec()
	largest := sdkmath.LegacyZeroDec()

	for _, score := range scores {
		if score.Notional.IsNil() {
			continue
		}
		total = total.Add(score.Notional)
		if score.Notional.GT(largest) {
			largest = score.Notional
		}
	}

	concentration := sdkmath.LegacyZeroDec()
	if total.IsPositive() {
		concentration = largest.Quo(total)
	}

	return types.PortfolioMetrics{
		TotalNotionalUSD:  total,
		PositionCount:     len(scores),
		ConcentrationRisk: concentration,
	}
}
