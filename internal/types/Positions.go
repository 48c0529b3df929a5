/*

This file contains the types for on-chain lending/liquidity positions which
carry all the state needed for scoring and recommendation.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PositionID uniquely identifies a position and is stable across cycles.
type PositionID string

// AssetID references the traded or held asset (token address on the target chain).
type AssetID string

// Position is one collateral/debt pairing being monitored.
type Position struct {
	ID              PositionID        `json:"id"`
	AssetID         AssetID           `json:"asset_id"`
	Owner           string            `json:"owner,omitempty"`          // Address holding the position
	CollateralValue sdkmath.LegacyDec `json:"collateral_value"`         // Collateral amount, never negative
	DebtValue       sdkmath.LegacyDec `json:"debt_value"`               // Debt in the quote currency, never negative. Zero means pure supply.
	LiquidityDepth  sdkmath.LegacyDec `json:"liquidity_depth"`          // Counter-liquidity reported by the position source
	LastUpdated     time.Time         `json:"last_updated"`             // Last known on-chain state refresh
}

// IsPureSupply reports whether the position carries no debt. Pure-supply
// positions have a defined risk score, capped at the minimum.
func (p Position) IsPureSupply() bool {
	return p.DebtValue.IsZero()
}
