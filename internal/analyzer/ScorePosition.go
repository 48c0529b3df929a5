/*

This file contains the main function for scoring a single position against a
market data snapshot.

*/

package analyzer

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/origins-protocol/opr/internal/types"
	"github.com/origins-protocol/opr/internal/utils"
)

// Analysis errors are recoverable per position: the caller excludes the
// offending position (with an audit record) and scores the rest.
var (
	ErrMissingPriceData = errors.New("snapshot has no price for position asset")
	ErrStaleInput       = errors.New("position state exceeds maximum staleness")
	ErrInvalidPosition  = errors.New("invalid position data")
)

// ScorePosition computes the risk and liquidity scores for one position given
// the cycle's snapshot. It is a pure function of its inputs and the engine
// parameters: no I/O, no shared state, so independent positions can be scored
// concurrently against the same snapshot.
//
// Inputs:
//   - position: the collateral/debt pairing to score.
//   - snapshot: the cycle's immutable market data.
//   - now: the evaluation instant, passed in so staleness is reproducible.
//   - params: validated engine parameters.
//
// Output:
//   - A Score with risk, liquidity, and composite all in their defined ranges.
//   - ErrMissingPriceData or ErrStaleInput when the position cannot be scored.
func ScorePosition(position types.Position, snapshot types.MarketDataSnapshot, now time.Time, params types.EngineParameters) (types.Score, error) {
	if err := validatePosition(position); err != nil {
		return types.Score{}, errors.Join(ErrInvalidPosition, err)
	}

	price, ok := snapshot.Price(position.AssetID)
	if !ok {
		return types.Score{}, fmt.Errorf("%w: position %s asset %s", ErrMissingPriceData, position.ID, position.AssetID)
	}
	if !price.IsPositive() {
		return types.Score{}, fmt.Errorf("%w: non-positive price for asset %s", ErrInvalidPosition, position.AssetID)
	}

	staleness := now.Sub(position.LastUpdated)
	if staleness > params.MaxStaleness {
		return types.Score{}, fmt.Errorf("%w: position %s is %s old (max %s)",
			ErrStaleInput, position.ID, staleness, params.MaxStaleness)
	}

	notional := position.CollateralValue.Mul(price)
	risk := riskScore(position, price, params)
	liquidity := liquidityScore(notional, depthFor(position, snapshot), params)

	return types.Score{
		PositionID: position.ID,
		RiskScore:  risk,
		Liquidity:  liquidity,
		Composite:  params.Composite(risk, liquidity),
		Notional:   notional,
		Staleness:  staleness,
	}, nil
}

// riskScore maps the health ratio through a monotonically decreasing linear
// clamp into [0, 1]: ratio <= 1 (undercollateralized) is maximum risk, ratio
// >= SafeHealthRatio is zero risk. A pure-supply position is exactly zero.
func riskScore(position types.Position, price sdkmath.LegacyDec, params types.EngineParameters) sdkmath.LegacyDec {
	if position.IsPureSupply() {
		return sdkmath.LegacyZeroDec()
	}

	one := sdkmath.LegacyOneDec()
	ratio := position.CollateralValue.Mul(price).Quo(position.DebtValue)
	if ratio.LTE(one) {
		return one
	}
	if ratio.GTE(params.SafeHealthRatio) {
		return sdkmath.LegacyZeroDec()
	}

	// Linear interpolation between the two ratio bounds.
	span := params.SafeHealthRatio.Sub(one)
	return utils.ClampUnit(params.SafeHealthRatio.Sub(ratio).Quo(span))
}

// liquidityScore inverts the exit-size-to-depth ratio so deeper markets score
// higher: 1 - clamp(exit/max(depth, epsilon), 0, 1). Zero depth against a
// nonzero exit size yields exactly 0.0, the worst case, never an error.
func liquidityScore(exitSize, depth sdkmath.LegacyDec, params types.EngineParameters) sdkmath.LegacyDec {
	one := sdkmath.LegacyOneDec()
	if exitSize.IsZero() {
		// Nothing to unwind.
		return one
	}
	if depth.LT(params.DepthEpsilon) {
		depth = params.DepthEpsilon
	}
	utilization := utils.ClampUnit(exitSize.Quo(depth))
	return one.Sub(utilization)
}

// depthFor prefers the snapshot's depth for the asset and falls back to the
// depth reported with the position itself when the snapshot has none.
func depthFor(position types.Position, snapshot types.MarketDataSnapshot) sdkmath.LegacyDec {
	if depth, ok := snapshot.Depths[position.AssetID]; ok {
		return depth
	}
	if position.LiquidityDepth.IsNil() {
		return sdkmath.LegacyZeroDec()
	}
	return position.LiquidityDepth
}

// validatePosition enforces the data model invariants before any arithmetic.
func validatePosition(position types.Position) error {
	if position.ID == "" {
		return errors.New("position id is empty")
	}
	if position.AssetID == "" {
		return errors.New("asset id is empty")
	}
	if position.CollateralValue.IsNil() || position.CollateralValue.IsNegative() {
		return fmt.Errorf("collateral value of position %s is negative or unset", position.ID)
	}
	if position.DebtValue.IsNil() || position.DebtValue.IsNegative() {
		return fmt.Errorf("debt value of position %s is negative or unset", position.ID)
	}
	if position.LastUpdated.IsZero() {
		return fmt.Errorf("position %s has no last-updated timestamp", position.ID)
	}
	return nil
}
