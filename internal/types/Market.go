/*

This is a custom type for per-cycle market data. A snapshot is fetched once at
the start of a cycle and shared read-only across every analyzer invocation for
that cycle; it is never mutated after construction.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// MarketDataSnapshot bundles prices and liquidity depths for one cycle.
type MarketDataSnapshot struct {
	CapturedAt time.Time                     `json:"captured_at"`
	Prices     map[AssetID]sdkmath.LegacyDec `json:"prices"`
	Depths     map[AssetID]sdkmath.LegacyDec `json:"depths"`

	// Unresolved lists asset ids the provider could not price. Only populated
	// when the caller accepted a partial snapshot.
	Unresolved []AssetID `json:"unresolved,omitempty"`
}

// Price returns the snapshot price for an asset and whether one exists.
func (s MarketDataSnapshot) Price(id AssetID) (sdkmath.LegacyDec, bool) {
	price, ok := s.Prices[id]
	return price, ok
}

// Depth returns the snapshot liquidity depth for an asset. Assets without a
// depth entry report zero depth, the worst case for unwinding.
func (s MarketDataSnapshot) Depth(id AssetID) sdkmath.LegacyDec {
	if depth, ok := s.Depths[id]; ok {
		return depth
	}
	return sdkmath.LegacyZeroDec()
}
