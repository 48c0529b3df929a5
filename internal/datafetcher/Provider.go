/*

This file defines the market data capability the scheduler depends on, and the
error taxonomy shared by all provider implementations.

*/

package datafetcher

import (
	"context"
	"errors"

	"github.com/origins-protocol/opr/internal/types"
)

// Fetch errors abort the cycle that observed them, never the process. The
// scheduler maps them to a failed cycle and waits for the next tick.
var (
	ErrNetwork     = errors.New("market data request failed")
	ErrTimeout     = errors.New("market data request timed out")
	ErrPartialData = errors.New("market data snapshot is incomplete")
)

// MarketDataProvider supplies the immutable per-cycle snapshot the analyzer
// scores against. Implementations must not share mutable state with callers:
// every Fetch returns a fresh snapshot.
//
// A provider that resolved only some of the requested assets returns the
// partial snapshot together with ErrPartialData; the snapshot's Unresolved
// field lists what is missing and the caller decides whether to proceed.
type MarketDataProvider interface {
	Fetch(ctx context.Context, assetIDs []types.AssetID) (types.MarketDataSnapshot, error)
}
