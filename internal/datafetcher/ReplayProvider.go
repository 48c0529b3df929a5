/*

This file provides a fixture-backed market data provider for deterministic
replays and tests.

*/

package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/origins-protocol/opr/internal/types"
	"github.com/origins-protocol/opr/internal/utils"
)

// ReplayProvider serves a fixed snapshot on every Fetch. Assets the fixture
// does not cover are reported as unresolved with ErrPartialData, exactly like
// the live provider, so replay runs exercise the same caller paths.
type ReplayProvider struct {
	snapshot types.MarketDataSnapshot
}

func NewReplayProvider(snapshot types.MarketDataSnapshot) *ReplayProvider {
	return &ReplayProvider{snapshot: snapshot}
}

// replayFixture is the on-disk shape: decimal strings keyed by asset id, so
// fixtures survive editing by hand without precision loss.
type replayFixture struct {
	CapturedAt time.Time         `json:"captured_at"`
	Prices     map[string]string `json:"prices"`
	Depths     map[string]string `json:"depths"`
}

// LoadReplayProvider reads a snapshot fixture from a JSON file.
func LoadReplayProvider(path string) (*ReplayProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading replay fixture: %w", err)
	}
	var fixture replayFixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return nil, fmt.Errorf("decoding replay fixture %s: %w", path, err)
	}

	snapshot := types.MarketDataSnapshot{
		CapturedAt: fixture.CapturedAt,
		Prices:     make(map[types.AssetID]sdkmath.LegacyDec, len(fixture.Prices)),
		Depths:     make(map[types.AssetID]sdkmath.LegacyDec, len(fixture.Depths)),
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = time.Now().UTC()
	}
	for id, value := range fixture.Prices {
		price, err := utils.ParseDec(value)
		if err != nil {
			return nil, fmt.Errorf("fixture price for %s: %w", id, err)
		}
		snapshot.Prices[types.AssetID(id)] = price
	}
	for id, value := range fixture.Depths {
		depth, err := utils.ParseDec(value)
		if err != nil {
			return nil, fmt.Errorf("fixture depth for %s: %w", id, err)
		}
		snapshot.Depths[types.AssetID(id)] = depth
	}
	return NewReplayProvider(snapshot), nil
}

func (r *ReplayProvider) Fetch(ctx context.Context, assetIDs []types.AssetID) (types.MarketDataSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.MarketDataSnapshot{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	snapshot := types.MarketDataSnapshot{
		CapturedAt: r.snapshot.CapturedAt,
		Prices:     make(map[types.AssetID]sdkmath.LegacyDec, len(assetIDs)),
		Depths:     make(map[types.AssetID]sdkmath.LegacyDec, len(assetIDs)),
	}
	for _, id := range assetIDs {
		if price, ok := r.snapshot.Prices[id]; ok {
			snapshot.Prices[id] = price
		} else {
			snapshot.Unresolved = append(snapshot.Unresolved, id)
			continue
		}
		if depth, ok := r.snapshot.Depths[id]; ok {
			snapshot.Depths[id] = depth
		}
	}

	if len(snapshot.Unresolved) > 0 {
		return snapshot, fmt.Errorf("%w: %d of %d assets unresolved", ErrPartialData, len(snapshot.Unresolved), len(assetIDs))
	}
	return snapshot, nil
}
