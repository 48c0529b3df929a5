/*

This file provides a fixture-backed position store for replays and tests.

*/

package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/origins-protocol/opr/internal/types"
	"github.com/origins-protocol/opr/internal/utils"
)

// StaticStore serves a fixed position list. Each List returns a fresh copy so
// callers can reorder or filter without affecting later cycles.
type StaticStore struct {
	positions []types.Position
}

func NewStaticStore(positions []types.Position) *StaticStore {
	return &StaticStore{positions: positions}
}

// staticFixture is the on-disk shape: decimal strings so fixtures are
// hand-editable without precision loss.
type staticFixture struct {
	Positions []struct {
		ID              string    `json:"id"`
		Owner           string    `json:"owner"`
		AssetID         string    `json:"asset_id"`
		CollateralValue string    `json:"collateral_value"`
		DebtValue       string    `json:"debt_value"`
		LiquidityDepth  string    `json:"liquidity_depth"`
		LastUpdated     time.Time `json:"last_updated"`
	} `json:"positions"`
}

// LoadStaticStore reads a position fixture from a JSON file.
func LoadStaticStore(path string) (*StaticStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading position fixture: %w", err)
	}
	var fixture staticFixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return nil, fmt.Errorf("decoding position fixture %s: %w", path, err)
	}

	list := make([]types.Position, 0, len(fixture.Positions))
	for _, p := range fixture.Positions {
		collateral, err := utils.ParseDec(p.CollateralValue)
		if err != nil {
			return nil, fmt.Errorf("fixture position %s collateral: %w", p.ID, err)
		}
		debt, err := utils.ParseDec(p.DebtValue)
		if err != nil {
			return nil, fmt.Errorf("fixture position %s debt: %w", p.ID, err)
		}
		position := types.Position{
			ID:              types.PositionID(p.ID),
			Owner:           p.Owner,
			AssetID:         types.AssetID(p.AssetID),
			CollateralValue: collateral,
			DebtValue:       debt,
			LastUpdated:     p.LastUpdated,
		}
		if p.LiquidityDepth != "" {
			depth, err := utils.ParseDec(p.LiquidityDepth)
			if err != nil {
				return nil, fmt.Errorf("fixture position %s depth: %w", p.ID, err)
			}
			position.LiquidityDepth = depth
		}
		list = append(list, position)
	}
	return NewStaticStore(list), nil
}

func (s *StaticStore) List(ctx context.Context) ([]types.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	out := make([]types.Position, len(s.positions))
	copy(out, s.positions)
	return out, nil
}
