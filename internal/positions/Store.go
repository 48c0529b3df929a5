/*

This file defines where positions come from. The scheduler only sees the Store
interface; live runs use the on-chain contract, replays and tests use fixtures.

*/

package positions

import (
	"context"
	"errors"

	"github.com/origins-protocol/opr/internal/types"
)

// ErrStore marks a failure to enumerate positions. Store errors abort the
// observing cycle only; the process stays up and retries on the next tick.
var ErrStore = errors.New("position store failure")

// Store enumerates the positions to analyze this cycle. List returns a fresh
// slice on every call; callers own the result and may reorder it freely.
type Store interface {
	List(ctx context.Context) ([]types.Position, error)
}
