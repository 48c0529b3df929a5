/*

This file fetches live prices and market depth from a Uniswap-v3-style
subgraph over GraphQL.

Each request is retried with exponential backoff and every returned value is
strictly validated before it enters a snapshot: the scores computed from this
data drive real capital decisions, so a malformed field is an error, never a
silent zero.

*/

package datafetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/origins-protocol/opr/internal/logger"
	"github.com/origins-protocol/opr/internal/types"
	"github.com/origins-protocol/opr/internal/utils"
)

var graphLogger = logger.GetForComponent("graph_provider")

const (
	MAX_RETRIES     = 3
	TIMEOUT_SECONDS = 15
	TOP_POOLS_LIMIT = 1000 // Hard upper bound for a single top-pools listing.
)

// GraphProvider implements MarketDataProvider against a hosted subgraph
// endpoint. The zero value is not usable; construct with NewGraphProvider.
type GraphProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewGraphProvider(endpoint, apiKey string) (*GraphProvider, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("subgraph endpoint is required")
	}
	return &GraphProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
	}, nil
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphErrorItem struct {
	Message string `json:"message"`
}

type graphEnvelope struct {
	Data   json.RawMessage  `json:"data"`
	Errors []graphErrorItem `json:"errors"`
}

type graphToken struct {
	ID                  string `json:"id"`
	Symbol              string `json:"symbol"`
	Decimals            string `json:"decimals"`
	DerivedETH          string `json:"derivedETH"`
	TotalValueLockedUSD string `json:"totalValueLockedUSD"`
}

// Pool mirrors the subgraph's pool entity; numeric fields stay strings until a
// caller needs them as decimals.
type Pool struct {
	ID                  string    `json:"id"`
	FeeTier             string    `json:"feeTier"`
	Liquidity           string    `json:"liquidity"`
	VolumeUSD           string    `json:"volumeUSD"`
	TotalValueLockedUSD string    `json:"totalValueLockedUSD"`
	Token0              PoolToken `json:"token0"`
	Token1              PoolToken `json:"token1"`
}

type PoolToken struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals string `json:"decimals"`
}

const snapshotQuery = `
query Snapshot($ids: [ID!]!) {
  bundle(id: "1") { ethPriceUSD }
  tokens(where: { id_in: $ids }) {
    id
    symbol
    decimals
    derivedETH
    totalValueLockedUSD
  }
}`

// Fetch resolves prices and depths for the requested assets. Assets the
// subgraph does not know are reported through the snapshot's Unresolved list
// together with ErrPartialData; the partial snapshot is still returned so the
// caller's policy can choose to proceed with it.
func (g *GraphProvider) Fetch(ctx context.Context, assetIDs []types.AssetID) (types.MarketDataSnapshot, error) {
	ids := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		ids = append(ids, strings.ToLower(string(id)))
	}

	var payload struct {
		Bundle struct {
			ETHPriceUSD string `json:"ethPriceUSD"`
		} `json:"bundle"`
		Tokens []graphToken `json:"tokens"`
	}
	if err := g.query(ctx, snapshotQuery, map[string]any{"ids": ids}, &payload); err != nil {
		return types.MarketDataSnapshot{}, err
	}

	ethPrice, err := utils.ParseDec(payload.Bundle.ETHPriceUSD)
	if err != nil {
		return types.MarketDataSnapshot{}, fmt.Errorf("%w: bad bundle price %q: %v", ErrNetwork, payload.Bundle.ETHPriceUSD, err)
	}
	if !ethPrice.IsPositive() {
		return types.MarketDataSnapshot{}, fmt.Errorf("%w: non-positive ETH reference price %s", ErrNetwork, ethPrice)
	}

	snapshot := types.MarketDataSnapshot{
		CapturedAt: time.Now().UTC(),
		Prices:     make(map[types.AssetID]sdkmath.LegacyDec, len(assetIDs)),
		Depths:     make(map[types.AssetID]sdkmath.LegacyDec, len(assetIDs)),
	}

	resolved := make(map[string]bool, len(payload.Tokens))
	for _, token := range payload.Tokens {
		price, depth, err := validateToken(token, ethPrice)
		if err != nil {
			graphLogger.Warn().
				Err(err).
				Str("token", token.ID).
				Str("symbol", token.Symbol).
				Msg("Rejected token data point")
			continue
		}
		assetID := types.AssetID(strings.ToLower(token.ID))
		snapshot.Prices[assetID] = price
		snapshot.Depths[assetID] = depth
		resolved[string(assetID)] = true
	}

	for _, id := range assetIDs {
		if !resolved[strings.ToLower(string(id))] {
			snapshot.Unresolved = append(snapshot.Unresolved, id)
		}
	}

	if len(snapshot.Unresolved) > 0 {
		graphLogger.Warn().
			Int("requested", len(assetIDs)).
			Int("resolved", len(resolved)).
			Msg("Snapshot is missing assets")
		return snapshot, fmt.Errorf("%w: %d of %d assets unresolved", ErrPartialData, len(snapshot.Unresolved), len(assetIDs))
	}

	graphLogger.Debug().
		Int("assets", len(assetIDs)).
		Time("capturedAt", snapshot.CapturedAt).
		Msg("Snapshot complete")
	return snapshot, nil
}

// validateToken converts one subgraph token entity into a USD price and depth,
// rejecting anything non-finite, non-positive priced, or unparsable.
func validateToken(token graphToken, ethPrice sdkmath.LegacyDec) (price, depth sdkmath.LegacyDec, err error) {
	zero := sdkmath.LegacyZeroDec()
	derived, err := utils.ParseDec(token.DerivedETH)
	if err != nil {
		return zero, zero, fmt.Errorf("derivedETH: %w", err)
	}
	price = derived.Mul(ethPrice)
	if !price.IsPositive() {
		return zero, zero, fmt.Errorf("non-positive USD price %s", price)
	}

	depth, err = utils.ParseDec(token.TotalValueLockedUSD)
	if err != nil {
		return zero, zero, fmt.Errorf("totalValueLockedUSD: %w", err)
	}
	if depth.IsNegative() {
		return zero, zero, fmt.Errorf("negative depth %s", depth)
	}
	return price, depth, nil
}

const topPoolsQuery = `
query TopPools($first: Int!, $skip: Int!) {
  pools(first: $first, skip: $skip, orderBy: totalValueLockedUSD, orderDirection: desc) {
    id
    feeTier
    liquidity
    volumeUSD
    totalValueLockedUSD
    token0 { id symbol name decimals }
    token1 { id symbol name decimals }
  }
}`

// TopPools lists the n pools with the largest locked value, paginating the
// subgraph in fixed pages. Used by the one-shot listing command, not by the
// recommendation cycle.
func (g *GraphProvider) TopPools(ctx context.Context, n int) ([]Pool, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > TOP_POOLS_LIMIT {
		n = TOP_POOLS_LIMIT
	}

	const pageSize = 100
	var all []Pool
	for skip := 0; len(all) < n; skip += pageSize {
		var payload struct {
			Pools []Pool `json:"pools"`
		}
		vars := map[string]any{"first": pageSize, "skip": skip}
		if err := g.query(ctx, topPoolsQuery, vars, &payload); err != nil {
			return nil, err
		}
		if len(payload.Pools) == 0 {
			break
		}
		all = append(all, payload.Pools...)
	}
	if len(all) > n {
		all = all[:n]
	}
	graphLogger.Info().Int("count", len(all)).Msg("Fetched top pools")
	return all, nil
}

const poolByIDQuery = `
query PoolById($id: ID!) {
  pool(id: $id) {
    id
    feeTier
    liquidity
    volumeUSD
    totalValueLockedUSD
    token0 { id symbol name decimals }
    token1 { id symbol name decimals }
  }
}`

// PoolByID fetches one pool entity; a nil result with nil error means the
// subgraph has no pool under that id.
func (g *GraphProvider) PoolByID(ctx context.Context, poolID string) (*Pool, error) {
	var payload struct {
		Pool *Pool `json:"pool"`
	}
	vars := map[string]any{"id": strings.ToLower(poolID)}
	if err := g.query(ctx, poolByIDQuery, vars, &payload); err != nil {
		return nil, err
	}
	return payload.Pool, nil
}

const poolByPositionQuery = `
query PositionById($id: ID!) {
  position(id: $id) {
    id
    pool { id }
  }
}`

// PoolByPositionID resolves a position NFT id to its pool, then fetches the
// pool entity.
func (g *GraphProvider) PoolByPositionID(ctx context.Context, positionID string) (*Pool, error) {
	var payload struct {
		Position *struct {
			Pool struct {
				ID string `json:"id"`
			} `json:"pool"`
		} `json:"position"`
	}
	if err := g.query(ctx, poolByPositionQuery, map[string]any{"id": positionID}, &payload); err != nil {
		return nil, err
	}
	if payload.Position == nil {
		return nil, nil
	}
	return g.PoolByID(ctx, payload.Position.Pool.ID)
}

// query runs one GraphQL request with bounded retries and decodes the data
// envelope into out. Transport failures and 5xx responses are retried with
// exponential backoff; graph-level errors and 4xx responses are terminal.
func (g *GraphProvider) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encoding graph request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		graphLogger.Debug().
			Str("endpoint", g.endpoint).
			Int("attempt", attempt).
			Msg("Sending graph request")

		data, retryable, err := g.doOnce(ctx, body)
		if err == nil {
			return json.Unmarshal(data, out)
		}
		lastErr = err
		if !retryable || attempt == MAX_RETRIES {
			break
		}

		backoff := time.Duration(attempt) * 300 * time.Millisecond
		graphLogger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Graph request failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, lastErr)
	}
	return lastErr
}

func (g *GraphProvider) doOnce(ctx context.Context, body []byte) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, false, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, true, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode >= 500, fmt.Errorf("%w: status %d: %s", ErrNetwork, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope graphEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false, fmt.Errorf("%w: decoding envelope: %v", ErrNetwork, err)
	}
	if len(envelope.Errors) > 0 {
		return nil, false, fmt.Errorf("%w: graph error: %s", ErrNetwork, envelope.Errors[0].Message)
	}
	if envelope.Data == nil {
		return nil, false, fmt.Errorf("%w: response missing data field", ErrNetwork)
	}
	return envelope.Data, false, nil
}
