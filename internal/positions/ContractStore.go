/*

This file reads positions straight from the registry contract over Ethereum
JSON-RPC.

The registry exposes a count plus an index getter with a fixed-layout return,
so decoding is plain word slicing: no event scanning, no log replay. Raw token
amounts are converted to decimals at the registry's fixed 18-decimal scale.

*/

package positions

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/origins-protocol/opr/internal/logger"
	"github.com/origins-protocol/opr/internal/types"
	"github.com/origins-protocol/opr/internal/utils"
)

var contractLogger = logger.GetForComponent("contract_store")

const (
	VALUE_DECIMALS  = 18 // Registry stores collateral and debt as 1e18 fixed-point USD.
	TIMEOUT_SECONDS = 15
	WORD_BYTES      = 32
)

// Registry getter signatures; selectors are derived at startup.
const (
	sigPositionCount = "getPositionCount()"
	sigPositionAt    = "positions(uint256)"
)

// ContractStore implements Store against the Origins position registry.
type ContractStore struct {
	rpcURL   string
	contract string
	client   *http.Client

	selCount []byte
	selAt    []byte
}

func NewContractStore(rpcURL, contractAddress string) (*ContractStore, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, errors.New("rpc url is required")
	}
	if !utils.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	return &ContractStore{
		rpcURL:   rpcURL,
		contract: strings.ToLower(contractAddress),
		client:   &http.Client{Timeout: TIMEOUT_SECONDS * time.Second},
		selCount: selector(sigPositionCount),
		selAt:    selector(sigPositionAt),
	}, nil
}

// List walks the registry: one call for the count, one per position. The
// registry is small by construction (it tracks one protocol's open book), so
// sequential calls inside the stage deadline are fine.
func (c *ContractStore) List(ctx context.Context) ([]types.Position, error) {
	countWords, err := c.ethCall(ctx, c.selCount)
	if err != nil {
		return nil, fmt.Errorf("%w: position count: %v", ErrStore, err)
	}
	if len(countWords) < 1 {
		return nil, fmt.Errorf("%w: position count returned no data", ErrStore)
	}
	count := new(big.Int).SetBytes(countWords[0])
	if !count.IsInt64() {
		return nil, fmt.Errorf("%w: implausible position count %s", ErrStore, count)
	}

	n := int(count.Int64())
	result := make([]types.Position, 0, n)
	for i := 0; i < n; i++ {
		position, err := c.positionAt(ctx, i)
		if err != nil {
			return nil, err
		}
		result = append(result, position)
	}

	contractLogger.Debug().
		Int("positions", len(result)).
		Str("contract", c.contract).
		Msg("Listed registry positions")
	return result, nil
}

// positionAt decodes the fixed five-word layout of positions(uint256):
// owner address, asset address, collateral 1e18, debt 1e18, last-updated
// unix seconds.
func (c *ContractStore) positionAt(ctx context.Context, index int) (types.Position, error) {
	data := append(append([]byte{}, c.selAt...), uintWord(index)...)
	words, err := c.ethCall(ctx, data)
	if err != nil {
		return types.Position{}, fmt.Errorf("%w: position %d: %v", ErrStore, index, err)
	}
	if len(words) < 5 {
		return types.Position{}, fmt.Errorf("%w: position %d returned %d words, want 5", ErrStore, index, len(words))
	}

	collateral, err := utils.RawUnitsToDec(new(big.Int).SetBytes(words[2]).String(), VALUE_DECIMALS)
	if err != nil {
		return types.Position{}, fmt.Errorf("%w: position %d collateral: %v", ErrStore, index, err)
	}
	debt, err := utils.RawUnitsToDec(new(big.Int).SetBytes(words[3]).String(), VALUE_DECIMALS)
	if err != nil {
		return types.Position{}, fmt.Errorf("%w: position %d debt: %v", ErrStore, index, err)
	}
	updated := new(big.Int).SetBytes(words[4])
	if !updated.IsInt64() {
		return types.Position{}, fmt.Errorf("%w: position %d has implausible timestamp %s", ErrStore, index, updated)
	}

	return types.Position{
		ID:              types.PositionID(fmt.Sprintf("%d", index)),
		Owner:           addressWord(words[0]),
		AssetID:         types.AssetID(addressWord(words[1])),
		CollateralValue: collateral,
		DebtValue:       debt,
		LastUpdated:     time.Unix(updated.Int64(), 0).UTC(),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error"`
}

// ethCall performs one eth_call against the registry and splits the returned
// payload into 32-byte words.
func (c *ContractStore) ethCall(ctx context.Context, calldata []byte) ([][]byte, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_call",
		Params: []any{
			map[string]string{
				"to":   c.contract,
				"data": "0x" + hex.EncodeToString(calldata),
			},
			"latest",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding rpc response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(decoded.Result, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decoding call result: %w", err)
	}
	if len(raw)%WORD_BYTES != 0 {
		return nil, fmt.Errorf("call result is %d bytes, not word aligned", len(raw))
	}

	words := make([][]byte, 0, len(raw)/WORD_BYTES)
	for offset := 0; offset < len(raw); offset += WORD_BYTES {
		words = append(words, raw[offset:offset+WORD_BYTES])
	}
	return words, nil
}

// selector returns the 4-byte function selector for a canonical signature.
func selector(signature string) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(signature))
	return hash.Sum(nil)[:4]
}

// uintWord left-pads a non-negative integer into one ABI word.
func uintWord(value int) []byte {
	word := make([]byte, WORD_BYTES)
	new(big.Int).SetInt64(int64(value)).FillBytes(word)
	return word
}

// addressWord extracts the 20-byte address from the low end of an ABI word.
func addressWord(word []byte) string {
	return "0x" + hex.EncodeToString(word[WORD_BYTES-20:])
}
