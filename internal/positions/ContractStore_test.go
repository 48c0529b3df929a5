package positions

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/origins-protocol/opr/internal/types"
)

const testContract = "0x1111111111111111111111111111111111111111"

func hexWord(value *big.Int) string {
	word := make([]byte, 32)
	value.FillBytes(word)
	return hex.EncodeToString(word)
}

func addressAsWord(addr string) string {
	padded := make([]byte, 32)
	raw, _ := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	copy(padded[12:], raw)
	return hex.EncodeToString(padded)
}

// registryServer fakes the two registry getters behind eth_call, keyed by the
// 4-byte selector at the head of the calldata.
func registryServer(t *testing.T, positions []map[string]string) *ContractStore {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding rpc request: %v", err)
		}
		if req.Method != "eth_call" {
			t.Fatalf("unexpected method %s", req.Method)
		}
		call := req.Params[0].(map[string]any)
		data := strings.TrimPrefix(call["data"].(string), "0x")

		sel := selector(sigPositionCount)
		var result string
		if strings.HasPrefix(data, hex.EncodeToString(sel)) {
			result = hexWord(big.NewInt(int64(len(positions))))
		} else {
			index := new(big.Int)
			index.SetString(data[8:], 16)
			p := positions[index.Int64()]
			result = addressAsWord(p["owner"]) +
				addressAsWord(p["asset"]) +
				p["collateral"] +
				p["debt"] +
				p["updated"]
		}
		json.NewEncoder(w).Encode(map[string]string{"result": "0x" + result})
	}))
	t.Cleanup(server.Close)

	store, err := NewContractStore(server.URL, testContract)
	if err != nil {
		t.Fatalf("building store: %v", err)
	}
	return store
}

func TestContractStore_ListDecodesRegistryLayout(t *testing.T) {
	collateral, _ := new(big.Int).SetString("1500000000000000000000", 10) // 1500 * 1e18
	debt, _ := new(big.Int).SetString("600000000000000000000", 10)       // 600 * 1e18
	updated := time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)

	store := registryServer(t, []map[string]string{
		{
			"owner":      "0x2222222222222222222222222222222222222222",
			"asset":      "0x82af49447d8a07e3bd95bd0d56f35241523fbab1",
			"collateral": hexWord(collateral),
			"debt":       hexWord(debt),
			"updated":    hexWord(big.NewInt(updated.Unix())),
		},
	})

	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("position count = %d, want 1", len(list))
	}

	p := list[0]
	if p.ID != types.PositionID("0") {
		t.Errorf("id = %s, want 0", p.ID)
	}
	if p.Owner != "0x2222222222222222222222222222222222222222" {
		t.Errorf("owner = %s", p.Owner)
	}
	if p.AssetID != types.AssetID("0x82af49447d8a07e3bd95bd0d56f35241523fbab1") {
		t.Errorf("asset = %s", p.AssetID)
	}
	if !p.CollateralValue.Equal(sdkmath.LegacyMustNewDecFromStr("1500")) {
		t.Errorf("collateral = %s, want 1500", p.CollateralValue)
	}
	if !p.DebtValue.Equal(sdkmath.LegacyMustNewDecFromStr("600")) {
		t.Errorf("debt = %s, want 600", p.DebtValue)
	}
	if !p.LastUpdated.Equal(updated) {
		t.Errorf("last updated = %s, want %s", p.LastUpdated, updated)
	}
}

func TestContractStore_EmptyRegistry(t *testing.T) {
	store := registryServer(t, nil)
	list, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d positions", len(list))
	}
}

func TestContractStore_RPCErrorIsStoreError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": -32000, "message": "execution reverted"},
		})
	}))
	t.Cleanup(server.Close)

	store, err := NewContractStore(server.URL, testContract)
	if err != nil {
		t.Fatalf("building store: %v", err)
	}
	_, err = store.List(context.Background())
	if !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
}

func TestNewContractStore_RejectsBadAddress(t *testing.T) {
	if _, err := NewContractStore("http://localhost:8545", "not-an-address"); err == nil {
		t.Fatal("expected an error for a malformed contract address")
	}
}

func TestStaticStore_ReturnsFreshCopies(t *testing.T) {
	store := NewStaticStore([]types.Position{
		{ID: "a", AssetID: "0x01", CollateralValue: sdkmath.LegacyNewDec(10), DebtValue: sdkmath.LegacyZeroDec(), LastUpdated: time.Now()},
		{ID: "b", AssetID: "0x02", CollateralValue: sdkmath.LegacyNewDec(20), DebtValue: sdkmath.LegacyZeroDec(), LastUpdated: time.Now()},
	})

	first, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first[0], first[1] = first[1], first[0]

	second, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second[0].ID != "a" {
		t.Error("mutating a returned slice must not affect later calls")
	}
}
