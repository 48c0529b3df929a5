package analyzer

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/origins-protocol/opr/internal/types"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func testParams() types.EngineParameters {
	return types.EngineParameters{
		WRisk:               dec("0.6"),
		WLiquidity:          dec("0.4"),
		CriticalRiskCutoff:  dec("0.9"),
		RebalanceRiskCutoff: dec("0.5"),
		OpenLiquidityFloor:  dec("0.2"),
		PositionThreshold:   dec("100"),
		MaxPositions:        10,
		SafeHealthRatio:     dec("2.0"),
		DepthEpsilon:        dec("0.000001"),
		MaxStaleness:        15 * time.Minute,
	}
}

func testPosition(id string, collateral, debt, depth string) types.Position {
	return types.Position{
		ID:              types.PositionID(id),
		AssetID:         "0xaaaa000000000000000000000000000000000001",
		CollateralValue: dec(collateral),
		DebtValue:       dec(debt),
		LiquidityDepth:  dec(depth),
		LastUpdated:     testNow.Add(-time.Minute),
	}
}

func testSnapshot(price string, depth string) types.MarketDataSnapshot {
	return types.MarketDataSnapshot{
		CapturedAt: testNow,
		Prices: map[types.AssetID]sdkmath.LegacyDec{
			"0xaaaa000000000000000000000000000000000001": dec(price),
		},
		Depths: map[types.AssetID]sdkmath.LegacyDec{
			"0xaaaa000000000000000000000000000000000001": dec(depth),
		},
	}
}

func TestScorePosition_PureSupplyRiskIsExactlyZero(t *testing.T) {
	pos := testPosition("p1", "1000", "0", "5000")
	score, err := ScorePosition(pos, testSnapshot("1.0", "5000"), testNow, testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !score.RiskScore.IsZero() {
		t.Errorf("pure-supply risk score must be exactly zero, got %s", score.RiskScore)
	}
}

func TestScorePosition_ScoresStayInUnitRange(t *testing.T) {
	tests := []struct {
		name       string
		collateral string
		debt       string
		price      string
		depth      string
	}{
		{"undercollateralized", "50", "100", "1.0", "1000"},
		{"deeply undercollateralized", "1", "100000", "0.5", "10"},
		{"exactly at liquidation", "100", "100", "1.0", "500"},
		{"very safe", "100", "1", "1.0", "500"},
		{"thin depth", "100", "50", "2.0", "1"},
		{"zero depth", "100", "50", "1.0", "0"},
		{"huge numbers", "123456789.123456", "987654.321", "1234.5", "42"},
	}
	zero, one := sdkmath.LegacyZeroDec(), sdkmath.LegacyOneDec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := testPosition("p", tt.collateral, tt.debt, tt.depth)
			score, err := ScorePosition(pos, testSnapshot(tt.price, tt.depth), testNow, testParams())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, v := range []sdkmath.LegacyDec{score.RiskScore, score.Liquidity} {
				if v.LT(zero) || v.GT(one) {
					t.Errorf("score %s outside [0,1]", v)
				}
			}
		})
	}
}

func TestScorePosition_RiskCurve(t *testing.T) {
	// Linear clamp between ratio 1.0 (risk 1) and safe ratio 2.0 (risk 0).
	tests := []struct {
		name       string
		collateral string
		debt       string
		wantRisk   string
	}{
		{"ratio below one is max risk", "90", "100", "1.0"},
		{"ratio exactly one is max risk", "100", "100", "1.0"},
		{"midpoint of curve", "150", "100", "0.5"},
		{"at safe ratio", "200", "100", "0.0"},
		{"beyond safe ratio", "1000", "100", "0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := testPosition("p", tt.collateral, tt.debt, "100000")
			score, err := ScorePosition(pos, testSnapshot("1.0", "100000"), testNow, testParams())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !score.RiskScore.Equal(dec(tt.wantRisk)) {
				t.Errorf("risk score = %s, want %s", score.RiskScore, tt.wantRisk)
			}
		})
	}
}

func TestScorePosition_RiskiestPositionScoresHigher(t *testing.T) {
	// Position A (collateral 100, debt 90) sits near the critical boundary;
	// position B (collateral 100, debt 10) is comfortably safe.
	params := testParams()
	a, err := ScorePosition(testPosition("a", "100", "90", "100000"), testSnapshot("1.0", "100000"), testNow, params)
	if err != nil {
		t.Fatalf("score a: %v", err)
	}
	b, err := ScorePosition(testPosition("b", "100", "10", "100000"), testSnapshot("1.0", "100000"), testNow, params)
	if err != nil {
		t.Fatalf("score b: %v", err)
	}

	// A's health ratio is ~1.11 -> risk near the top of the curve.
	if a.RiskScore.LT(dec("0.8")) {
		t.Errorf("expected position A risk near critical, got %s", a.RiskScore)
	}
	if !b.RiskScore.IsZero() {
		t.Errorf("expected position B at zero risk (ratio 10), got %s", b.RiskScore)
	}
	if !a.Composite.GT(b.Composite) {
		t.Errorf("position A must outrank B: %s <= %s", a.Composite, b.Composite)
	}
}

func TestScorePosition_ZeroDepthIsWorstLiquidityNotError(t *testing.T) {
	pos := testPosition("p", "5", "1", "0")
	score, err := ScorePosition(pos, testSnapshot("1.0", "0"), testNow, testParams())
	if err != nil {
		t.Fatalf("zero depth must not be an error, got %v", err)
	}
	if !score.Liquidity.IsZero() {
		t.Errorf("liquidity score with zero depth = %s, want 0", score.Liquidity)
	}
}

func TestScorePosition_ZeroExitSizeIsPerfectLiquidity(t *testing.T) {
	pos := testPosition("p", "0", "0", "0")
	score, err := ScorePosition(pos, testSnapshot("1.0", "0"), testNow, testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !score.Liquidity.Equal(sdkmath.LegacyOneDec()) {
		t.Errorf("liquidity score with nothing to unwind = %s, want 1", score.Liquidity)
	}
}

func TestScorePosition_MissingPrice(t *testing.T) {
	pos := testPosition("p", "100", "50", "1000")
	pos.AssetID = "0xbbbb000000000000000000000000000000000002"
	_, err := ScorePosition(pos, testSnapshot("1.0", "1000"), testNow, testParams())
	if !errors.Is(err, ErrMissingPriceData) {
		t.Fatalf("expected ErrMissingPriceData, got %v", err)
	}
}

func TestScorePosition_StaleInput(t *testing.T) {
	pos := testPosition("p", "100", "50", "1000")
	pos.LastUpdated = testNow.Add(-time.Hour)
	_, err := ScorePosition(pos, testSnapshot("1.0", "1000"), testNow, testParams())
	if !errors.Is(err, ErrStaleInput) {
		t.Fatalf("expected ErrStaleInput, got %v", err)
	}
}

func TestScorePosition_NegativeCollateralRejected(t *testing.T) {
	pos := testPosition("p", "100", "50", "1000")
	pos.CollateralValue = dec("-1")
	_, err := ScorePosition(pos, testSnapshot("1.0", "1000"), testNow, testParams())
	if !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestScorePosition_SnapshotDepthPreferredOverPositionDepth(t *testing.T) {
	// Snapshot reports deep liquidity; the position's own stale depth is thin.
	pos := testPosition("p", "100", "50", "1")
	score, err := ScorePosition(pos, testSnapshot("1.0", "1000000"), testNow, testParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score.Liquidity.LT(dec("0.99")) {
		t.Errorf("expected near-perfect liquidity from snapshot depth, got %s", score.Liquidity)
	}
}
