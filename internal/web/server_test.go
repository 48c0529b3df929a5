package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/origins-protocol/opr/internal/scheduler"
	"github.com/origins-protocol/opr/internal/types"
)

type fakeStatus struct {
	state  scheduler.State
	result *types.CycleResult
	err    string
}

func (f *fakeStatus) CurrentState() scheduler.State  { return f.state }
func (f *fakeStatus) LastResult() *types.CycleResult { return f.result }
func (f *fakeStatus) LastError() string              { return f.err }

func dec(s string) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(s)
}

func testServer(status *fakeStatus) *WebServer {
	params := types.EngineParameters{
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
	return NewWebServer("0", status, params)
}

func TestHandleGetParameters(t *testing.T) {
	ws := testServer(&fakeStatus{state: scheduler.StateIdle})

	recorder := httptest.NewRecorder()
	ws.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/parameters", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if payload["w_risk"] != "0.600000000000000000" {
		t.Errorf("w_risk = %v", payload["w_risk"])
	}
	if payload["max_positions"] != float64(10) {
		t.Errorf("max_positions = %v", payload["max_positions"])
	}
}

func TestHandleHealth_DegradedWithoutDatabase(t *testing.T) {
	// No database pool is initialized in tests, so health must degrade but
	// still report the scheduler's state.
	ws := testServer(&fakeStatus{state: scheduler.StateIdle, err: "fetch: boom"})

	recorder := httptest.NewRecorder()
	ws.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if payload["status"] != "degraded" {
		t.Errorf("status field = %v, want degraded", payload["status"])
	}
	if payload["scheduler_state"] != string(scheduler.StateIdle) {
		t.Errorf("scheduler_state = %v", payload["scheduler_state"])
	}
	if payload["last_cycle_error"] != "fetch: boom" {
		t.Errorf("last_cycle_error = %v", payload["last_cycle_error"])
	}
}

func TestHandleGetCycles_RejectsBadLimit(t *testing.T) {
	ws := testServer(&fakeStatus{state: scheduler.StateIdle})

	for _, limit := range []string{"0", "-5", "1000", "abc"} {
		recorder := httptest.NewRecorder()
		ws.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/cycles?limit="+limit, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("limit %q: status = %d, want 400", limit, recorder.Code)
		}
	}
}
