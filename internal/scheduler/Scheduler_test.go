package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/origins-protocol/opr/internal/datafetcher"
	"github.com/origins-protocol/opr/internal/positions"
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

type fakeProvider struct {
	mu       sync.Mutex
	snapshot types.MarketDataSnapshot
	err      error
	calls    int
	delay    time.Duration
}

func (f *fakeProvider) Fetch(ctx context.Context, assetIDs []types.AssetID) (types.MarketDataSnapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return types.MarketDataSnapshot{}, fmt.Errorf("%w: %v", datafetcher.ErrTimeout, ctx.Err())
		}
	}
	return f.snapshot, f.err
}

func (f *fakeProvider) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSink struct {
	mu      sync.Mutex
	results []types.CycleResult
	err     error
}

func (f *fakeSink) Emit(result types.CycleResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.results = append(f.results, result)
	return nil
}

func (f *fakeSink) emitted() []types.CycleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.CycleResult, len(f.results))
	copy(out, f.results)
	return out
}

const testAsset = types.AssetID("0xaaaa000000000000000000000000000000000001")

func testBook() []types.Position {
	return []types.Position{
		{
			ID:              "0",
			AssetID:         testAsset,
			CollateralValue: dec("1500"),
			DebtValue:       dec("1000"),
			LastUpdated:     testNow.Add(-time.Minute),
		},
		{
			ID:              "1",
			AssetID:         testAsset,
			CollateralValue: dec("1100"),
			DebtValue:       dec("1000"),
			LastUpdated:     testNow.Add(-time.Minute),
		},
	}
}

func testSnapshot() types.MarketDataSnapshot {
	return types.MarketDataSnapshot{
		CapturedAt: testNow,
		Prices:     map[types.AssetID]sdkmath.LegacyDec{testAsset: dec("1.0")},
		Depths:     map[types.AssetID]sdkmath.LegacyDec{testAsset: dec("1000000")},
	}
}

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Provider == nil {
		cfg.Provider = &fakeProvider{snapshot: testSnapshot()}
	}
	if cfg.Store == nil {
		cfg.Store = positions.NewStaticStore(testBook())
	}
	if cfg.Sink == nil {
		cfg.Sink = &fakeSink{}
	}
	if cfg.Params.WRisk.IsNil() {
		cfg.Params = testParams()
	}
	if cfg.StageTimeout == 0 {
		cfg.StageTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testNow }
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("building scheduler: %v", err)
	}
	return s
}

func TestRunCycle_EmitsRankedResult(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, Config{Sink: sink})

	s.RunCycle(context.Background())

	emitted := sink.emitted()
	if len(emitted) != 1 {
		t.Fatalf("expected one emitted result, got %d", len(emitted))
	}
	result := emitted[0]
	if result.CycleNumber != 1 {
		t.Errorf("cycle number = %d, want 1", result.CycleNumber)
	}
	if result.CycleID == "" {
		t.Error("cycle id must be set")
	}
	if len(result.Recommendations) != 2 {
		t.Fatalf("recommendations = %d, want 2", len(result.Recommendations))
	}
	// Position 1 (health ratio 1.1) must outrank position 0 (ratio 1.5).
	if result.Recommendations[0].PositionID != "1" {
		t.Errorf("top rank = %s, want position 1", result.Recommendations[0].PositionID)
	}
	if result.Recommendations[0].Action != types.ActionClose {
		t.Errorf("top action = %s, want CLOSE", result.Recommendations[0].Action)
	}
	if s.CurrentState() != StateIdle {
		t.Errorf("state after cycle = %s, want IDLE", s.CurrentState())
	}
	if s.LastResult() == nil {
		t.Error("last result must be published after a successful cycle")
	}
}

func TestRunCycle_FetchErrorFailsCycleNotProcess(t *testing.T) {
	sink := &fakeSink{}
	provider := &fakeProvider{err: fmt.Errorf("%w: connection refused", datafetcher.ErrNetwork)}
	s := newTestScheduler(t, Config{Provider: provider, Sink: sink})

	s.RunCycle(context.Background())

	if len(sink.emitted()) != 0 {
		t.Error("a failed cycle must emit nothing")
	}
	if s.LastError() == "" {
		t.Error("failure must be recorded")
	}
	if s.CurrentState() != StateIdle {
		t.Errorf("scheduler must recover to IDLE, got %s", s.CurrentState())
	}

	// The next cycle runs normally.
	provider.err = nil
	provider.snapshot = testSnapshot()
	s.RunCycle(context.Background())
	if len(sink.emitted()) != 1 {
		t.Error("scheduler must recover on the next cycle")
	}
	if s.LastError() != "" {
		t.Error("a successful cycle must clear the recorded failure")
	}
}

func TestRunCycle_PartialSnapshotPolicy(t *testing.T) {
	partial := testSnapshot()
	missing := types.AssetID("0xbbbb000000000000000000000000000000000002")
	partial.Unresolved = []types.AssetID{missing}
	partialErr := fmt.Errorf("%w: 1 of 2 assets unresolved", datafetcher.ErrPartialData)

	t.Run("fails by default", func(t *testing.T) {
		sink := &fakeSink{}
		s := newTestScheduler(t, Config{
			Provider: &fakeProvider{snapshot: partial, err: partialErr},
			Sink:     sink,
		})
		s.RunCycle(context.Background())
		if len(sink.emitted()) != 0 {
			t.Error("partial snapshot must fail the cycle by default")
		}
	})

	t.Run("proceeds when allowed", func(t *testing.T) {
		sink := &fakeSink{}
		s := newTestScheduler(t, Config{
			Provider:              &fakeProvider{snapshot: partial, err: partialErr},
			Sink:                  sink,
			AllowPartialSnapshots: true,
		})
		s.RunCycle(context.Background())
		if len(sink.emitted()) != 1 {
			t.Fatal("partial snapshot must be usable when the policy allows it")
		}
	})
}

func TestRunCycle_UnscorablePositionIsExcludedNotFatal(t *testing.T) {
	book := testBook()
	book[1].LastUpdated = testNow.Add(-time.Hour) // stale
	sink := &fakeSink{}
	s := newTestScheduler(t, Config{
		Store: positions.NewStaticStore(book),
		Sink:  sink,
	})

	s.RunCycle(context.Background())

	emitted := sink.emitted()
	if len(emitted) != 1 {
		t.Fatalf("cycle must succeed despite one unscorable position, got %d results", len(emitted))
	}
	result := emitted[0]
	if len(result.Recommendations) != 1 {
		t.Errorf("recommendations = %d, want 1", len(result.Recommendations))
	}
	if len(result.Exclusions) != 1 || result.Exclusions[0].PositionID != "1" {
		t.Errorf("stale position must appear in exclusions, got %+v", result.Exclusions)
	}
}

func TestRunCycle_EmitFailureKeepsPreviousResult(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, Config{Sink: sink})

	s.RunCycle(context.Background())
	first := s.LastResult()
	if first == nil {
		t.Fatal("first cycle must publish a result")
	}

	sink.mu.Lock()
	sink.err = errors.New("database unavailable")
	sink.mu.Unlock()
	s.RunCycle(context.Background())

	if got := s.LastResult(); got == nil || got.CycleID != first.CycleID {
		t.Error("a failed emission must leave the previous result published")
	}
}

func TestRunCycle_EmptyBookEmitsEmptyResult(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, Config{
		Store: positions.NewStaticStore(nil),
		Sink:  sink,
	})

	s.RunCycle(context.Background())

	emitted := sink.emitted()
	if len(emitted) != 1 {
		t.Fatalf("empty book must still emit a (empty) result, got %d", len(emitted))
	}
	if len(emitted[0].Recommendations) != 0 {
		t.Errorf("expected no recommendations, got %d", len(emitted[0].Recommendations))
	}
}

func TestRunCycle_StageTimeoutFailsCycle(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, Config{
		Provider:     &fakeProvider{snapshot: testSnapshot(), delay: 200 * time.Millisecond},
		Sink:         sink,
		StageTimeout: 20 * time.Millisecond,
	})

	s.RunCycle(context.Background())

	if len(sink.emitted()) != 0 {
		t.Error("a timed-out fetch must fail the cycle")
	}
	if s.LastError() == "" {
		t.Error("timeout must be recorded as the cycle failure")
	}
}

func TestRunLoop_DropsTicksWhileBusy(t *testing.T) {
	provider := &fakeProvider{snapshot: testSnapshot(), delay: 120 * time.Millisecond}
	sink := &fakeSink{}
	s := newTestScheduler(t, Config{Provider: provider, Sink: sink})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	// Interval far shorter than the cycle duration: every tick during the
	// first cycle must be dropped, not queued.
	s.RunLoop(ctx, 10*time.Millisecond)

	// Allow the in-flight cycle to wind down after cancellation.
	time.Sleep(50 * time.Millisecond)

	if got := provider.fetchCount(); got > 3 {
		t.Errorf("expected ticks to be dropped while busy, saw %d fetches", got)
	}
}

func TestRunCycle_CycleNumbersAreContinuous(t *testing.T) {
	sink := &fakeSink{}
	counter := 41
	s := newTestScheduler(t, Config{
		Sink: sink,
		NextCycleNumber: func() (int, error) {
			counter++
			return counter, nil
		},
	})

	s.RunCycle(context.Background())
	s.RunCycle(context.Background())

	emitted := sink.emitted()
	if len(emitted) != 2 || emitted[0].CycleNumber != 42 || emitted[1].CycleNumber != 43 {
		t.Errorf("cycle numbers must come from the injected counter, got %+v", emitted)
	}
}

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(Config{
		Store:        positions.NewStaticStore(nil),
		Sink:         &fakeSink{},
		Params:       testParams(),
		StageTimeout: time.Second,
	})
	if err == nil {
		t.Fatal("expected an error for a nil provider")
	}
}
