/*

This file contains the cycle scheduler: the periodic loop that drives
fetch -> analyze -> rank -> emit and owns the cycle state machine.

One cycle runs at a time. Ticks that arrive while a cycle is in flight are
dropped, not queued, so a slow cycle can never build a backlog of stale work.
A failed stage fails that cycle only; the process stays up and the next tick
starts from a clean slate.

*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/origins-protocol/opr/internal/analyzer"
	"github.com/origins-protocol/opr/internal/datafetcher"
	"github.com/origins-protocol/opr/internal/engine"
	"github.com/origins-protocol/opr/internal/logger"
	"github.com/origins-protocol/opr/internal/metrics"
	"github.com/origins-protocol/opr/internal/positions"
	"github.com/origins-protocol/opr/internal/types"
)

// State is the scheduler's observable lifecycle state.
type State string

const (
	StateIdle      State = "IDLE"
	StateFetching  State = "FETCHING"
	StateAnalyzing State = "ANALYZING"
	StateRanking   State = "RANKING"
	StateEmitting  State = "EMITTING"
	StateFailed    State = "FAILED"
)

// Stage labels for failure accounting.
const (
	stageFetch   = "fetch"
	stageAnalyze = "analyze"
	stageRank    = "rank"
	stageEmit    = "emit"
)

// Sink receives a completed cycle's output. Emission is all or nothing: if
// Emit returns an error the cycle fails and consumers keep seeing the previous
// cycle's output.
type Sink interface {
	Emit(result types.CycleResult) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(result types.CycleResult) error

func (f SinkFunc) Emit(result types.CycleResult) error { return f(result) }

// Config holds the scheduler's dependencies and tuning.
type Config struct {
	Provider datafetcher.MarketDataProvider
	Store    positions.Store
	Sink     Sink
	Params   types.EngineParameters

	StageTimeout          time.Duration
	AllowPartialSnapshots bool

	// NextCycleNumber supplies the persistent cycle counter. When nil the
	// scheduler falls back to an in-process counter starting at 1.
	NextCycleNumber func() (int, error)

	// Now is the clock used for staleness checks; defaults to time.Now.
	Now func() time.Time
}

// Scheduler drives recommendation cycles on a fixed interval.
type Scheduler struct {
	logger zerolog.Logger

	provider datafetcher.MarketDataProvider
	store    positions.Store
	sink     Sink
	params   types.EngineParameters

	stageTimeout time.Duration
	allowPartial bool
	nextNumber   func() (int, error)
	now          func() time.Time

	inFlight atomic.Bool

	mu         sync.RWMutex
	state      State
	lastResult *types.CycleResult
	lastError  string

	localCounter int
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Provider == nil {
		return nil, errors.New("market data provider cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("position store cannot be nil")
	}
	if cfg.Sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if cfg.StageTimeout <= 0 {
		return nil, errors.New("stage timeout must be positive")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("engine parameters invalid: %w", err)
	}

	s := &Scheduler{
		logger:       logger.GetForComponent("scheduler"),
		provider:     cfg.Provider,
		store:        cfg.Store,
		sink:         cfg.Sink,
		params:       cfg.Params,
		stageTimeout: cfg.StageTimeout,
		allowPartial: cfg.AllowPartialSnapshots,
		nextNumber:   cfg.NextCycleNumber,
		now:          cfg.Now,
		state:        StateIdle,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.nextNumber == nil {
		s.nextNumber = func() (int, error) {
			s.localCounter++
			return s.localCounter, nil
		}
	}
	return s, nil
}

// RunLoop runs cycles until the context is cancelled. The first cycle starts
// immediately; afterwards one cycle is attempted per tick, and ticks that land
// while a cycle is still running are dropped.
func (s *Scheduler) RunLoop(ctx context.Context, interval time.Duration) {
	s.logger.Info().
		Dur("interval", interval).
		Dur("stageTimeout", s.stageTimeout).
		Msg("Starting recommendation loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tryRunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Recommendation loop stopped")
			return
		case <-ticker.C:
			s.tryRunCycle(ctx)
		}
	}
}

// tryRunCycle starts a cycle unless one is already in flight. The cycle runs
// on its own goroutine so the loop keeps observing ticks; a tick that lands
// mid-cycle is dropped rather than queued behind it.
func (s *Scheduler) tryRunCycle(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.TicksDropped.Inc()
		s.logger.Warn().Msg("Tick dropped: previous cycle still running")
		return
	}
	go func() {
		defer s.inFlight.Store(false)
		s.RunCycle(ctx)
	}()
}

// RunCycle executes one complete cycle. Every failure path logs, records the
// failed stage, and returns; nothing here terminates the process.
func (s *Scheduler) RunCycle(ctx context.Context) {
	cycleStart := s.now()
	cycleID := uuid.New().String()
	cycleLogger := s.logger.With().Str("cycle_id", cycleID).Logger()

	cycleNumber, err := s.nextNumber()
	if err != nil {
		s.failCycle(cycleLogger, stageFetch, cycleStart, fmt.Errorf("cycle counter: %w", err))
		return
	}
	cycleLogger.Info().Int("cycleNumber", cycleNumber).Msg("--- Starting recommendation cycle ---")

	// --- Stage 1: Fetch ---
	s.setState(StateFetching)
	book, snapshot, err := s.fetchStage(ctx, cycleLogger)
	if err != nil {
		s.failCycle(cycleLogger, stageFetch, cycleStart, err)
		return
	}
	if len(book) == 0 {
		// An empty book is a valid, empty result, not a failure.
		cycleLogger.Info().Msg("No open positions; emitting empty cycle")
	}

	// --- Stage 2: Analyze ---
	s.setState(StateAnalyzing)
	scores, exclusions, err := s.analyzeStage(ctx, cycleLogger, book, snapshot)
	if err != nil {
		s.failCycle(cycleLogger, stageAnalyze, cycleStart, err)
		return
	}

	// --- Stage 3: Rank ---
	s.setState(StateRanking)
	recommendations, thresholdExclusions := engine.Rank(scores, s.params)
	exclusions = append(exclusions, thresholdExclusions...)
	portfolio := engine.ComputePortfolioMetrics(scores)
	cycleLogger.Info().
		Int("scored", len(scores)).
		Int("recommendations", len(recommendations)).
		Int("exclusions", len(exclusions)).
		Msg("Ranking complete")

	result := types.CycleResult{
		CycleNumber:     cycleNumber,
		CycleID:         cycleID,
		StartedAt:       cycleStart,
		SnapshotAt:      snapshot.CapturedAt,
		Recommendations: recommendations,
		Exclusions:      exclusions,
		Metrics:         portfolio,
		Duration:        s.now().Sub(cycleStart),
	}

	// --- Stage 4: Emit ---
	s.setState(StateEmitting)
	if err := s.sink.Emit(result); err != nil {
		s.failCycle(cycleLogger, stageEmit, cycleStart, fmt.Errorf("emitting cycle result: %w", err))
		return
	}

	for _, rec := range recommendations {
		metrics.RecommendationsEmitted.WithLabelValues(string(rec.Action)).Inc()
	}
	metrics.ObserveCycle("success", result.Duration)

	s.mu.Lock()
	s.state = StateIdle
	s.lastResult = &result
	s.lastError = ""
	s.mu.Unlock()

	cycleLogger.Info().
		Int("cycleNumber", cycleNumber).
		Dur("duration", result.Duration).
		Msg("--- Cycle complete ---")
}

// fetchStage loads the position book and the market snapshot under one stage
// deadline.
func (s *Scheduler) fetchStage(ctx context.Context, cycleLogger zerolog.Logger) ([]types.Position, types.MarketDataSnapshot, error) {
	stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	book, err := s.store.List(stageCtx)
	if err != nil {
		return nil, types.MarketDataSnapshot{}, fmt.Errorf("listing positions: %w", err)
	}

	assetIDs := uniqueAssets(book)
	snapshot, err := s.provider.Fetch(stageCtx, assetIDs)
	if err != nil {
		if errors.Is(err, datafetcher.ErrPartialData) && s.allowPartial {
			cycleLogger.Warn().
				Int("unresolved", len(snapshot.Unresolved)).
				Msg("Proceeding with partial snapshot")
			return book, snapshot, nil
		}
		return nil, types.MarketDataSnapshot{}, fmt.Errorf("fetching market data: %w", err)
	}

	cycleLogger.Info().
		Int("positions", len(book)).
		Int("assets", len(assetIDs)).
		Msg("Fetch complete")
	return book, snapshot, nil
}

// analyzeStage scores every position against the snapshot. Positions are
// independent, so scoring fans out across goroutines; per-position errors
// become exclusions, they never fail the stage.
func (s *Scheduler) analyzeStage(ctx context.Context, cycleLogger zerolog.Logger, book []types.Position, snapshot types.MarketDataSnapshot) ([]types.Score, []types.Exclusion, error) {
	stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
	defer cancel()

	now := s.now()
	type outcome struct {
		score     types.Score
		exclusion *types.Exclusion
	}
	outcomes := make([]outcome, len(book))

	var wg sync.WaitGroup
	for i, position := range book {
		wg.Add(1)
		go func(i int, position types.Position) {
			defer wg.Done()
			score, err := analyzer.ScorePosition(position, snapshot, now, s.params)
			if err != nil {
				outcomes[i] = outcome{exclusion: &types.Exclusion{
					PositionID: position.ID,
					Reason:     err.Error(),
				}}
				metrics.PositionsExcluded.WithLabelValues(exclusionClass(err)).Inc()
				return
			}
			outcomes[i] = outcome{score: score}
		}(i, position)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-stageCtx.Done():
		return nil, nil, fmt.Errorf("analysis stage: %w", stageCtx.Err())
	}

	var scores []types.Score
	var exclusions []types.Exclusion
	for _, o := range outcomes {
		if o.exclusion != nil {
			exclusions = append(exclusions, *o.exclusion)
			continue
		}
		scores = append(scores, o.score)
	}
	metrics.PositionsScored.Add(float64(len(scores)))

	cycleLogger.Info().
		Int("scored", len(scores)).
		Int("excluded", len(exclusions)).
		Msg("Analysis complete")
	return scores, exclusions, nil
}

// failCycle records a failed cycle and returns the scheduler to Idle so the
// next tick starts clean. The previous successful result stays published.
func (s *Scheduler) failCycle(cycleLogger zerolog.Logger, stage string, cycleStart time.Time, err error) {
	cycleLogger.Error().Err(err).Str("stage", stage).Msg("Cycle failed")
	metrics.CycleFailures.WithLabelValues(stage).Inc()
	metrics.ObserveCycle("failure", s.now().Sub(cycleStart))

	s.mu.Lock()
	s.state = StateFailed
	s.lastError = fmt.Sprintf("%s: %v", stage, err)
	s.mu.Unlock()

	// Failed is transient: once recorded, the scheduler is idle again.
	s.setState(StateIdle)
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// CurrentState reports the lifecycle state for health endpoints.
func (s *Scheduler) CurrentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastResult returns the most recent successful cycle output, or nil before
// the first success.
func (s *Scheduler) LastResult() *types.CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// LastError returns the most recent cycle failure description, empty after a
// successful cycle.
func (s *Scheduler) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// uniqueAssets collects the distinct asset ids of the book in sorted order so
// provider requests are reproducible.
func uniqueAssets(book []types.Position) []types.AssetID {
	seen := make(map[types.AssetID]bool, len(book))
	var ids []types.AssetID
	for _, position := range book {
		if !seen[position.AssetID] {
			seen[position.AssetID] = true
			ids = append(ids, position.AssetID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// exclusionClass maps an analyzer error to its metrics label.
func exclusionClass(err error) string {
	switch {
	case errors.Is(err, analyzer.ErrMissingPriceData):
		return "missing_price"
	case errors.Is(err, analyzer.ErrStaleInput):
		return "stale_input"
	case errors.Is(err, analyzer.ErrInvalidPosition):
		return "invalid_position"
	default:
		return "other"
	}
}
