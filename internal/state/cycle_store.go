// ./internal/state/cycle_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/origins-protocol/opr/internal/types"
)

// SaveCycleResult persists a complete cycle output in one insert. Emission is
// all or nothing: a failed cycle never reaches this function, so the newest
// row is always the last known-good recommendation list.
func SaveCycleResult(result types.CycleResult) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	recommendationsJSON, err := json.Marshal(result.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	exclusionsJSON, err := json.Marshal(result.Exclusions)
	if err != nil {
		return fmt.Errorf("failed to marshal exclusions: %w", err)
	}
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	positionIDs := make([]string, 0, len(result.Recommendations))
	for _, rec := range result.Recommendations {
		positionIDs = append(positionIDs, string(rec.PositionID))
	}

	query := `
		INSERT INTO recommendation_cycles (
			cycle_id, cycle_number, started_at, snapshot_at, duration_ms,
			position_ids, recommendations, exclusions, metrics
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err = DB.Exec(
		query,
		result.CycleID, result.CycleNumber, result.StartedAt, result.SnapshotAt,
		result.Duration.Milliseconds(),
		pq.Array(positionIDs), recommendationsJSON, exclusionsJSON, metricsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle result: %w", err)
	}

	log.Debug().
		Str("cycleID", result.CycleID).
		Int("cycleNumber", result.CycleNumber).
		Int("recommendations", len(result.Recommendations)).
		Msg("Saved cycle result")
	return nil
}

// GetRecentCycles returns up to limit cycle results, newest first.
func GetRecentCycles(limit int) ([]types.CycleResult, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT cycle_id, cycle_number, started_at, snapshot_at, duration_ms,
		       recommendations, exclusions, metrics
		FROM recommendation_cycles
		ORDER BY cycle_number DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var results []types.CycleResult
	for rows.Next() {
		result, err := scanCycleRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// GetLatestCycle returns the most recent cycle result, or nil when no cycle
// has completed yet.
func GetLatestCycle() (*types.CycleResult, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT cycle_id, cycle_number, started_at, snapshot_at, duration_ms,
		       recommendations, exclusions, metrics
		FROM recommendation_cycles
		ORDER BY cycle_number DESC
		LIMIT 1;
	`
	result, err := scanCycleRow(DB.QueryRow(query).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

// GetCycleByID fetches one cycle by its uuid, or nil when unknown.
func GetCycleByID(cycleID string) (*types.CycleResult, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT cycle_id, cycle_number, started_at, snapshot_at, duration_ms,
		       recommendations, exclusions, metrics
		FROM recommendation_cycles
		WHERE cycle_id = $1;
	`
	result, err := scanCycleRow(DB.QueryRow(query, cycleID).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

// scanCycleRow decodes one recommendation_cycles row regardless of whether it
// came from Query or QueryRow.
func scanCycleRow(scan func(dest ...any) error) (types.CycleResult, error) {
	var (
		result     types.CycleResult
		durationMS int64
		recsJSON   []byte
		exclJSON   []byte
		metrJSON   []byte
	)
	err := scan(
		&result.CycleID, &result.CycleNumber, &result.StartedAt, &result.SnapshotAt,
		&durationMS, &recsJSON, &exclJSON, &metrJSON,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return result, err
		}
		return result, fmt.Errorf("failed to scan cycle row: %w", err)
	}

	result.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal(recsJSON, &result.Recommendations); err != nil {
		return result, fmt.Errorf("failed to unmarshal recommendations: %w", err)
	}
	if err := json.Unmarshal(exclJSON, &result.Exclusions); err != nil {
		return result, fmt.Errorf("failed to unmarshal exclusions: %w", err)
	}
	if err := json.Unmarshal(metrJSON, &result.Metrics); err != nil {
		return result, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return result, nil
}
