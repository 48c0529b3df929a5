/*

This file contains the recommendation engine: composite scoring, threshold
filtering, deterministic action assignment, ranking, and truncation.

*/

package engine

import (
	"fmt"
	"sort"

	"github.com/origins-protocol/opr/internal/logger"
	"github.com/origins-protocol/opr/internal/types"
)

var rankLogger = logger.GetForComponent("recommendation_engine")

// actionRule pairs a predicate with the action it assigns. Rules are evaluated
// top-down and the first match wins, so the policy reads as a table instead of
// nested conditionals and each rule is independently testable.
type actionRule struct {
	applies func(types.Score, types.EngineParameters) bool
	action  types.Action
	reason  string
}

var actionRules = []actionRule{
	{
		applies: func(s types.Score, p types.EngineParameters) bool {
			return s.RiskScore.GTE(p.CriticalRiskCutoff)
		},
		action: types.ActionClose,
		reason: "risk score at or above critical cutoff",
	},
	{
		applies: func(s types.Score, p types.EngineParameters) bool {
			return s.RiskScore.GTE(p.RebalanceRiskCutoff)
		},
		action: types.ActionRebalance,
		reason: "risk score at or above rebalance cutoff",
	},
	{
		applies: func(s types.Score, p types.EngineParameters) bool {
			return s.Liquidity.LTE(p.OpenLiquidityFloor) && s.RiskScore.LT(p.RebalanceRiskCutoff)
		},
		action: types.ActionOpen,
		reason: "healthy position in a thin market, room to add",
	},
	{
		applies: func(types.Score, types.EngineParameters) bool { return true },
		action:  types.ActionHold,
		reason:  "within risk and liquidity bounds",
	},
}

// AssignAction resolves the action for a score by walking the ordered rule
// table. The final catch-all rule guarantees a match.
func AssignAction(score types.Score, params types.EngineParameters) (types.Action, string) {
	for _, rule := range actionRules {
		if rule.applies(score, params) {
			return rule.action, rule.reason
		}
	}
	// Unreachable: the last rule always applies.
	return types.ActionHold, "no rule matched"
}

// Rank turns a cycle's collected scores into the bounded, ordered
// recommendation list. Scores whose notional falls below the position
// threshold are returned as exclusions and never occupy a rank slot.
//
// Ordering is fully deterministic: descending composite score, ties broken by
// ascending position id, so repeated runs over the same input (in any order)
// produce identical output. The input slice is never mutated; the result is
// newly constructed on every call.
func Rank(scores []types.Score, params types.EngineParameters) ([]types.Recommendation, []types.Exclusion) {
	eligible := make([]types.Score, 0, len(scores))
	var excluded []types.Exclusion

	for _, score := range scores {
		if score.Notional.LT(params.PositionThreshold) {
			excluded = append(excluded, types.Exclusion{
				PositionID: score.PositionID,
				Reason:     fmt.Sprintf("notional %s below position threshold %s", score.Notional, params.PositionThreshold),
			})
			continue
		}
		if score.Composite.IsNil() {
			score.Composite = params.Composite(score.RiskScore, score.Liquidity)
		}
		eligible = append(eligible, score)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Composite.Equal(eligible[j].Composite) {
			return eligible[i].PositionID < eligible[j].PositionID
		}
		return eligible[i].Composite.GT(eligible[j].Composite)
	})

	// Truncate before issuing ranks: entries beyond MaxPositions are dropped,
	// not hidden, and rank numbers exist only for kept entries.
	kept := len(eligible)
	if kept > params.MaxPositions {
		kept = params.MaxPositions
	}

	recommendations := make([]types.Recommendation, 0, kept)
	for i := 0; i < kept; i++ {
		action, reason := AssignAction(eligible[i], params)
		recommendations = append(recommendations, types.Recommendation{
			PositionID: eligible[i].PositionID,
			Action:     action,
			Composite:  eligible[i].Composite,
			Rank:       i + 1,
			Reason:     reason,
		})
	}

	rankLogger.Debug().
		Int("scored", len(scores)).
		Int("eligible", len(eligible)).
		Int("emitted", len(recommendations)).
		Int("belowThreshold", len(excluded)).
		Msg("Ranking complete")

	return recommendations, excluded
}
