package judge

import (
	"context"

	"courtroom/internal/graph"
	"courtroom/internal/state"
)

// PanelTask returns the graph task for one persona: an Opinion per in-scope
// criterion, emitted as a single delta so the opinions field merges once.
// With no scope or no evidence at all the task contributes nothing, letting
// an early-terminated run pass through the panel barrier untouched.
func PanelTask(persona state.Persona, v *Validator) graph.Task {
	return func(ctx context.Context, s state.RunState) (state.Delta, error) {
		if len(s.Scope) == 0 || !s.HasAnyEvidence() {
			return state.Delta{}, nil
		}
		ops := make([]state.Opinion, 0, len(s.Scope))
		for _, c := range s.Scope {
			op, err := v.Opinion(ctx, persona, c, EvidenceSummary(s.Evidence, c.ID), s.Rules)
			if err != nil {
				return state.Delta{}, err
			}
			ops = append(ops, op)
		}
		return state.Delta{Opinions: ops}, nil
	}
}
