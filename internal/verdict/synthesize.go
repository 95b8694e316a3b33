// Package verdict turns the panel's opinions into final per-criterion
// verdicts and the run report. Synthesis is deterministic: an ordered rule
// table, no model calls, so the same opinions always produce the same
// verdict.
package verdict

import (
	"fmt"
	"sort"
	"strings"

	"courtroom/internal/rubric"
	"courtroom/internal/state"
)

// Rule names recorded on each result so a reader can tell which clause
// decided the score.
const (
	RuleMedian        = "median"
	RuleSecurity      = "security_override"
	RuleEvidence      = "evidence_supremacy"
	RuleFunctionality = "functionality_weighting"
	RuleDissent       = "dissent_reevaluation"
	RuleNoOpinions    = "no_opinions"
)

const (
	securityCap       = 3
	dissentSpread     = 2
	maxDissentArg     = 240
	maxRemediationArg = 300
	remediationBelow  = 4
)

// Resolve synthesizes one criterion's verdict from its opinions. Rules apply
// in fixed priority order; exactly one decides the score.
//
//  1. Security override: the prosecutor confirms a security defect with a
//     failing score. The result is capped at 3 regardless of the others.
//  2. Evidence supremacy: a charitable score of 4+ with no positively found
//     evidence is excluded before taking the median.
//  3. Functionality weighting: on repository criteria with found evidence,
//     a tech-lead score that disagrees with the median wins.
//  4. Median of all scores otherwise.
//
// A spread above 2 between the extreme scores records a dissent summary
// quoting both extremes and triggers re-evaluation: when only part of the
// panel cites evidence, the cited opinions decide the score.
func Resolve(c rubric.Criterion, opinions []state.Opinion, evidenceFound bool) state.CriterionResult {
	res := state.CriterionResult{
		CriterionID:   c.ID,
		CriterionName: c.Name,
		Opinions:      opinions,
	}
	if len(opinions) == 0 {
		res.FinalScore = 1
		res.RuleApplied = RuleNoOpinions
		res.Remediation = fmt.Sprintf("No panel opinions were produced for %q; re-run the evaluation.", c.Name)
		return res
	}

	byJudge := make(map[state.Persona]state.Opinion, len(opinions))
	for _, op := range opinions {
		byJudge[op.Judge] = op
	}
	med := median(scores(opinions))

	pros, hasPros := byJudge[state.PersonaProsecutor]
	def, hasDef := byJudge[state.PersonaDefense]
	lead, hasLead := byJudge[state.PersonaTechLead]

	switch {
	case hasPros && pros.Score <= 2 && mentionsSecurity(pros.Argument):
		res.FinalScore = minInt(med, securityCap)
		res.RuleApplied = RuleSecurity
	case hasDef && def.Score >= 4 && !evidenceFound:
		rest := make([]state.Opinion, 0, len(opinions)-1)
		for _, op := range opinions {
			if op.Judge != state.PersonaDefense {
				rest = append(rest, op)
			}
		}
		if len(rest) == 0 {
			res.FinalScore = 1
		} else {
			res.FinalScore = median(scores(rest))
		}
		res.RuleApplied = RuleEvidence
	case hasLead && evidenceFound && c.TargetCapability == rubric.CapabilityRepo && lead.Score != med:
		res.FinalScore = lead.Score
		res.RuleApplied = RuleFunctionality
	default:
		res.FinalScore = med
		res.RuleApplied = RuleMedian
	}

	if sp := spread(opinions); sp > dissentSpread {
		res.DissentSummary = dissent(opinions, sp)
		// Re-evaluation: with the panel in open conflict, opinions that
		// cite evidence outrank those that cite none. The security cap
		// survives re-evaluation.
		if cited := citing(opinions); len(cited) > 0 && len(cited) < len(opinions) {
			rescored := median(scores(cited))
			if res.RuleApplied == RuleSecurity {
				rescored = minInt(rescored, securityCap)
			}
			if rescored != res.FinalScore {
				res.FinalScore = rescored
				res.RuleApplied = RuleDissent
			}
		}
	}
	if res.FinalScore < remediationBelow {
		res.Remediation = remediation(c, res)
	}
	return res
}

// citing returns the opinions that back themselves with evidence references.
func citing(ops []state.Opinion) []state.Opinion {
	var out []state.Opinion
	for _, op := range ops {
		if len(op.CitedEvidence) > 0 {
			out = append(out, op)
		}
	}
	return out
}

func scores(ops []state.Opinion) []int {
	out := make([]int, len(ops))
	for i, op := range ops {
		out[i] = op.Score
	}
	return out
}

// median of the scores; an even count takes the lower middle so ties resolve
// conservatively.
func median(xs []int) int {
	sorted := append([]int(nil), xs...)
	sort.Ints(sorted)
	return sorted[(len(sorted)-1)/2]
}

func spread(ops []state.Opinion) int {
	lo, hi := ops[0].Score, ops[0].Score
	for _, op := range ops[1:] {
		if op.Score < lo {
			lo = op.Score
		}
		if op.Score > hi {
			hi = op.Score
		}
	}
	return hi - lo
}

func mentionsSecurity(argument string) bool {
	a := strings.ToLower(argument)
	return strings.Contains(a, "security flaw") || strings.Contains(a, "security vulnerability")
}

// dissent quotes the lowest and highest scorers so the disagreement survives
// into the report.
func dissent(ops []state.Opinion, sp int) string {
	lo, hi := ops[0], ops[0]
	for _, op := range ops[1:] {
		if op.Score < lo.Score {
			lo = op
		}
		if op.Score > hi.Score {
			hi = op
		}
	}
	return fmt.Sprintf("Panel split by %d points. %s scored %d: %s / %s scored %d: %s",
		sp,
		lo.Judge, lo.Score, clip(lo.Argument, maxDissentArg),
		hi.Judge, hi.Score, clip(hi.Argument, maxDissentArg))
}

// remediation combines the harshest judge's argument with the criterion's
// declared patterns.
func remediation(c rubric.Criterion, res state.CriterionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s scored %d.", c.Name, res.FinalScore)
	if low := lowestOpinion(res.Opinions); low != nil && strings.TrimSpace(low.Argument) != "" {
		fmt.Fprintf(&b, " %s (%d): %s", low.Judge, low.Score, clip(low.Argument, maxRemediationArg))
	}
	if c.FailurePattern != "" {
		fmt.Fprintf(&b, " Observed failure mode: %s", c.FailurePattern)
	}
	if c.SuccessPattern != "" {
		fmt.Fprintf(&b, " Target: %s", c.SuccessPattern)
	}
	return b.String()
}

func lowestOpinion(ops []state.Opinion) *state.Opinion {
	var low *state.Opinion
	for i := range ops {
		if low == nil || ops[i].Score < low.Score {
			low = &ops[i]
		}
	}
	return low
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
