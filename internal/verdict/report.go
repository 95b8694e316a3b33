package verdict

import (
	"fmt"
	"strings"

	"courtroom/internal/state"
)

// BuildReport synthesizes every in-scope criterion and assembles the final
// report. Opinions are grouped by criterion; criteria keep catalog order.
func BuildReport(s state.RunState) *state.Report {
	byCriterion := make(map[string][]state.Opinion)
	for _, op := range s.Opinions {
		byCriterion[op.CriterionID] = append(byCriterion[op.CriterionID], op)
	}

	results := make([]state.CriterionResult, 0, len(s.Scope))
	var total int
	for _, c := range s.Scope {
		r := Resolve(c, byCriterion[c.ID], s.FoundEvidence(c.ID))
		results = append(results, r)
		total += r.FinalScore
	}

	rep := &state.Report{
		Subject:  s.Subject,
		Criteria: results,
	}
	if len(results) > 0 {
		rep.OverallScore = float64(total) / float64(len(results))
	}
	rep.ExecutiveSummary = executiveSummary(results, rep.OverallScore)
	rep.RemediationPlan = remediationPlan(results)
	return rep
}

func executiveSummary(results []state.CriterionResult, overall float64) string {
	if len(results) == 0 {
		return "No criteria were in scope; nothing was evaluated."
	}
	strong, weak, dissents := 0, 0, 0
	for _, r := range results {
		switch {
		case r.FinalScore >= 4:
			strong++
		case r.FinalScore <= 2:
			weak++
		}
		if r.DissentSummary != "" {
			dissents++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluated %d criteria with an overall score of %.1f/5.", len(results), overall)
	if strong > 0 {
		fmt.Fprintf(&b, " %d scored strong (4+).", strong)
	}
	if weak > 0 {
		fmt.Fprintf(&b, " %d need remediation (2 or below).", weak)
	}
	if dissents > 0 {
		fmt.Fprintf(&b, " The panel split significantly on %d.", dissents)
	}
	return b.String()
}

func remediationPlan(results []state.CriterionResult) string {
	var items []string
	for _, r := range results {
		if r.Remediation != "" {
			items = append(items, "- "+r.Remediation)
		}
	}
	if len(items) == 0 {
		return "No remediation required."
	}
	return strings.Join(items, "\n")
}

// RenderMarkdown renders the report for human consumption.
func RenderMarkdown(r *state.Report) string {
	var b strings.Builder
	b.WriteString("# Audit Report\n\n")
	if r.Subject.RepoURL != "" {
		fmt.Fprintf(&b, "Repository: %s\n", r.Subject.RepoURL)
	}
	if r.Subject.DocPath != "" {
		fmt.Fprintf(&b, "Document: %s\n", r.Subject.DocPath)
	}
	b.WriteString("\n## Executive Summary\n\n")
	b.WriteString(r.ExecutiveSummary)
	fmt.Fprintf(&b, "\n\nOverall: %.1f/5\n", r.OverallScore)

	b.WriteString("\n## Criteria\n")
	for _, c := range r.Criteria {
		fmt.Fprintf(&b, "\n### %s: %d/5\n\n", c.CriterionName, c.FinalScore)
		fmt.Fprintf(&b, "Decided by: %s\n", c.RuleApplied)
		for _, op := range c.Opinions {
			fmt.Fprintf(&b, "- %s (%d): %s\n", op.Judge, op.Score, op.Argument)
		}
		if c.DissentSummary != "" {
			fmt.Fprintf(&b, "\nDissent: %s\n", c.DissentSummary)
		}
	}

	b.WriteString("\n## Remediation Plan\n\n")
	b.WriteString(r.RemediationPlan)
	b.WriteString("\n")
	return b.String()
}
