package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtroom/internal/rubric"
	"courtroom/internal/state"
)

var docCriterion = rubric.Criterion{
	ID:               "theoretical_depth",
	Name:             "Theoretical Depth",
	TargetCapability: rubric.CapabilityDocument,
	SuccessPattern:   "Concepts explained.",
	FailurePattern:   "Buzzwords only.",
}

var repoCriterion = rubric.Criterion{
	ID:               "graph_orchestration",
	Name:             "Graph Orchestration",
	TargetCapability: rubric.CapabilityRepo,
	FailurePattern:   "Monolith.",
}

func panel(pros, def, lead int) []state.Opinion {
	return []state.Opinion{
		{Judge: state.PersonaProsecutor, CriterionID: "c", Score: pros, Argument: "prosecution view"},
		{Judge: state.PersonaDefense, CriterionID: "c", Score: def, Argument: "defense view"},
		{Judge: state.PersonaTechLead, CriterionID: "c", Score: lead, Argument: "tech lead view"},
	}
}

// Scores 2/4/4 agree closely: the median wins and no dissent is recorded.
func TestResolveMedianWithoutDissent(t *testing.T) {
	res := Resolve(docCriterion, panel(2, 4, 4), true)
	assert.Equal(t, 4, res.FinalScore)
	assert.Equal(t, RuleMedian, res.RuleApplied)
	assert.Empty(t, res.DissentSummary)
}

// Scores 1/5/5 split the panel by more than 2: the dissent summary quotes
// both extremes.
func TestResolveRecordsDissentOnWideSplit(t *testing.T) {
	res := Resolve(docCriterion, panel(1, 5, 5), true)
	assert.Equal(t, 5, res.FinalScore)
	require.NotEmpty(t, res.DissentSummary)
	assert.Contains(t, res.DissentSummary, "prosecutor")
	assert.Contains(t, res.DissentSummary, "prosecution view")
	assert.Contains(t, res.DissentSummary, "defense view")
}

func TestDissentSpreadBoundary(t *testing.T) {
	// Spread of exactly 2 is tolerated.
	res := Resolve(docCriterion, panel(2, 4, 3), true)
	assert.Empty(t, res.DissentSummary)
	// Spread of 3 is not.
	res = Resolve(docCriterion, panel(2, 5, 4), true)
	assert.NotEmpty(t, res.DissentSummary)
}

// A confirmed security finding by the prosecutor caps the score at 3 no
// matter how charitable the rest of the panel is.
func TestSecurityOverrideCapsScore(t *testing.T) {
	ops := panel(2, 5, 4)
	ops[0].Argument = "Confirmed security vulnerability: raw shell execution of user input."
	res := Resolve(repoCriterion, ops, true)
	assert.Equal(t, RuleSecurity, res.RuleApplied)
	assert.LessOrEqual(t, res.FinalScore, 3)
}

func TestSecurityOverrideNeedsFailingScore(t *testing.T) {
	ops := panel(4, 5, 4)
	ops[0].Argument = "No security vulnerability found."
	res := Resolve(repoCriterion, ops, true)
	assert.NotEqual(t, RuleSecurity, res.RuleApplied)
}

// A charitable high score with no found evidence is excluded before the
// median is taken.
func TestEvidenceSupremacyDiscountsCharity(t *testing.T) {
	res := Resolve(docCriterion, panel(2, 5, 2), false)
	assert.Equal(t, RuleEvidence, res.RuleApplied)
	assert.Equal(t, 2, res.FinalScore)
	assert.NotEmpty(t, res.Remediation)
}

// On repository criteria with found evidence, the tech lead's disagreement
// with the median wins.
func TestFunctionalityWeightingFavorsTechLead(t *testing.T) {
	res := Resolve(repoCriterion, panel(2, 3, 4), true)
	assert.Equal(t, RuleFunctionality, res.RuleApplied)
	assert.Equal(t, 4, res.FinalScore)
}

func TestFunctionalityWeightingSkipsDocCriteria(t *testing.T) {
	res := Resolve(docCriterion, panel(2, 3, 4), true)
	assert.Equal(t, RuleMedian, res.RuleApplied)
	assert.Equal(t, 3, res.FinalScore)
}

// On a wide split, opinions backed by citations outrank uncited ones.
func TestDissentReevaluationPrefersCitedOpinions(t *testing.T) {
	ops := panel(1, 5, 5)
	ops[0].CitedEvidence = []string{"clone log", "layout scan"}
	res := Resolve(docCriterion, ops, true)
	assert.Equal(t, RuleDissent, res.RuleApplied)
	assert.Equal(t, 1, res.FinalScore)
	assert.NotEmpty(t, res.DissentSummary)
}

// When every opinion cites evidence, re-evaluation changes nothing.
func TestDissentReevaluationNeedsPartialCitations(t *testing.T) {
	ops := panel(1, 5, 5)
	for i := range ops {
		ops[i].CitedEvidence = []string{"something"}
	}
	res := Resolve(docCriterion, ops, true)
	assert.Equal(t, RuleMedian, res.RuleApplied)
	assert.Equal(t, 5, res.FinalScore)
	assert.NotEmpty(t, res.DissentSummary)
}

// Remediation quotes the harshest judge alongside the criterion's declared
// patterns.
func TestRemediationQuotesLowestOpinion(t *testing.T) {
	ops := panel(1, 2, 2)
	ops[0].Argument = "missing merge policies entirely"
	res := Resolve(repoCriterion, ops, true)
	require.Equal(t, 2, res.FinalScore)
	assert.Contains(t, res.Remediation, "missing merge policies entirely")
	assert.Contains(t, res.Remediation, "prosecutor (1)")
	assert.Contains(t, res.Remediation, repoCriterion.FailurePattern)
}

// Anything short of a strong score carries remediation, including a uniform 3.
func TestRemediationCoversMiddlingScores(t *testing.T) {
	res := Resolve(docCriterion, panel(3, 3, 3), true)
	require.Equal(t, 3, res.FinalScore)
	assert.NotEmpty(t, res.Remediation)

	strong := Resolve(docCriterion, panel(4, 4, 4), true)
	assert.Empty(t, strong.Remediation)
}

func TestResolveWithoutOpinions(t *testing.T) {
	res := Resolve(docCriterion, nil, false)
	assert.Equal(t, 1, res.FinalScore)
	assert.Equal(t, RuleNoOpinions, res.RuleApplied)
	assert.NotEmpty(t, res.Remediation)
}

// The same opinions in any order produce the same verdict.
func TestResolveOrderIndependent(t *testing.T) {
	ops := panel(2, 5, 4)
	perms := [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}}
	var first state.CriterionResult
	for i, perm := range perms {
		shuffled := []state.Opinion{ops[perm[0]], ops[perm[1]], ops[perm[2]]}
		res := Resolve(docCriterion, shuffled, true)
		if i == 0 {
			first = res
			continue
		}
		assert.Equal(t, first.FinalScore, res.FinalScore)
		assert.Equal(t, first.RuleApplied, res.RuleApplied)
		assert.Equal(t, first.DissentSummary != "", res.DissentSummary != "")
	}
}

func TestMedianEvenCountTakesLowerMiddle(t *testing.T) {
	assert.Equal(t, 2, median([]int{2, 4}))
	assert.Equal(t, 3, median([]int{1, 3, 4, 5}))
	assert.Equal(t, 3, median([]int{3}))
}
