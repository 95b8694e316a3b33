// Package state defines the shared run state threaded through the graph and
// the merge policies that make concurrent partial writes safe.
package state

import (
	"strings"

	"courtroom/internal/rubric"
)

// Persona identifies one member of the judicial panel.
type Persona string

const (
	PersonaProsecutor Persona = "prosecutor" // adversarial
	PersonaDefense    Persona = "defense"    // charitable
	PersonaTechLead   Persona = "tech_lead"  // pragmatic
)

// Personas lists the panel in deliberation order.
func Personas() []Persona {
	return []Persona{PersonaProsecutor, PersonaDefense, PersonaTechLead}
}

// Subject references the artifacts under evaluation. At least one field must
// be set for a run to be admitted.
type Subject struct {
	RepoURL string `json:"repo_url,omitempty"`
	DocPath string `json:"doc_path,omitempty"`
}

func (s Subject) HasRepo() bool { return strings.TrimSpace(s.RepoURL) != "" }
func (s Subject) HasDoc() bool  { return strings.TrimSpace(s.DocPath) != "" }
func (s Subject) Empty() bool   { return !s.HasRepo() && !s.HasDoc() }

// Evidence is one fact a collector produced about one criterion goal.
// Immutable once created.
type Evidence struct {
	Goal       string  `json:"goal"`
	Found      bool    `json:"found"`
	Content    string  `json:"content,omitempty"`
	Location   string  `json:"location"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Opinion is one evaluator's verdict on one criterion. Immutable once created.
type Opinion struct {
	Judge         Persona  `json:"judge"`
	CriterionID   string   `json:"criterion_id"`
	Score         int      `json:"score"`
	Argument      string   `json:"argument"`
	CitedEvidence []string `json:"cited_evidence,omitempty"`
}

// CriterionResult is the synthesized verdict for one criterion.
type CriterionResult struct {
	CriterionID    string    `json:"criterion_id"`
	CriterionName  string    `json:"criterion_name"`
	FinalScore     int       `json:"final_score"`
	Opinions       []Opinion `json:"opinions"`
	RuleApplied    string    `json:"rule_applied,omitempty"`
	DissentSummary string    `json:"dissent_summary,omitempty"`
	Remediation    string    `json:"remediation,omitempty"`
}

// Report is the run's terminal output.
type Report struct {
	Subject          Subject           `json:"subject"`
	ExecutiveSummary string            `json:"executive_summary"`
	OverallScore     float64           `json:"overall_score"`
	Criteria         []CriterionResult `json:"criteria"`
	RemediationPlan  string            `json:"remediation_plan"`
}

// RunState is the container merged across graph nodes. Subject and Catalog
// are set at run start and never written again; the remaining fields follow
// the merge policies declared in Reducers.
type RunState struct {
	Subject  Subject
	Catalog  []rubric.Criterion
	Rules    map[string]string
	Scope    []rubric.Criterion
	Evidence map[string][]Evidence
	Opinions []Opinion
	Report   *Report
}

// Delta is a node's partial result: only the fields the node produced.
type Delta struct {
	Scope    []rubric.Criterion
	Evidence map[string][]Evidence
	Opinions []Opinion
	Report   *Report
}

// Empty reports whether the delta carries nothing to merge.
func (d Delta) Empty() bool {
	return d.Scope == nil && d.Evidence == nil && d.Opinions == nil && d.Report == nil
}

// HasAnyEvidence reports whether any criterion has at least one evidence item.
func (s RunState) HasAnyEvidence() bool {
	for _, list := range s.Evidence {
		if len(list) > 0 {
			return true
		}
	}
	return false
}

// FoundEvidence reports whether any evidence for goal was positively found.
func (s RunState) FoundEvidence(goal string) bool {
	for _, e := range s.Evidence[goal] {
		if e.Found {
			return true
		}
	}
	return false
}

// clone copies the mutable containers so snapshots never alias live state.
// Element values are immutable by contract and may be shared.
func (s RunState) clone() RunState {
	out := s
	if s.Evidence != nil {
		out.Evidence = make(map[string][]Evidence, len(s.Evidence))
		for k, v := range s.Evidence {
			out.Evidence[k] = append([]Evidence(nil), v...)
		}
	}
	out.Opinions = append([]Opinion(nil), s.Opinions...)
	out.Scope = append([]rubric.Criterion(nil), s.Scope...)
	return out
}
