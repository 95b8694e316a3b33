// Package courtroom assembles the audit pipeline: evidence collection fans
// out over the detectives, an aggregator barrier fixes the criteria scope,
// the judge panel fans out over personas, and the chief justice barrier
// synthesizes the report.
package courtroom

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"courtroom/internal/detective"
	"courtroom/internal/graph"
	"courtroom/internal/judge"
	"courtroom/internal/llmclient"
	"courtroom/internal/rubric"
	"courtroom/internal/state"
	"courtroom/internal/verdict"
)

// Node names, also the valid route targets.
const (
	NodeIntake       = "intake"
	NodeAggregator   = "aggregator"
	NodeChiefJustice = "chief_justice"

	groupDetectives = "detectives"
	groupPanel      = "panel"
)

// defaultDocRelPath is the conventional report location inside a repository
// checkout, adopted when no document is supplied explicitly.
const defaultDocRelPath = "reports/final_report.md"

// Pipeline is a reusable audit graph. One Pipeline serves many runs; all
// per-run data flows through the engine's state.
type Pipeline struct {
	engine *graph.Engine
	reg    *detective.Registry
}

// Option tweaks pipeline construction.
type Option func(*options)

type options struct {
	detectiveLimit int
	panelLimit     int
	attempts       int
	judgeTimeout   time.Duration
}

// WithDetectiveLimit bounds concurrent detectives (default 3).
func WithDetectiveLimit(n int) Option { return func(o *options) { o.detectiveLimit = n } }

// WithPanelLimit bounds concurrent judges (default 3).
func WithPanelLimit(n int) Option { return func(o *options) { o.panelLimit = n } }

// WithJudgeAttempts sets how many validated calls each opinion may take.
func WithJudgeAttempts(n int) Option { return func(o *options) { o.attempts = n } }

// WithJudgeTimeout bounds one judgment-call attempt.
func WithJudgeTimeout(d time.Duration) Option { return func(o *options) { o.judgeTimeout = d } }

// New builds the pipeline over the given collectors and judgment client.
func New(reg *detective.Registry, cli llmclient.Client, opts ...Option) (*Pipeline, error) {
	o := options{detectiveLimit: 3, panelLimit: 3}
	for _, fn := range opts {
		fn(&o)
	}
	p := &Pipeline{engine: graph.New(), reg: reg}
	validator := judge.NewValidator(cli, o.attempts)
	if o.judgeTimeout > 0 {
		validator.Timeout = o.judgeTimeout
	}

	nodes := []graph.Node{
		{Name: NodeIntake, Task: intake},
	}
	detectiveNames := make([]string, 0, 3)
	for _, capTag := range []string{rubric.CapabilityRepo, rubric.CapabilityDocument, rubric.CapabilityDocImages} {
		name := "detective_" + capTag
		detectiveNames = append(detectiveNames, name)
		nodes = append(nodes, graph.Node{
			Name:  name,
			Task:  p.detectiveTask(capTag),
			Preds: []string{NodeIntake},
			Gate:  detectiveGate(capTag),
			Group: groupDetectives,
		})
	}
	nodes = append(nodes, graph.Node{
		Name:  NodeAggregator,
		Task:  aggregate,
		Preds: detectiveNames,
		Route: aggregatorRoute,
	})
	judgeNames := make([]string, 0, 3)
	for _, persona := range state.Personas() {
		name := "judge_" + string(persona)
		judgeNames = append(judgeNames, name)
		nodes = append(nodes, graph.Node{
			Name:  name,
			Task:  judge.PanelTask(persona, validator),
			Preds: []string{NodeAggregator},
			Group: groupPanel,
		})
	}
	nodes = append(nodes, graph.Node{
		Name:  NodeChiefJustice,
		Task:  chiefJustice,
		Preds: judgeNames,
	})

	for _, n := range nodes {
		if err := p.engine.Register(n); err != nil {
			return nil, err
		}
	}
	p.engine.SetGroupLimit(groupDetectives, o.detectiveLimit)
	p.engine.SetGroupLimit(groupPanel, o.panelLimit)
	return p, nil
}

// Run executes one audit to completion.
func (p *Pipeline) Run(ctx context.Context, subject state.Subject, cat *rubric.Catalog) (state.RunState, error) {
	initial := state.RunState{
		Subject: DiscoverDoc(ctx, subject),
		Catalog: cat.Criteria,
		Rules:   cat.SynthesisRules,
	}
	return p.engine.Execute(ctx, initial, state.Reducers())
}

// DiscoverDoc fills in the conventional document location when the subject
// names a repository but no document: the local checkout's report file, or a
// hosted repository's raw report URL when it answers a reachability check.
func DiscoverDoc(ctx context.Context, subject state.Subject) state.Subject {
	if subject.HasDoc() || !subject.HasRepo() {
		return subject
	}
	ref := strings.TrimSpace(subject.RepoURL)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if url := rawReportURL(ref); url != "" && detective.DocReachable(ctx, url) {
			log.Printf("courtroom: adopting default document %s", url)
			subject.DocPath = url
		}
		return subject
	}
	if st, err := os.Stat(ref); err != nil || !st.IsDir() {
		return subject
	}
	candidate := filepath.Join(ref, defaultDocRelPath)
	if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
		log.Printf("courtroom: adopting default document %s", candidate)
		subject.DocPath = candidate
	}
	return subject
}

// rawReportURL derives the raw-content URL of the conventional report for a
// hosted repository. Only the github.com layout is recognized.
func rawReportURL(repo string) string {
	u := strings.TrimSuffix(strings.TrimSuffix(repo, "/"), ".git")
	if !strings.Contains(u, "github.com/") {
		return ""
	}
	return strings.Replace(u, "github.com/", "raw.githubusercontent.com/", 1) + "/HEAD/" + defaultDocRelPath
}

func intake(ctx context.Context, s state.RunState) (state.Delta, error) {
	log.Printf("courtroom: run admitted (repo=%v doc=%v, %d criteria)",
		s.Subject.HasRepo(), s.Subject.HasDoc(), len(s.Catalog))
	return state.Delta{}, nil
}

// capabilityAvailable reports whether the subject carries the artifact a
// capability tag needs.
func capabilityAvailable(subject state.Subject, capability string) bool {
	switch capability {
	case rubric.CapabilityRepo:
		return subject.HasRepo()
	case rubric.CapabilityDocument, rubric.CapabilityDocImages:
		return subject.HasDoc()
	default:
		return false
	}
}

func criteriaFor(s state.RunState, capability string) []rubric.Criterion {
	var out []rubric.Criterion
	for _, c := range s.Catalog {
		if c.TargetCapability == capability {
			out = append(out, c)
		}
	}
	return out
}

// detectiveGate skips a collector whose artifact is absent or whose
// capability no criterion targets. Skipping still satisfies the aggregator
// barrier.
func detectiveGate(capability string) graph.Gate {
	return func(s state.RunState) string {
		if !capabilityAvailable(s.Subject, capability) {
			return graph.Skip
		}
		if len(criteriaFor(s, capability)) == 0 {
			return graph.Skip
		}
		return ""
	}
}

func (p *Pipeline) detectiveTask(capability string) graph.Task {
	return func(ctx context.Context, s state.RunState) (state.Delta, error) {
		col, ok := p.reg.Get(capability)
		if !ok {
			log.Printf("courtroom: no collector for capability %s", capability)
			return state.Delta{}, nil
		}
		evs, err := col.Collect(ctx, s.Subject, criteriaFor(s, capability))
		if err != nil {
			return state.Delta{}, err
		}
		byGoal := make(map[string][]state.Evidence)
		for _, e := range evs {
			byGoal[e.Goal] = append(byGoal[e.Goal], e)
		}
		return state.Delta{Evidence: byGoal}, nil
	}
}

// aggregate fixes the run's scope: criteria whose target capability and
// extra requirements the subject satisfies. In-scope criteria that no
// collector reported on get an explicit found=false record so the panel
// always sees every criterion.
func aggregate(ctx context.Context, s state.RunState) (state.Delta, error) {
	var scope []rubric.Criterion
	fill := make(map[string][]state.Evidence)
	for _, c := range s.Catalog {
		if !capabilityAvailable(s.Subject, c.TargetCapability) {
			continue
		}
		satisfied := true
		for _, req := range c.Requires {
			if !capabilityAvailable(s.Subject, req) {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		scope = append(scope, c)
		if len(s.Evidence[c.ID]) == 0 {
			fill[c.ID] = []state.Evidence{{
				Goal:      c.ID,
				Found:     false,
				Location:  "criterion:" + c.ID,
				Rationale: "no collector produced evidence",
			}}
		}
	}
	log.Printf("courtroom: aggregated scope of %d criteria", len(scope))
	d := state.Delta{Scope: scope}
	if len(fill) > 0 {
		d.Evidence = fill
	}
	return d, nil
}

// aggregatorRoute ends the run early when nothing is in scope; otherwise all
// judges receive delivery.
func aggregatorRoute(s state.RunState) string {
	if len(s.Scope) == 0 {
		return graph.End
	}
	return ""
}

func chiefJustice(ctx context.Context, s state.RunState) (state.Delta, error) {
	rep := verdict.BuildReport(s)
	log.Printf("courtroom: verdict rendered, overall %.1f over %d criteria", rep.OverallScore, len(rep.Criteria))
	return state.Delta{Report: rep}, nil
}
