package detective

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"courtroom/internal/rubric"
	"courtroom/internal/state"
)

// RepoInvestigator collects evidence from a git repository, either a local
// working copy or a remote URL cloned shallowly into a temp dir. Every git
// invocation runs under a deadline so a stuck clone fails instead of hanging.
type RepoInvestigator struct {
	Timeout    time.Duration
	CloneDepth int
}

func NewRepoInvestigator() *RepoInvestigator {
	return &RepoInvestigator{Timeout: 2 * time.Minute, CloneDepth: 50}
}

func (r *RepoInvestigator) Capability() string { return rubric.CapabilityRepo }

func (r *RepoInvestigator) Collect(ctx context.Context, subject state.Subject, criteria []rubric.Criterion) ([]state.Evidence, error) {
	if !subject.HasRepo() {
		return missing(criteria, "", "no repository supplied"), nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	path, cleanup, err := r.materialize(ctx, subject.RepoURL)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		// Acquisition failure: the run continues on "nothing found".
		return missing(criteria, subject.RepoURL, truncate(err.Error(), 200)), nil
	}

	history := gitLog(ctx, path, 50)
	layout := scanLayout(path)

	out := make([]state.Evidence, 0, len(criteria))
	for _, c := range criteria {
		switch c.ID {
		case "git_forensic_analysis":
			content := fmt.Sprintf("%d commits", len(history))
			if len(history) > 0 {
				content += "; recent: " + strings.Join(headN(history, 5), " | ")
			}
			conf := 0.5
			if len(history) > 3 {
				conf = 0.9
			}
			out = append(out, state.Evidence{
				Goal: c.ID, Found: len(history) > 0, Content: content,
				Location: subject.RepoURL, Rationale: "git log extracted", Confidence: conf,
			})
		case "graph_orchestration":
			conf := 0.3
			if layout.hasWorkflow {
				conf = 0.8
			}
			out = append(out, state.Evidence{
				Goal: c.ID, Found: layout.hasWorkflow,
				Content:  fmt.Sprintf("workflow wiring=%v; packages=%v", layout.hasWorkflow, layout.dirs),
				Location: path, Rationale: "source structure scan", Confidence: conf,
			})
		default:
			out = append(out, state.Evidence{
				Goal: c.ID, Found: true,
				Content:  fmt.Sprintf("history=%d commits; source_files=%d", len(history), layout.sourceFiles),
				Location: path, Rationale: "repository inspected", Confidence: 0.7,
			})
		}
	}
	return out, nil
}

func (r *RepoInvestigator) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 2 * time.Minute
	}
	return r.Timeout
}

// materialize returns a local checkout for ref: the path itself when it is a
// directory, otherwise a shallow clone in a temp dir.
func (r *RepoInvestigator) materialize(ctx context.Context, ref string) (string, func(), error) {
	ref = strings.TrimSpace(ref)
	if st, err := os.Stat(ref); err == nil && st.IsDir() {
		return ref, nil, nil
	}
	dir, err := os.MkdirTemp("", "courtroom-clone-*")
	if err != nil {
		return "", nil, fmt.Errorf("temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	depth := r.CloneDepth
	if depth <= 0 {
		depth = 50
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", fmt.Sprint(depth), "--single-branch", ref, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if outB, err := cmd.CombinedOutput(); err != nil {
		return "", cleanup, fmt.Errorf("clone %s: %v: %s", ref, err, truncate(string(outB), 120))
	}
	return dir, cleanup, nil
}

// gitLog returns up to n "hash subject" lines, newest first. Empty on any
// failure: a repo without history is evidence, not an error.
func gitLog(ctx context.Context, path string, n int) []string {
	cmd := exec.CommandContext(ctx, "git", "-C", path, "log", "--pretty=format:%h %s", "-n", fmt.Sprint(n))
	outB, err := cmd.Output()
	if err != nil {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(string(outB), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimSpace(l))
		}
	}
	return lines
}

type repoLayout struct {
	sourceFiles int
	dirs        []string
	hasWorkflow bool
}

// workflowMarkers are source fragments that indicate an explicit task-graph
// or multi-stage pipeline is wired somewhere in the tree.
var workflowMarkers = []string{"add_node", "AddNode", "add_edge", "AddEdge", "StateGraph", "Register(", "Pipeline", "workflow"}

func scanLayout(root string) repoLayout {
	var out repoLayout
	seen := map[string]bool{}
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			if rel, _ := filepath.Rel(root, p); rel != "." && !strings.Contains(rel, string(filepath.Separator)) && !seen[rel] {
				seen[rel] = true
				out.dirs = append(out.dirs, rel)
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".go", ".py", ".ts", ".js", ".rs", ".java":
			out.sourceFiles++
			if !out.hasWorkflow && out.sourceFiles <= 400 {
				if raw, err := os.ReadFile(p); err == nil {
					s := string(raw)
					for _, m := range workflowMarkers {
						if strings.Contains(s, m) {
							out.hasWorkflow = true
							break
						}
					}
				}
			}
		}
		return nil
	})
	return out
}

func headN(xs []string, n int) []string {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
