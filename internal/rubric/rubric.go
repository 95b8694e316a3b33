// Package rubric loads the criteria catalog that drives an audit run.
// A catalog can come from a YAML or JSON file or from the built-in default.
package rubric

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// Capability tags name the artifact type a criterion is judged against.
// Collectors register under the same tags.
const (
	CapabilityRepo      = "repo"
	CapabilityDocument  = "document"
	CapabilityDocImages = "document_images"
)

// Criterion is one dimension of the catalog.
type Criterion struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	TargetCapability string   `json:"target_capability" yaml:"target_capability"`
	Instruction      string   `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	SuccessPattern   string   `json:"success_pattern,omitempty" yaml:"success_pattern,omitempty"`
	FailurePattern   string   `json:"failure_pattern,omitempty" yaml:"failure_pattern,omitempty"`
	// Requires lists additional capabilities that must all be present in the
	// subject for this criterion to stay in scope. Empty means the target
	// capability alone decides.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// Catalog is the full rubric: ordered criteria plus named synthesis rules
// surfaced to evaluators as deliberation context.
type Catalog struct {
	Criteria       []Criterion       `json:"criteria" yaml:"criteria"`
	SynthesisRules map[string]string `json:"synthesis_rules,omitempty" yaml:"synthesis_rules,omitempty"`
}

var catalogCache, _ = lru.New[string, *Catalog](16)

// Load reads a catalog from path, caching by absolute path. YAML and JSON
// are both accepted; the extension decides the decoder.
func Load(path string) (*Catalog, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if c, ok := catalogCache.Get(abs); ok {
		return c, nil
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read rubric %s: %w", path, err)
	}
	c := &Catalog{}
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse rubric %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse rubric %s: %w", path, err)
		}
	}
	if len(c.Criteria) == 0 {
		return nil, fmt.Errorf("rubric %s: no criteria", path)
	}
	for i, cr := range c.Criteria {
		if strings.TrimSpace(cr.ID) == "" {
			return nil, fmt.Errorf("rubric %s: criterion %d has no id", path, i)
		}
	}
	catalogCache.Add(abs, c)
	return c, nil
}

// LoadFromEnv loads COURTROOM_RUBRIC if set, otherwise the default catalog.
func LoadFromEnv() (*Catalog, error) {
	if path := strings.TrimSpace(os.Getenv("COURTROOM_RUBRIC")); path != "" {
		return Load(path)
	}
	return Default(), nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{
		Criteria: []Criterion{
			{
				ID:               "git_forensic_analysis",
				Name:             "Git Forensic Analysis",
				TargetCapability: CapabilityRepo,
				Instruction:      "Inspect commit history for incremental, purposeful work.",
				SuccessPattern:   "Meaningful commit cadence with descriptive messages.",
				FailurePattern:   "Single bulk commit or empty history.",
			},
			{
				ID:               "graph_orchestration",
				Name:             "Graph Orchestration",
				TargetCapability: CapabilityRepo,
				Instruction:      "Verify the repository wires an explicit multi-stage workflow.",
				SuccessPattern:   "Modular nodes composed into an explicit executable graph.",
				FailurePattern:   "Monolithic script with no separable stages.",
			},
			{
				ID:               "state_management_rigor",
				Name:             "State Management Rigor",
				TargetCapability: CapabilityRepo,
				Instruction:      "Check that concurrent writes merge through declared policies.",
				SuccessPattern:   "Per-field merge policies; no lost updates.",
				FailurePattern:   "Shared mutable state written without a merge contract.",
			},
			{
				ID:               "theoretical_depth",
				Name:             "Theoretical Depth",
				TargetCapability: CapabilityDocument,
				Instruction:      "Search the document for grounded discussion of the core concepts.",
				SuccessPattern:   "Key terms explained in a detailed section, not just listed.",
				FailurePattern:   "Buzzwords without explanation.",
			},
			{
				ID:               "visual_craftsmanship",
				Name:             "Visual Craftsmanship",
				TargetCapability: CapabilityDocImages,
				Instruction:      "Assess embedded figures and diagrams for information content.",
				SuccessPattern:   "Diagrams that explain structure or flow.",
				FailurePattern:   "No figures, or decorative images only.",
			},
			{
				ID:               "report_accuracy",
				Name:             "Report Accuracy",
				TargetCapability: CapabilityDocument,
				Requires:         []string{CapabilityRepo, CapabilityDocument},
				Instruction:      "Cross-check claims in the document against repository evidence.",
				SuccessPattern:   "Document claims map to files and history that exist.",
				FailurePattern:   "Claims about capabilities the repository does not contain.",
			},
		},
		SynthesisRules: map[string]string{
			"security":      "A confirmed security defect caps the score at 3.",
			"evidence":      "Claims unsupported by collected evidence are discounted.",
			"functionality": "A pragmatic opinion consistent with evidence carries structural criteria.",
		},
	}
}

// ByCapability returns the criteria whose target capability matches tag.
func (c *Catalog) ByCapability(tag string) []Criterion {
	if c == nil {
		return nil
	}
	var out []Criterion
	for _, cr := range c.Criteria {
		if cr.TargetCapability == tag {
			out = append(out, cr)
		}
	}
	return out
}
