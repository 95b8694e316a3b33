// Package detective holds the evidence collectors and their registry.
// Collectors are the external-collaborator boundary of the pipeline: each one
// turns a subject artifact into Evidence for the criteria targeting its
// capability. "Not found" is evidence, never an error; acquisition failures
// are reported as found=false evidence carrying the failure rationale.
package detective

import (
	"context"
	"fmt"
	"sync"

	"courtroom/internal/rubric"
	"courtroom/internal/state"
)

// Collector produces Evidence from one artifact type.
type Collector interface {
	Capability() string
	Collect(ctx context.Context, subject state.Subject, criteria []rubric.Criterion) ([]state.Evidence, error)
}

// Registry resolves collectors by capability tag.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Collector
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Collector)}
}

func (r *Registry) Register(c Collector) error {
	if c == nil || c.Capability() == "" {
		return fmt.Errorf("detective: collector without capability")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.Capability()]; ok {
		return fmt.Errorf("detective: capability %s already registered", c.Capability())
	}
	r.byID[c.Capability()] = c
	return nil
}

func (r *Registry) Get(capability string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[capability]
	return c, ok
}

// DefaultRegistry wires the shipped collectors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(NewRepoInvestigator())
	_ = r.Register(NewDocAnalyst())
	_ = r.Register(NewMediaInspector())
	return r
}

// missing builds the uniform found=false evidence for every criterion when
// the artifact could not be acquired at all. Location always points at
// something: the artifact reference when known, otherwise the capability the
// criterion targets.
func missing(criteria []rubric.Criterion, location, rationale string) []state.Evidence {
	out := make([]state.Evidence, 0, len(criteria))
	for _, c := range criteria {
		loc := location
		if loc == "" {
			if c.TargetCapability != "" {
				loc = "subject:" + c.TargetCapability
			} else {
				loc = "criterion:" + c.ID
			}
		}
		out = append(out, state.Evidence{
			Goal:      c.ID,
			Found:     false,
			Location:  loc,
			Rationale: rationale,
		})
	}
	return out
}
