package state

import (
	"fmt"
	"sync"
)

// Field names one mergeable slot of RunState.
type Field string

const (
	FieldScope    Field = "scope"
	FieldEvidence Field = "evidence"
	FieldOpinions Field = "opinions"
	FieldReport   Field = "report"
)

// MergeFunc combines one field of a delta into the authoritative state.
// Merge functions for concurrently written fields must be commutative and
// associative so arrival order cannot change the final state.
type MergeFunc func(s *RunState, d Delta) error

// Reducers returns the standard merge-function table:
// evidence unions maps with list-append per key, opinions concatenate,
// scope and report are overwrite-once.
func Reducers() map[Field]MergeFunc {
	return map[Field]MergeFunc{
		FieldEvidence: mergeEvidence,
		FieldOpinions: mergeOpinions,
		FieldScope:    mergeScope,
		FieldReport:   mergeReport,
	}
}

func mergeEvidence(s *RunState, d Delta) error {
	if d.Evidence == nil {
		return nil
	}
	if s.Evidence == nil {
		s.Evidence = make(map[string][]Evidence, len(d.Evidence))
	}
	for goal, list := range d.Evidence {
		s.Evidence[goal] = append(s.Evidence[goal], list...)
	}
	return nil
}

func mergeOpinions(s *RunState, d Delta) error {
	if d.Opinions == nil {
		return nil
	}
	s.Opinions = append(s.Opinions, d.Opinions...)
	return nil
}

func mergeScope(s *RunState, d Delta) error {
	if d.Scope == nil {
		return nil
	}
	if s.Scope != nil {
		return fmt.Errorf("state: scope already set")
	}
	s.Scope = d.Scope
	return nil
}

func mergeReport(s *RunState, d Delta) error {
	if d.Report == nil {
		return nil
	}
	if s.Report != nil {
		return fmt.Errorf("state: report already set")
	}
	s.Report = d.Report
	return nil
}

// Store guards the authoritative RunState. All writes go through Apply with
// the merge table fixed at construction; reads get copied snapshots.
type Store struct {
	mu       sync.Mutex
	state    RunState
	reducers map[Field]MergeFunc
}

// NewStore builds a store around initial. A nil reducers table means the
// standard one.
func NewStore(initial RunState, reducers map[Field]MergeFunc) *Store {
	if reducers == nil {
		reducers = Reducers()
	}
	return &Store{state: initial.clone(), reducers: reducers}
}

// Apply merges a node's partial result. The first write-once violation stops
// the merge and is returned.
func (st *Store) Apply(d Delta) error {
	if d.Empty() {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, f := range []Field{FieldScope, FieldEvidence, FieldOpinions, FieldReport} {
		merge, ok := st.reducers[f]
		if !ok {
			continue
		}
		if err := merge(&st.state, d); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy safe to read while other branches keep writing.
func (st *Store) Snapshot() RunState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.clone()
}
