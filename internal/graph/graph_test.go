package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtroom/internal/state"
)

// recorder tracks which tasks actually ran.
type recorder struct {
	mu  sync.Mutex
	ran []string
}

func (r *recorder) task(name string) Task {
	return func(ctx context.Context, s state.RunState) (state.Delta, error) {
		r.mu.Lock()
		r.ran = append(r.ran, name)
		r.mu.Unlock()
		return state.Delta{Evidence: map[string][]state.Evidence{
			name: {{Goal: name, Found: true}},
		}}, nil
	}
}

func (r *recorder) didRun(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.ran {
		if n == name {
			return true
		}
	}
	return false
}

func mustRegister(t *testing.T, e *Engine, nodes ...Node) {
	t.Helper()
	for _, n := range nodes {
		require.NoError(t, e.Register(n))
	}
}

func TestLinearExecution(t *testing.T) {
	e := New()
	rec := &recorder{}
	mustRegister(t, e,
		Node{Name: "a", Task: rec.task("a")},
		Node{Name: "b", Task: rec.task("b"), Preds: []string{"a"}},
		Node{Name: "c", Task: rec.task("c"), Preds: []string{"b"}},
	)
	final, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rec.ran)
	assert.Len(t, final.Evidence, 3)
}

// A barrier waits for every predecessor, including skipped ones.
func TestSkipSatisfiesBarrier(t *testing.T) {
	e := New()
	rec := &recorder{}
	skipAll := func(s state.RunState) string { return Skip }
	mustRegister(t, e,
		Node{Name: "a", Task: rec.task("a")},
		Node{Name: "left", Task: rec.task("left"), Preds: []string{"a"}},
		Node{Name: "right", Task: rec.task("right"), Preds: []string{"a"}, Gate: skipAll},
		Node{Name: "barrier", Task: rec.task("barrier"), Preds: []string{"left", "right"}},
	)
	final, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.NoError(t, err)
	assert.False(t, rec.didRun("right"))
	assert.True(t, rec.didRun("barrier"))
	assert.NotContains(t, final.Evidence, "right")
	assert.Contains(t, final.Evidence, "barrier")
}

// Routing to End prunes all successors, transitively.
func TestRouteEndPrunesCascade(t *testing.T) {
	e := New()
	rec := &recorder{}
	endRoute := func(s state.RunState) string { return End }
	mustRegister(t, e,
		Node{Name: "a", Task: rec.task("a"), Route: endRoute},
		Node{Name: "b", Task: rec.task("b"), Preds: []string{"a"}},
		Node{Name: "c", Task: rec.task("c"), Preds: []string{"b"}},
	)
	final, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, rec.ran)
	assert.Len(t, final.Evidence, 1)
}

// Routing to one successor runs that branch only; the other is pruned.
func TestRouteSelectsOneSuccessor(t *testing.T) {
	e := New()
	rec := &recorder{}
	pickLeft := func(s state.RunState) string { return "left" }
	mustRegister(t, e,
		Node{Name: "a", Task: rec.task("a"), Route: pickLeft},
		Node{Name: "left", Task: rec.task("left"), Preds: []string{"a"}},
		Node{Name: "right", Task: rec.task("right"), Preds: []string{"a"}},
		Node{Name: "join", Task: rec.task("join"), Preds: []string{"left", "right"}},
	)
	_, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.NoError(t, err)
	assert.True(t, rec.didRun("left"))
	assert.False(t, rec.didRun("right"))
	assert.True(t, rec.didRun("join"))
}

func TestRouteToUnknownSuccessorFails(t *testing.T) {
	e := New()
	rec := &recorder{}
	mustRegister(t, e,
		Node{Name: "a", Task: rec.task("a"), Route: func(s state.RunState) string { return "nope" }},
		Node{Name: "b", Task: rec.task("b"), Preds: []string{"a"}},
	)
	_, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route target")
}

func TestTaskErrorNamesNode(t *testing.T) {
	e := New()
	rec := &recorder{}
	boom := func(ctx context.Context, s state.RunState) (state.Delta, error) {
		return state.Delta{}, assert.AnError
	}
	mustRegister(t, e,
		Node{Name: "ok", Task: rec.task("ok")},
		Node{Name: "broken", Task: boom, Preds: []string{"ok"}},
	)
	final, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node broken")
	// State keeps every merge that happened before the failure.
	assert.Contains(t, final.Evidence, "ok")
}

func TestCycleDetected(t *testing.T) {
	e := New()
	rec := &recorder{}
	mustRegister(t, e,
		Node{Name: "a", Task: rec.task("a"), Preds: []string{"b"}},
		Node{Name: "b", Task: rec.task("b"), Preds: []string{"a"}},
	)
	_, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestUnknownPredecessorRejected(t *testing.T) {
	e := New()
	rec := &recorder{}
	mustRegister(t, e, Node{Name: "a", Task: rec.task("a"), Preds: []string{"ghost"}})
	_, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown predecessor")
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	e := New()
	require.NoError(t, e.Register(Node{Name: "a"}))
	assert.Error(t, e.Register(Node{Name: "a"}))
	assert.Error(t, e.Register(Node{Name: ""}))
	assert.Error(t, e.Register(Node{Name: End}))
}

// A group limit of 1 serializes the group even though the graph allows the
// nodes to run in parallel.
func TestGroupLimitBoundsConcurrency(t *testing.T) {
	e := New()
	var active, peak int32
	slow := func(ctx context.Context, s state.RunState) (state.Delta, error) {
		cur := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return state.Delta{}, nil
	}
	mustRegister(t, e,
		Node{Name: "w1", Task: slow, Group: "workers"},
		Node{Name: "w2", Task: slow, Group: "workers"},
		Node{Name: "w3", Task: slow, Group: "workers"},
	)
	e.SetGroupLimit("workers", 1)
	_, err := e.Execute(context.Background(), state.RunState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

// The merged result is the same for any completion order of parallel
// branches.
func TestParallelBranchesMergeDeterministically(t *testing.T) {
	for i := 0; i < 5; i++ {
		e := New()
		rec := &recorder{}
		mustRegister(t, e,
			Node{Name: "start", Task: rec.task("start")},
			Node{Name: "p1", Task: rec.task("p1"), Preds: []string{"start"}},
			Node{Name: "p2", Task: rec.task("p2"), Preds: []string{"start"}},
			Node{Name: "p3", Task: rec.task("p3"), Preds: []string{"start"}},
			Node{Name: "join", Task: rec.task("join"), Preds: []string{"p1", "p2", "p3"}},
		)
		final, err := e.Execute(context.Background(), state.RunState{}, nil)
		require.NoError(t, err)
		assert.Len(t, final.Evidence, 5)
	}
}

func TestContextCancellation(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	blocker := func(ctx context.Context, s state.RunState) (state.Delta, error) {
		<-ctx.Done()
		return state.Delta{}, ctx.Err()
	}
	mustRegister(t, e, Node{Name: "stuck", Task: blocker})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := e.Execute(ctx, state.RunState{}, nil)
	require.Error(t, err)
}
