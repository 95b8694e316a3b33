// Package graph executes a directed acyclic task graph over shared run state.
// It supports conditional gates (skip a branch but still satisfy downstream
// barriers), conditional routing after a node, parallel fan-out with
// per-group concurrency bounds, and barrier fan-in.
package graph

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/semaphore"

	"courtroom/internal/state"
)

const (
	// End is the terminal route target: no successor receives delivery.
	End = "__end__"
	// Skip is returned by a Gate to bypass the node's task while still
	// counting as completed for downstream barriers.
	Skip = "skip"
)

// Task runs a node against a snapshot of the merged state and returns the
// partial state it produced. Tasks must bound their own execution time.
type Task func(ctx context.Context, s state.RunState) (state.Delta, error)

// Gate decides, once a node's predecessors are done, whether the node's task
// runs at all. Returning Skip bypasses the task; anything else runs it.
type Gate func(s state.RunState) string

// Route decides, after a node's task merged, which successor continues.
// Returning "" delivers to all successors, End to none, or one successor's
// name to exactly that one. Successors that receive no delivery from any
// predecessor are pruned without running.
type Route func(s state.RunState) string

// Node is one unit of the graph. A node with multiple predecessors is a
// barrier: it dispatches only after every predecessor ran, skipped, or was
// pruned, never on first arrival.
type Node struct {
	Name  string
	Task  Task
	Preds []string
	Gate  Gate
	Route Route
	// Group names a concurrency class; SetGroupLimit bounds how many nodes
	// of one group run at once.
	Group string
}

// Engine holds the registered topology. Register everything, then Execute.
type Engine struct {
	nodes  map[string]*Node
	order  []string
	limits map[string]int64
}

func New() *Engine {
	return &Engine{nodes: make(map[string]*Node), limits: make(map[string]int64)}
}

// Register adds a node. Names must be unique and non-empty.
func (e *Engine) Register(n Node) error {
	if n.Name == "" || n.Name == End {
		return fmt.Errorf("graph: invalid node name %q", n.Name)
	}
	if _, ok := e.nodes[n.Name]; ok {
		return fmt.Errorf("graph: node %s already registered", n.Name)
	}
	nn := n
	e.nodes[n.Name] = &nn
	e.order = append(e.order, n.Name)
	return nil
}

// SetGroupLimit bounds concurrent in-flight nodes of one group. Zero or
// negative removes the bound.
func (e *Engine) SetGroupLimit(group string, n int) {
	if n <= 0 {
		delete(e.limits, group)
		return
	}
	e.limits[group] = int64(n)
}

// successors derives the forward adjacency from declared predecessors.
func (e *Engine) successors() map[string][]string {
	succs := make(map[string][]string, len(e.nodes))
	for _, name := range e.order {
		for _, p := range e.nodes[name].Preds {
			succs[p] = append(succs[p], name)
		}
	}
	return succs
}

// validate checks predecessor references and rejects cycles (Kahn's order).
func (e *Engine) validate() error {
	if len(e.nodes) == 0 {
		return fmt.Errorf("graph: no nodes registered")
	}
	indeg := make(map[string]int, len(e.nodes))
	for _, name := range e.order {
		for _, p := range e.nodes[name].Preds {
			if _, ok := e.nodes[p]; !ok {
				return fmt.Errorf("graph: node %s declares unknown predecessor %s", name, p)
			}
			indeg[name]++
		}
	}
	succs := e.successors()
	queue := make([]string, 0, len(e.nodes))
	for _, name := range e.order {
		if indeg[name] == 0 {
			queue = append(queue, name)
		}
	}
	seen := 0
	for i := 0; i < len(queue); i++ {
		seen++
		for _, s := range succs[queue[i]] {
			indeg[s]--
			if indeg[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if seen != len(e.nodes) {
		return fmt.Errorf("graph: cycle detected")
	}
	return nil
}

// nodeRun is per-execution bookkeeping for one node.
type nodeRun struct {
	node      *Node
	donePreds int
	delivered int
	launched  bool
	done      bool
}

type completion struct {
	name   string
	target string // "", End, or one successor name
	err    error
}

// Execute runs the graph to completion over initial. The returned state is
// the fully merged result; on failure the error names the failing node and
// the state reflects every merge that happened before the failure.
//
// The dispatch loop is event driven: a ready queue fed by an indegree
// countdown, completions delivered over a channel, and an inflight counter
// guarding against stalls.
func (e *Engine) Execute(ctx context.Context, initial state.RunState, reducers map[state.Field]state.MergeFunc) (state.RunState, error) {
	if err := e.validate(); err != nil {
		return initial, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := state.NewStore(initial, reducers)
	succs := e.successors()

	runs := make(map[string]*nodeRun, len(e.nodes))
	for name, n := range e.nodes {
		runs[name] = &nodeRun{node: n}
	}
	sems := make(map[string]*semaphore.Weighted, len(e.limits))
	for g, n := range e.limits {
		sems[g] = semaphore.NewWeighted(n)
	}

	completionCh := make(chan completion, len(e.nodes))
	inflight := 0
	doneCount := 0

	var ready []string
	for _, name := range e.order {
		if len(e.nodes[name].Preds) == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	// finish marks a node done and distributes delivery to successors per
	// the route target. Newly unblocked successors join the ready queue.
	finish := func(name, target string) {
		r := runs[name]
		r.done = true
		doneCount++
		for _, s := range succs[name] {
			sr := runs[s]
			sr.donePreds++
			if target == "" || target == s {
				sr.delivered++
			}
			if sr.donePreds == len(sr.node.Preds) && !sr.done && !sr.launched {
				ready = append(ready, s)
			}
		}
	}

	launch := func(name string) {
		r := runs[name]
		snap := store.Snapshot()
		if r.node.Gate != nil && r.node.Gate(snap) == Skip {
			// Skipped branches still deliver so downstream barriers never starve.
			finish(name, "")
			return
		}
		r.launched = true
		inflight++
		go func(n *Node) {
			if sem := sems[n.Group]; sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					completionCh <- completion{name: n.Name, err: err}
					return
				}
				defer sem.Release(1)
			}
			var delta state.Delta
			var err error
			if n.Task != nil {
				delta, err = n.Task(ctx, store.Snapshot())
			}
			if err == nil {
				err = store.Apply(delta)
			}
			target := ""
			if err == nil && n.Route != nil {
				target = n.Route(store.Snapshot())
			}
			completionCh <- completion{name: n.Name, target: target, err: err}
		}(r.node)
	}

	for doneCount < len(e.nodes) {
		for len(ready) > 0 {
			name := ready[0]
			ready = ready[1:]
			r := runs[name]
			if r.done || r.launched {
				continue
			}
			if len(r.node.Preds) > 0 && r.delivered == 0 {
				// No predecessor routed here: prune without running, and
				// propagate so descendants resolve too.
				finish(name, End)
				continue
			}
			launch(name)
		}
		if doneCount >= len(e.nodes) {
			break
		}
		if inflight == 0 {
			return store.Snapshot(), fmt.Errorf("graph: stalled with %d of %d nodes done", doneCount, len(e.nodes))
		}
		select {
		case <-ctx.Done():
			return store.Snapshot(), ctx.Err()
		case c := <-completionCh:
			inflight--
			if c.err != nil {
				cancel()
				return store.Snapshot(), fmt.Errorf("node %s: %w", c.name, c.err)
			}
			if c.target != "" && c.target != End && !containsString(succs[c.name], c.target) {
				cancel()
				return store.Snapshot(), fmt.Errorf("node %s: route target %q is not a successor", c.name, c.target)
			}
			finish(c.name, c.target)
		}
	}
	return store.Snapshot(), nil
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
