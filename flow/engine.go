package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dshills/storyflow-go/flow/emit"
	"github.com/dshills/storyflow-go/flow/store"
)

const (
	defaultMaxWorkers = 8
	defaultMaxSteps   = 100
)

// Engine executes a Graph as a sequence of super-steps.
//
// Each step holds a frontier of invocations (plain nodes or fan-out
// dispatches). All invocations of a step run concurrently on a bounded
// worker pool and observe the same pre-step snapshot of state; dispatches
// additionally overlay their payload onto a private clone. Results merge one
// at a time, in completion order, under the schema's per-field policies.
// After the step barrier the next frontier is computed from routers, static
// edges and fan-group accounting.
//
// Fan-in: a router returning Fan(join, msgs...) creates a fan group for the
// named join. The join is scheduled exactly once, after every group awaiting
// it has drained. A fan-out with zero dispatches satisfies its group
// immediately, so an empty branch never deadlocks its join, and sibling
// fan-outs naming the same join coalesce into a single join execution.
//
// Suspension: when a node returns Result.Suspend the engine finishes the
// step barrier, merges sibling deltas into the frozen state, persists a
// suspension record and only then reports the run as suspended. Sibling
// routes are not followed; Resume continues solely from the suspension
// node's route, so a suspension gate should occupy its own step. A
// persistence failure yields a failed outcome, never a false suspension.
//
// An Engine holds no per-run state and may execute any number of runs
// concurrently.
//
// Example:
//
//	g := flow.NewGraph()
//	g.Add("plan", planNode)
//	g.Add("work", workNode)
//	g.Add("collect", collectNode)
//	g.StartAt("plan")
//	g.Route("plan", func(s flow.State) flow.Route {
//	    var msgs []flow.Dispatch
//	    for i, p := range prompts(s) {
//	        msgs = append(msgs, flow.Send("work", map[string]any{"index": i, "prompt": p}))
//	    }
//	    return flow.Fan("collect", msgs...)
//	})
//
//	eng, err := flow.New(g, schema, flow.WithStore(st), flow.WithMaxWorkers(8))
//	out := eng.Run(ctx, "run-001", flow.State{"prompt": "a tale"})
type Engine struct {
	graph   *Graph
	schema  Schema
	store   store.Store[State]
	emitter emit.Emitter
	metrics *PrometheusMetrics

	maxWorkers int
	maxSteps   int
}

// New creates an Engine for a validated graph and schema.
func New(g *Graph, schema Schema, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, &RunError{Category: CategoryValidation, Message: "graph cannot be nil"}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, &RunError{Category: CategoryValidation, Message: "schema cannot be nil"}
	}

	e := &Engine{
		graph:      g,
		schema:     schema,
		emitter:    emit.NewNullEmitter(),
		maxWorkers: defaultMaxWorkers,
		maxSteps:   defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// invocation is one scheduled unit of a super-step: a plain node, or a
// dispatched branch carrying its payload and fan group.
type invocation struct {
	node    string
	payload map[string]any
	group   *fanGroup
}

// fanGroup tracks one Fan verdict until all its dispatches complete.
type fanGroup struct {
	join      string
	remaining int
}

func (g *fanGroup) drained() bool { return g.remaining == 0 }

// schedState is the per-run fan-in bookkeeping: live groups in creation
// order and, per join, how many groups still await it.
type schedState struct {
	groups    []*fanGroup
	pending   map[string]int
	joinOrder []string
}

func newSchedState() *schedState {
	return &schedState{pending: make(map[string]int)}
}

func (sc *schedState) addGroup(g *fanGroup) {
	sc.groups = append(sc.groups, g)
	if sc.pending[g.join] == 0 {
		sc.joinOrder = append(sc.joinOrder, g.join)
	}
	sc.pending[g.join]++
}

// readyJoins drops drained groups and returns the joins with no undrained
// group left, in first-registration order. Returned joins are deregistered;
// a later fan-out may register them again.
func (sc *schedState) readyJoins() []string {
	live := sc.groups[:0]
	for _, g := range sc.groups {
		if g.drained() {
			sc.pending[g.join]--
		} else {
			live = append(live, g)
		}
	}
	sc.groups = live

	var ready []string
	remaining := sc.joinOrder[:0]
	for _, join := range sc.joinOrder {
		if sc.pending[join] == 0 {
			delete(sc.pending, join)
			ready = append(ready, join)
		} else {
			remaining = append(remaining, join)
		}
	}
	sc.joinOrder = remaining
	return ready
}

// suspendCapture records the suspension observed during a step barrier.
type suspendCapture struct {
	node    string
	payload map[string]any
}

// Run executes the graph from its start node until it completes, suspends
// or fails. The returned Outcome is the full report; it never panics and
// does not return a separate error.
//
// The initial state must only contain schema-declared fields. runID must be
// unique per run and stable across suspend and resume.
func (e *Engine) Run(ctx context.Context, runID string, initial State) Outcome {
	if runID == "" {
		return Outcome{
			Status: StatusFailed,
			State:  State{},
			Err:    &RunError{Category: CategoryValidation, Message: "run id cannot be empty"},
		}
	}

	state := initial.Clone()
	if err := e.schema.ValidateState(state); err != nil {
		return e.finishFailed(runID, state, 0, 0, err)
	}

	e.emitter.Emit(emit.Event{RunID: runID, Step: 0, NodeID: e.graph.start, Msg: "run_started"})

	frontier := []invocation{{node: e.graph.start}}
	return e.loop(ctx, runID, state, frontier, newSchedState(), 0)
}

// Resume continues a suspended run with an external decision.
//
// A non-nil error means the run could not be resumed and its state is
// unchanged: the suspension is unknown, already consumed, or the decision
// is invalid. Decision fields are validated before the suspension is
// consumed, so a rejected decision leaves the run resumable with a
// corrected one. Each decision field must be schema-declared with the
// replace policy.
//
// Once the suspension is consumed, execution re-enters the graph at the
// suspension node's route, evaluated on the frozen state plus the decision.
// The node body itself does not run again. From that point on failures
// surface as failed outcomes, as in Run.
func (e *Engine) Resume(ctx context.Context, runID string, decision map[string]any) (Outcome, error) {
	if runID == "" {
		return Outcome{}, &RunError{Category: CategoryValidation, Message: "run id cannot be empty"}
	}
	if e.store == nil {
		return Outcome{}, &RunError{Category: CategoryCheckpoint, Message: "resume requires a store"}
	}

	susp, err := e.store.LoadSuspension(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{}, &RunError{
				Category: CategoryCheckpoint,
				Message:  fmt.Sprintf("no suspension found for run %q", runID),
				Cause:    err,
			}
		}
		return Outcome{}, &RunError{Category: CategoryCheckpoint, Message: "failed to load suspension", Cause: err}
	}

	for field := range decision {
		p, ok := e.schema.Policy(field)
		if !ok {
			return Outcome{}, &RunError{
				Category: CategoryValidation,
				Message:  fmt.Sprintf("decision field %q is not declared in the schema", field),
			}
		}
		if p != Replace {
			return Outcome{}, &RunError{
				Category: CategoryValidation,
				Message:  fmt.Sprintf("decision field %q must use the replace policy", field),
			}
		}
	}
	if _, ok := e.graph.node(susp.Node); !ok {
		return Outcome{}, &RunError{
			Category: CategoryValidation,
			Message:  fmt.Sprintf("suspension node %q is not in the graph", susp.Node),
		}
	}

	startStep := 0
	if _, last, err := e.store.LoadLatest(ctx, runID); err == nil {
		startStep = last
	} else if !errors.Is(err, store.ErrNotFound) {
		return Outcome{}, &RunError{Category: CategoryCheckpoint, Message: "failed to load run history", Cause: err}
	}

	if err := e.store.MarkResumed(ctx, runID, susp.Seq); err != nil {
		if errors.Is(err, store.ErrAlreadyResumed) {
			return Outcome{}, &RunError{
				Category: CategoryCheckpoint,
				Message:  fmt.Sprintf("suspension %d of run %q was already resumed", susp.Seq, runID),
				Cause:    err,
			}
		}
		return Outcome{}, &RunError{Category: CategoryCheckpoint, Message: "failed to consume suspension", Cause: err}
	}

	// The suspension is consumed; from here on failures are failed outcomes,
	// not resume errors.
	state := susp.State.Clone()
	e.metrics.IncrementResumes(runID)
	e.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   startStep,
		NodeID: susp.Node,
		Msg:    "run_resumed",
		Meta:   map[string]any{"seq": susp.Seq},
	})

	if err := e.schema.Merge(state, State(decision)); err != nil {
		return e.finishFailed(runID, state, startStep, 0, err), nil
	}

	sch := newSchedState()
	next, err := e.routeSuccessors(sch, runID, startStep, susp.Node, state, nil)
	if err != nil {
		return e.finishFailed(runID, state, startStep, 0, err), nil
	}
	next = e.collectReadyJoins(sch, runID, startStep, next)
	return e.loop(ctx, runID, state, next, sch, startStep), nil
}

// loop drives super-steps until the frontier empties, a node suspends, or
// the run fails. startStep offsets persisted step numbers so a resumed run
// continues its history rather than overwriting it.
func (e *Engine) loop(ctx context.Context, runID string, state State, frontier []invocation, sch *schedState, startStep int) Outcome {
	step := startStep
	executed := 0

	for len(frontier) > 0 {
		if executed >= e.maxSteps {
			return e.finishFailed(runID, state, step, executed, &RunError{
				Category: CategoryInternal,
				Message:  fmt.Sprintf("run stopped after %d steps", executed),
				Cause:    ErrMaxStepsExceeded,
			})
		}
		if err := ctx.Err(); err != nil {
			return e.finishFailed(runID, state, step, executed, &RunError{
				Category: CategoryInternal,
				Message:  "run cancelled",
				Cause:    err,
			})
		}

		step++
		executed++
		e.metrics.UpdateFrontierDepth(len(frontier))

		susp, err := e.executeStep(ctx, runID, step, frontier, state)
		e.metrics.UpdateFrontierDepth(0)
		if err != nil {
			return e.finishFailed(runID, state, step, executed, err)
		}

		if e.store != nil {
			if serr := e.store.SaveStep(ctx, runID, step, stepNodeIDs(frontier), state); serr != nil {
				return e.finishFailed(runID, state, step, executed, &RunError{
					Category: CategoryCheckpoint,
					Message:  "failed to persist step snapshot",
					Cause:    serr,
				})
			}
		}

		if susp != nil {
			return e.suspendRun(ctx, runID, state, step, executed, susp)
		}

		var next []invocation
		for _, inv := range frontier {
			if inv.group != nil {
				// Dispatched branches rejoin through their fan group, not
				// through routing.
				continue
			}
			next, err = e.routeSuccessors(sch, runID, step, inv.node, state, next)
			if err != nil {
				return e.finishFailed(runID, state, step, executed, err)
			}
		}
		frontier = e.collectReadyJoins(sch, runID, step, next)
	}

	return e.finishCompleted(runID, state, step, executed)
}

// executeStep runs one frontier to completion. All invocations observe the
// same pre-step snapshot; deltas merge in completion order under a mutex.
// The first node error wins; later completions still drain and merge.
func (e *Engine) executeStep(ctx context.Context, runID string, step int, frontier []invocation, state State) (*suspendCapture, error) {
	snap := state.Clone()
	sem := make(chan struct{}, e.maxWorkers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		susp     *suspendCapture
		inflight int
	)

	for _, inv := range frontier {
		wg.Add(1)
		go func(inv invocation) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			inflight++
			e.metrics.UpdateInflightNodes(inflight)
			mu.Unlock()

			view := snap.Clone()
			for k, v := range inv.payload {
				view[k] = cloneValue(v)
			}

			var res Result
			start := time.Now()
			if node, ok := e.graph.node(inv.node); ok {
				res = node.Run(ctx, view)
			} else {
				res = Result{Err: &RunError{
					Category: CategoryInternal,
					Message:  fmt.Sprintf("node %q is not in the graph", inv.node),
				}}
			}
			elapsed := time.Since(start)

			mu.Lock()
			defer mu.Unlock()

			inflight--
			e.metrics.UpdateInflightNodes(inflight)
			if inv.group != nil {
				inv.group.remaining--
			}

			status := "success"
			nodeErr := res.Err

			if nodeErr == nil {
				if merr := e.schema.Merge(state, res.Delta); merr != nil {
					e.metrics.IncrementMergeFailures(runID, string(CategoryOf(merr)))
					nodeErr = &NodeError{
						Category: CategoryValidation,
						Message:  "delta rejected",
						Node:     inv.node,
						Cause:    merr,
					}
				}
			}

			switch {
			case nodeErr != nil:
				status = "error"
				if firstErr == nil {
					firstErr = wrapNodeErr(inv.node, nodeErr)
				}
			case res.Suspend != nil:
				status = "suspended"
				switch {
				case inv.group != nil:
					if firstErr == nil {
						firstErr = &NodeError{
							Category: CategoryInternal,
							Message:  "suspension inside a fan-out dispatch is not supported",
							Node:     inv.node,
						}
					}
				case susp != nil:
					if firstErr == nil {
						firstErr = &RunError{
							Category: CategoryInternal,
							Message:  fmt.Sprintf("nodes %q and %q both suspended in one step", susp.node, inv.node),
						}
					}
				default:
					susp = &suspendCapture{node: inv.node, payload: res.Suspend.Payload}
				}
			}

			e.metrics.RecordNodeLatency(runID, inv.node, elapsed, status)

			meta := map[string]any{"duration_ms": elapsed.Milliseconds()}
			msg := "node_completed"
			if status == "suspended" {
				msg = "node_suspended"
			}
			if nodeErr != nil {
				meta["error"] = nodeErr.Error()
				meta["category"] = string(CategoryOf(nodeErr))
			}
			e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: inv.node, Msg: msg, Meta: meta})
		}(inv)
	}

	wg.Wait()
	return susp, firstErr
}

// routeSuccessors evaluates the route of one completed plain node against
// the merged state and appends the resulting invocations to next.
func (e *Engine) routeSuccessors(sch *schedState, runID string, step int, nodeID string, state State, next []invocation) ([]invocation, error) {
	route := e.graph.routeFor(nodeID, state)

	switch {
	case route.end:
		return next, nil

	case route.fan != nil:
		f := route.fan
		if _, ok := e.graph.node(f.Join); !ok {
			return next, &RunError{
				Category: CategoryValidation,
				Message:  fmt.Sprintf("node %q fans out to unknown join %q", nodeID, f.Join),
			}
		}
		g := &fanGroup{join: f.Join, remaining: len(f.Dispatches)}
		for _, d := range f.Dispatches {
			if _, ok := e.graph.node(d.To); !ok {
				return next, &RunError{
					Category: CategoryValidation,
					Message:  fmt.Sprintf("node %q dispatches to unknown node %q", nodeID, d.To),
				}
			}
			for k := range d.Payload {
				if _, ok := e.schema.Policy(k); !ok {
					return next, &RunError{
						Category: CategoryValidation,
						Message:  fmt.Sprintf("dispatch payload field %q is not declared in the schema", k),
					}
				}
			}
			next = append(next, invocation{node: d.To, payload: d.Payload, group: g})
		}
		sch.addGroup(g)
		e.emitter.Emit(emit.Event{
			RunID:  runID,
			Step:   step,
			NodeID: nodeID,
			Msg:    "fan_out",
			Meta:   map[string]any{"join": f.Join, "dispatches": len(f.Dispatches)},
		})
		return next, nil

	default:
		for _, to := range route.to {
			if _, ok := e.graph.node(to); !ok {
				return next, &RunError{
					Category: CategoryValidation,
					Message:  fmt.Sprintf("node %q routes to unknown node %q", nodeID, to),
				}
			}
			next = append(next, invocation{node: to})
		}
		return next, nil
	}
}

// collectReadyJoins schedules every join whose fan groups have all drained.
func (e *Engine) collectReadyJoins(sch *schedState, runID string, step int, next []invocation) []invocation {
	for _, join := range sch.readyJoins() {
		e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: join, Msg: "join_ready"})
		next = append(next, invocation{node: join})
	}
	return next
}

// suspendRun persists the suspension record and reports the run suspended.
// Persistence failure downgrades to a failed outcome so a lost decision
// checkpoint is never reported as a successful suspension.
func (e *Engine) suspendRun(ctx context.Context, runID string, state State, step, executed int, cap *suspendCapture) Outcome {
	if e.store == nil {
		return e.finishFailed(runID, state, step, executed, &RunError{
			Category: CategoryCheckpoint,
			Message:  fmt.Sprintf("node %q suspended but no store is configured", cap.node),
		})
	}

	seq := 1
	prev, err := e.store.LoadSuspension(ctx, runID)
	switch {
	case err == nil:
		seq = prev.Seq + 1
	case errors.Is(err, store.ErrNotFound):
	default:
		return e.finishFailed(runID, state, step, executed, &RunError{
			Category: CategoryCheckpoint,
			Message:  "failed to load prior suspension",
			Cause:    err,
		})
	}

	rec := store.Suspension[State]{
		RunID:     runID,
		Node:      cap.node,
		Seq:       seq,
		State:     state.Clone(),
		Payload:   cap.payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveSuspension(ctx, rec); err != nil {
		return e.finishFailed(runID, state, step, executed, &RunError{
			Category: CategoryCheckpoint,
			Message:  "failed to persist suspension",
			Cause:    err,
		})
	}

	e.metrics.IncrementSuspensions(runID, cap.node)
	e.metrics.IncrementRuns(string(StatusSuspended))
	e.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: cap.node,
		Msg:    "run_suspended",
		Meta:   map[string]any{"seq": seq},
	})

	return Outcome{
		RunID:      runID,
		Status:     StatusSuspended,
		State:      state,
		Steps:      executed,
		Suspension: &SuspendInfo{Node: cap.node, Seq: seq, Payload: cap.payload},
	}
}

func (e *Engine) finishCompleted(runID string, state State, step, executed int) Outcome {
	e.emitter.Emit(emit.Event{RunID: runID, Step: step, Msg: "run_completed"})
	e.metrics.IncrementRuns(string(StatusCompleted))
	return Outcome{RunID: runID, Status: StatusCompleted, State: state, Steps: executed}
}

func (e *Engine) finishFailed(runID string, state State, step, executed int, err error) Outcome {
	e.emitter.Emit(emit.Event{
		RunID: runID,
		Step:  step,
		Msg:   "run_failed",
		Meta:  map[string]any{"error": err.Error(), "category": string(CategoryOf(err))},
	})
	e.metrics.IncrementRuns(string(StatusFailed))
	return Outcome{RunID: runID, Status: StatusFailed, State: state, Steps: executed, Err: err}
}

// wrapNodeErr leaves already-categorized errors intact and classifies bare
// ones as external, the common case for node bodies doing provider calls.
func wrapNodeErr(nodeID string, err error) error {
	var ne *NodeError
	if errors.As(err, &ne) {
		return err
	}
	var re *RunError
	if errors.As(err, &re) {
		return err
	}
	return &NodeError{Category: CategoryExternal, Message: "execution failed", Node: nodeID, Cause: err}
}

func stepNodeIDs(frontier []invocation) string {
	ids := make([]string, len(frontier))
	for i, inv := range frontier {
		ids[i] = inv.node
	}
	return strings.Join(ids, ",")
}
