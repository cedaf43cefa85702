package flow

import "fmt"

// End is the reserved terminal target. Connecting a node to End (or routing
// Stop) finishes that path of the run.
const End = "__end__"

// Dispatch is one unit of dynamic fan-out: a target node plus a
// self-contained payload.
//
// The payload is overlaid onto the branch's private view of state and is
// never merged into shared state. It must carry everything the target needs
// to run independently (an index, a prompt, an identifier) and must not
// depend on fields sibling dispatches are writing. Payload keys must be
// declared in the run's schema.
type Dispatch struct {
	To      string
	Payload map[string]any
}

// Send constructs a Dispatch.
func Send(to string, payload map[string]any) Dispatch {
	return Dispatch{To: to, Payload: payload}
}

// FanOut is a dynamic fan-out: zero or more dispatches plus the explicit
// join node that waits for all of them.
//
// Naming the join explicitly is what makes the zero-dispatch case sound: an
// empty fan-out satisfies the join immediately instead of relying on some
// sibling fan-out to eventually unblock it.
type FanOut struct {
	Join       string
	Dispatches []Dispatch
}

// Route is a router's verdict: exactly one of a single successor, a dynamic
// fan-out, or a terminal stop.
type Route struct {
	to  []string
	fan *FanOut
	end bool
}

// Goto routes to a single named node.
func Goto(node string) Route {
	return Route{to: []string{node}}
}

// Fan routes to a dynamic fan-out whose dispatches all rejoin at join.
func Fan(join string, msgs ...Dispatch) Route {
	return Route{fan: &FanOut{Join: join, Dispatches: msgs}}
}

// Stop terminates this path of the run.
func Stop() Route {
	return Route{end: true}
}

// Router selects the successor(s) of a node from the merged state after the
// node's step. Routers must be pure: same state, same route.
type Router func(s State) Route

// Graph is a static description of a workflow: named nodes, unconditional
// edges and routers for data-dependent successor selection.
//
// Build with Add/Connect/Route/StartAt, then hand to an Engine. A node's
// router takes precedence over its static edges; a node with neither ends
// its path. Graphs are not safe for concurrent mutation; build fully before
// running.
type Graph struct {
	start   string
	nodes   map[string]Node
	edges   map[string][]string
	routers map[string]Router
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]Node),
		edges:   make(map[string][]string),
		routers: make(map[string]Router),
	}
}

// Add registers a node under a unique id.
func (g *Graph) Add(id string, n Node) error {
	if id == "" {
		return &RunError{Category: CategoryValidation, Message: "node id cannot be empty"}
	}
	if id == End {
		return &RunError{Category: CategoryValidation, Message: "node id " + End + " is reserved"}
	}
	if n == nil {
		return &RunError{Category: CategoryValidation, Message: "node cannot be nil"}
	}
	if _, exists := g.nodes[id]; exists {
		return &RunError{
			Category: CategoryValidation,
			Message:  fmt.Sprintf("node %q already exists", id),
		}
	}
	g.nodes[id] = n
	return nil
}

// StartAt declares the entry node of the graph.
func (g *Graph) StartAt(id string) error {
	if id == "" {
		return &RunError{Category: CategoryValidation, Message: "start node id cannot be empty"}
	}
	if _, exists := g.nodes[id]; !exists {
		return &RunError{
			Category: CategoryValidation,
			Message:  fmt.Sprintf("start node %q does not exist", id),
		}
	}
	g.start = id
	return nil
}

// Connect adds a static edge. A node may have several outgoing edges, in
// which case all successors run in parallel in the next step. The target
// may be End.
func (g *Graph) Connect(from, to string) error {
	if from == "" || to == "" {
		return &RunError{Category: CategoryValidation, Message: "edge endpoints cannot be empty"}
	}
	if _, exists := g.nodes[from]; !exists {
		return &RunError{
			Category: CategoryValidation,
			Message:  fmt.Sprintf("edge source %q does not exist", from),
		}
	}
	if to != End {
		if _, exists := g.nodes[to]; !exists {
			return &RunError{
				Category: CategoryValidation,
				Message:  fmt.Sprintf("edge target %q does not exist", to),
			}
		}
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// Route registers a router for a node, replacing its static edges for
// successor selection.
func (g *Graph) Route(from string, r Router) error {
	if from == "" {
		return &RunError{Category: CategoryValidation, Message: "router node id cannot be empty"}
	}
	if r == nil {
		return &RunError{Category: CategoryValidation, Message: "router cannot be nil"}
	}
	if _, exists := g.nodes[from]; !exists {
		return &RunError{
			Category: CategoryValidation,
			Message:  fmt.Sprintf("router source %q does not exist", from),
		}
	}
	if _, exists := g.routers[from]; exists {
		return &RunError{
			Category: CategoryValidation,
			Message:  fmt.Sprintf("node %q already has a router", from),
		}
	}
	g.routers[from] = r
	return nil
}

// Validate checks the graph is runnable: a start node is set and every
// static edge references a known node. Router verdicts are data-dependent
// and are validated by the engine at run time.
func (g *Graph) Validate() error {
	if g.start == "" {
		return &RunError{Category: CategoryValidation, Message: "graph has no start node"}
	}
	for from, tos := range g.edges {
		for _, to := range tos {
			if to == End {
				continue
			}
			if _, exists := g.nodes[to]; !exists {
				return &RunError{
					Category: CategoryValidation,
					Message:  fmt.Sprintf("edge %s -> %s references unknown node", from, to),
				}
			}
		}
	}
	return nil
}

// node looks up a node by id.
func (g *Graph) node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// routeFor computes the successor verdict for a completed node: its router
// when registered, otherwise its static edges, otherwise Stop.
func (g *Graph) routeFor(id string, s State) Route {
	if r, ok := g.routers[id]; ok {
		return r(s)
	}
	tos := g.edges[id]
	if len(tos) == 0 {
		return Stop()
	}
	targets := make([]string, 0, len(tos))
	for _, to := range tos {
		if to == End {
			continue
		}
		targets = append(targets, to)
	}
	if len(targets) == 0 {
		return Stop()
	}
	return Route{to: targets}
}
