package graph

// Neighbor is a traversal result: a node together with its minimum hop
// distance from the traversal start.
type Neighbor struct {
	Node *Node
	Hops int
}

// Path is a minimum-hop path between two nodes, including both endpoints.
type Path struct {
	NodeIDs []string
	Nodes   []*Node
	Hops    int
}
