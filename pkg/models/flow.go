package models

// FlowNode is one node in a flow definition
type FlowNode struct {
	// ID of the node, unique within the flow
	ID string `json:"id" yaml:"id"`

	// Type selects the node handler (start, end, adapter, decision, ...)
	Type string `json:"type" yaml:"type"`

	// Name is an optional human-readable label
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Config carries handler-specific settings
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// FlowEdge connects two nodes. The Path labels which decision or split
// outcome follows this edge.
type FlowEdge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// FlowDefinition is the executable shape of an integration flow. Nodes
// run strictly in declaration order; edges only annotate routing for
// decision and split outcomes.
type FlowDefinition struct {
	// ID of the flow
	ID string `json:"id" yaml:"id"`

	// Name of the flow
	Name string `json:"name" yaml:"name"`

	// Nodes in pipeline order
	Nodes []FlowNode `json:"nodes" yaml:"nodes"`

	// Edges between nodes
	Edges []FlowEdge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Node returns the node with the given id, if present.
func (f *FlowDefinition) Node(id string) (*FlowNode, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}
