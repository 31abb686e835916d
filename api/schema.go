package api

// SchemaVersion is written into every exported Document.
const SchemaVersion = "v1"

// Document is the tree-shaped interchange form of one or more subtrees.
// Export produces it; Import consumes it.
type Document struct {
	// Version of the document schema.
	Version string `json:"version"`
	// Top-level nodes of the document.
	Nodes []Node `json:"nodes,omitempty"`
}

// Node is one category in a Document.
type Node struct {
	// Code is the optional business code. When present it identifies the
	// node among its siblings on import; otherwise the name does.
	Code string `json:"code,omitempty"`
	// Name is the display name.
	Name string `json:"name"`
	// Description is free text.
	Description string `json:"description,omitempty"`
	// Type is a node type code. Empty means the importer's default type.
	Type string `json:"type,omitempty"`
	// ContentCount is informational on export and ignored on import.
	ContentCount int `json:"content_count,omitempty"`
	// Children in sibling order.
	Children []Node `json:"children,omitempty"`
}

// Count returns the number of nodes in the document.
func (d *Document) Count() int {
	total := 0
	stack := make([]*Node, 0, len(d.Nodes))
	for i := range d.Nodes {
		stack = append(stack, &d.Nodes[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total++
		for i := range n.Children {
			stack = append(stack, &n.Children[i])
		}
	}
	return total
}
