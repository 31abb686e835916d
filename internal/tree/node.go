// Package tree holds the data model of the category tree engine: nodes,
// node types, the materialized-path rules, and the contract every node store
// implements.
package tree

import (
	"strings"
	"time"
)

// Node is one category in the forest.
//
// Path, Depth, OrderIndex and ParentID are structural fields. Only the
// mutation engine writes them; content updates never touch them.
type Node struct {
	ID          int64  `json:"id"`
	ParentID    *int64 `json:"parent_id"`      // nil for roots
	Code        string `json:"code,omitempty"` // optional business code, unique among live siblings
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TypeID      int64  `json:"type_id"`

	Path       string `json:"path"`        // "-1-7-" for a node whose ancestors are 1 then 7; "" for roots
	Depth      int    `json:"depth"`       // number of ancestors
	OrderIndex int    `json:"order_index"` // 1-based, unique among live siblings

	ContentCount int   `json:"content_count"` // linked questions, maintained by the categorization facility
	Version      int64 `json:"version"`       // bumped on every committed write to the row

	IsActive  bool       `json:"is_active"`
	IsVisible bool       `json:"is_visible"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool { return n.ParentID == nil }

// IsDeleted reports whether the node carries a soft-delete marker.
func (n *Node) IsDeleted() bool { return n.DeletedAt != nil }

// ParentKey returns the parent id, or 0 for roots. Ids start at 1, so 0 is
// free to stand for the root scope.
func (n *Node) ParentKey() int64 {
	if n.ParentID == nil {
		return 0
	}
	return *n.ParentID
}

// Clone returns a deep copy so callers can mutate without aliasing store rows.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.DeletedAt != nil {
		d := *n.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// SameName compares display names the way sibling uniqueness does.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NodeType is a catalog entry describing what kind of node something is.
type NodeType struct {
	ID             int64  `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	AllowsChildren bool   `json:"allows_children"`
	IsActive       bool   `json:"is_active"`
	IsVisible      bool   `json:"is_visible"`
	IsSystem       bool   `json:"is_system"` // shipped with the deployment, cannot be deleted
	Version        int64  `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
}

// Clone returns a copy of the type.
func (t *NodeType) Clone() *NodeType {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// PathUpdate is one row of a cascading path rewrite.
type PathUpdate struct {
	ID    int64
	Path  string
	Depth int
}

// OrderUpdate assigns a sibling position.
type OrderUpdate struct {
	ID         int64
	OrderIndex int
}

// Int64 returns a pointer to v. Handy for optional parent ids.
func Int64(v int64) *int64 { return &v }
