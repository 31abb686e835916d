package tree

import (
	"context"
	"time"
)

// Reader is the read side of a node store. Every method excludes
// soft-deleted rows. Lookups that find nothing return a nil node and a nil
// error, so callers can tell "doesn't exist" apart from a store failure.
type Reader interface {
	GetByID(ctx context.Context, id int64) (*Node, error)
	// GetByCode finds a live node by business code within one sibling scope.
	GetByCode(ctx context.Context, parentID *int64, code string) (*Node, error)
	Roots(ctx context.Context) ([]*Node, error)
	Children(ctx context.Context, parentID int64) ([]*Node, error)
	// Ancestors returns the ancestor chain ordered root first, parent last.
	Ancestors(ctx context.Context, id int64) ([]*Node, error)
	// Descendants returns the subtree below id via a path prefix scan,
	// ordered by depth then order index. maxDepth <= 0 means unbounded;
	// otherwise only nodes at most maxDepth levels below id are returned.
	Descendants(ctx context.Context, id int64, maxDepth int) ([]*Node, error)
	ByType(ctx context.Context, typeID int64) ([]*Node, error)
	// Search matches term against name, code and description, case-insensitively.
	Search(ctx context.Context, term string) ([]*Node, error)
	// All returns every live node ordered by depth then order index.
	All(ctx context.Context) ([]*Node, error)

	HasChildren(ctx context.Context, id int64) (bool, error)
	CountChildren(ctx context.Context, id int64) (int, error)
	CountDescendants(ctx context.Context, id int64) (int, error)
	// MaxOrderIndex returns the highest order index in a sibling scope, 0 if empty.
	MaxOrderIndex(ctx context.Context, parentID *int64) (int, error)

	GetType(ctx context.Context, id int64) (*NodeType, error)
	GetTypeByCode(ctx context.Context, code string) (*NodeType, error)
	ListTypes(ctx context.Context) ([]*NodeType, error)
	// TypeInUse reports whether any live node references the type.
	TypeInUse(ctx context.Context, typeID int64) (bool, error)
}

// Writer is the write side. It is only reachable inside a transaction.
type Writer interface {
	// Insert stores n and assigns n.ID. Version starts at 1.
	Insert(ctx context.Context, n *Node) error
	// Update replaces the row for n.ID if its stored version equals
	// expectedVersion, then sets n.Version to expectedVersion+1. A mismatch
	// returns ErrConflict.
	Update(ctx context.Context, n *Node, expectedVersion int64) error
	// UpdatePaths rewrites path and depth of many rows, bumping each version.
	UpdatePaths(ctx context.Context, batch []PathUpdate, at time.Time, actor string) error
	// ShiftOrder moves every live sibling in the scope with order index >= from
	// one position down, skipping exclude (0 for none).
	ShiftOrder(ctx context.Context, parentID *int64, from int, exclude int64, at time.Time, actor string) error
	// SetOrder assigns sibling positions in one step.
	SetOrder(ctx context.Context, batch []OrderUpdate, at time.Time, actor string) error
	SoftDelete(ctx context.Context, ids []int64, at time.Time, actor string) error

	InsertType(ctx context.Context, t *NodeType) error
	UpdateType(ctx context.Context, t *NodeType, expectedVersion int64) error
	DeleteType(ctx context.Context, id int64) error
}

// Tx is a unit of work. Reads observe the transaction's own writes.
type Tx interface {
	Reader
	Writer
}

// Store persists the forest. Writes happen only through WithTx: fn's writes
// commit together when it returns nil and are discarded otherwise.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
