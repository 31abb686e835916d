// Package engine is the service layer over a tree.Store: the mutation
// engine that enforces the forest invariants, the read-side query engine,
// and the node-type registry.
//
// The engine does not log. Every failure is returned to the caller wrapped
// around one of the tree sentinel errors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentic-research/arbor/internal/tree"
)

const (
	maxNameLen = 255
	maxCodeLen = 64
)

// Engine runs structural mutations and queries against a store.
// It is safe for concurrent use.
type Engine struct {
	store          tree.Store
	now            func() time.Time
	cascadeTimeout time.Duration
	scopes         *scopeLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for audit fields.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCascadeTimeout bounds every write transaction. Zero disables the bound.
func WithCascadeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.cascadeTimeout = d }
}

// New returns an engine over s.
func New(s tree.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		now:    time.Now,
		scopes: newScopeLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() tree.Store { return e.store }

// scopeKey maps an optional parent id to a lock key; 0 is the root scope.
func scopeKey(parentID *int64) int64 {
	if parentID == nil {
		return 0
	}
	return *parentID
}

// write runs fn in one store transaction while holding the sibling-scope
// locks for scopes. Structural checks inside fn see a stable tree: the
// transaction serializes against other writers and the scope locks
// serialize engine callers touching the same sibling set.
func (e *Engine) write(ctx context.Context, actor string, scopes []int64, fn func(ctx context.Context, tx tree.Tx, at time.Time) error) error {
	if strings.TrimSpace(actor) == "" {
		return fmt.Errorf("actor is required: %w", tree.ErrValidation)
	}

	unlock := e.scopes.lock(scopes...)
	defer unlock()

	if e.cascadeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cascadeTimeout)
		defer cancel()
	}

	at := e.now().UTC()
	err := e.store.WithTx(ctx, func(tx tree.Tx) error {
		return fn(ctx, tx, at)
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, tree.ErrTimeout) {
		err = fmt.Errorf("%w: %w", tree.ErrTimeout, err)
	}
	return err
}

// ---------------------------------------------------------------------------
// Shared validation
// ---------------------------------------------------------------------------

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", fmt.Errorf("name is required: %w", tree.ErrValidation)
	case len(name) > maxNameLen:
		return "", fmt.Errorf("name longer than %d bytes: %w", maxNameLen, tree.ErrValidation)
	}
	return name, nil
}

func validateCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	switch {
	case len(code) > maxCodeLen:
		return "", fmt.Errorf("code longer than %d bytes: %w", maxCodeLen, tree.ErrValidation)
	case strings.ContainsAny(code, " \t\r\n"):
		return "", fmt.Errorf("code %q contains whitespace: %w", code, tree.ErrValidation)
	}
	return code, nil
}

func validateOrder(idx int) error {
	if idx < 0 {
		return fmt.Errorf("order index %d: %w", idx, tree.ErrValidation)
	}
	return nil
}

// siblings returns the live members of a sibling scope.
func siblings(ctx context.Context, r tree.Reader, parentID *int64) ([]*tree.Node, error) {
	if parentID == nil {
		return r.Roots(ctx)
	}
	return r.Children(ctx, *parentID)
}

// checkSiblings rejects a name or code already used by another live sibling.
func checkSiblings(sibs []*tree.Node, selfID int64, code, name string) error {
	for _, s := range sibs {
		if s.ID == selfID {
			continue
		}
		if code != "" && s.Code == code {
			return fmt.Errorf("code %q used by node %d: %w", code, s.ID, tree.ErrDuplicateSibling)
		}
		if tree.SameName(s.Name, name) {
			return fmt.Errorf("name %q used by node %d: %w", name, s.ID, tree.ErrDuplicateSibling)
		}
	}
	return nil
}

// occupied reports whether another sibling holds idx.
func occupied(sibs []*tree.Node, selfID int64, idx int) bool {
	for _, s := range sibs {
		if s.ID != selfID && s.OrderIndex == idx {
			return true
		}
	}
	return false
}

func maxOrder(sibs []*tree.Node) int {
	hi := 0
	for _, s := range sibs {
		if s.OrderIndex > hi {
			hi = s.OrderIndex
		}
	}
	return hi
}

// loadParent resolves an optional parent and checks that it may hold children.
func loadParent(ctx context.Context, tx tree.Reader, parentID *int64) (*tree.Node, error) {
	if parentID == nil {
		return nil, nil
	}
	parent, err := tx.GetByID(ctx, *parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("parent %d: %w", *parentID, tree.ErrNotFound)
	}
	pt, err := tx.GetType(ctx, parent.TypeID)
	if err != nil {
		return nil, err
	}
	if pt == nil || !pt.AllowsChildren {
		return nil, fmt.Errorf("parent %d has type that forbids children: %w", parent.ID, tree.ErrTypeNotAllowed)
	}
	return parent, nil
}

// usableType resolves a type a node is about to take on.
func usableType(ctx context.Context, tx tree.Reader, typeID int64) (*tree.NodeType, error) {
	nt, err := tx.GetType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if nt == nil {
		return nil, fmt.Errorf("node type %d: %w", typeID, tree.ErrNotFound)
	}
	if !nt.IsActive {
		return nil, fmt.Errorf("node type %q is inactive: %w", nt.Code, tree.ErrTypeNotAllowed)
	}
	return nt, nil
}
