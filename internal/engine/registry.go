package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentic-research/arbor/internal/tree"
)

// DefaultTypeCode is the system type seeded by EnsureSystemTypes.
const DefaultTypeCode = "category"

// TypeInput describes a new node type.
type TypeInput struct {
	Code           string
	Name           string
	Description    string
	AllowsChildren bool
	Inactive       bool
	Hidden         bool
	System         bool
}

// TypeUpdate carries node type changes. Nil fields are left alone.
type TypeUpdate struct {
	Name           *string
	Description    *string
	AllowsChildren *bool
	IsActive       *bool
	IsVisible      *bool
	Version        int64 // 0 skips the version check
}

// CreateType adds a node type. Code and name must be unused.
func (e *Engine) CreateType(ctx context.Context, actor string, in TypeInput) (*tree.NodeType, error) {
	code, err := validateCode(in.Code)
	if err == nil && code == "" {
		err = fmt.Errorf("code is required: %w", tree.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("create node type: %w", err)
	}
	name, err := validateName(in.Name)
	if err != nil {
		return nil, fmt.Errorf("create node type %q: %w", code, err)
	}

	nt := &tree.NodeType{
		Code:           code,
		Name:           name,
		Description:    in.Description,
		AllowsChildren: in.AllowsChildren,
		IsActive:       !in.Inactive,
		IsVisible:      !in.Hidden,
		IsSystem:       in.System,
	}
	err = e.write(ctx, actor, nil, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		if err := uniqueType(ctx, tx, 0, code, name); err != nil {
			return err
		}
		nt.CreatedAt, nt.UpdatedAt = at, at
		nt.CreatedBy, nt.UpdatedBy = actor, actor
		return tx.InsertType(ctx, nt)
	})
	if err != nil {
		return nil, fmt.Errorf("create node type %q: %w", code, err)
	}
	return nt, nil
}

// uniqueType rejects a code or name (case-insensitive) held by another type.
func uniqueType(ctx context.Context, tx tree.Reader, selfID int64, code, name string) error {
	types, err := tx.ListTypes(ctx)
	if err != nil {
		return err
	}
	for _, t := range types {
		if t.ID == selfID {
			continue
		}
		if t.Code == code {
			return fmt.Errorf("code %q taken by type %d: %w", code, t.ID, tree.ErrDuplicateType)
		}
		if strings.EqualFold(t.Name, name) {
			return fmt.Errorf("name %q taken by type %d: %w", name, t.ID, tree.ErrDuplicateType)
		}
	}
	return nil
}

// UpdateType changes a node type. Turning off AllowsChildren is refused
// while any node of the type still has live children.
func (e *Engine) UpdateType(ctx context.Context, actor string, id int64, in TypeUpdate) (*tree.NodeType, error) {
	var out *tree.NodeType
	err := e.write(ctx, actor, nil, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		nt, err := tx.GetType(ctx, id)
		if err != nil {
			return err
		}
		if nt == nil {
			return tree.ErrNotFound
		}
		if in.Version != 0 && in.Version != nt.Version {
			return fmt.Errorf("version %d, expected %d: %w", nt.Version, in.Version, tree.ErrConflict)
		}
		expected := nt.Version

		if in.Name != nil {
			if nt.Name, err = validateName(*in.Name); err != nil {
				return err
			}
			if err := uniqueType(ctx, tx, id, nt.Code, nt.Name); err != nil {
				return err
			}
		}
		if in.Description != nil {
			nt.Description = *in.Description
		}
		if in.IsActive != nil {
			nt.IsActive = *in.IsActive
		}
		if in.IsVisible != nil {
			nt.IsVisible = *in.IsVisible
		}
		if in.AllowsChildren != nil {
			if nt.AllowsChildren && !*in.AllowsChildren {
				nodes, err := tx.ByType(ctx, id)
				if err != nil {
					return err
				}
				for _, n := range nodes {
					has, err := tx.HasChildren(ctx, n.ID)
					if err != nil {
						return err
					}
					if has {
						return fmt.Errorf("node %d of this type has children: %w", n.ID, tree.ErrTypeInUse)
					}
				}
			}
			nt.AllowsChildren = *in.AllowsChildren
		}

		nt.UpdatedAt = at
		nt.UpdatedBy = actor
		if err := tx.UpdateType(ctx, nt, expected); err != nil {
			return err
		}
		out = nt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update node type %d: %w", id, err)
	}
	return out, nil
}

// DeleteType removes a user-defined type that no live node references.
func (e *Engine) DeleteType(ctx context.Context, actor string, id int64) error {
	err := e.write(ctx, actor, nil, func(ctx context.Context, tx tree.Tx, _ time.Time) error {
		nt, err := tx.GetType(ctx, id)
		if err != nil {
			return err
		}
		if nt == nil {
			return tree.ErrNotFound
		}
		if nt.IsSystem {
			return fmt.Errorf("type %q is system-defined: %w", nt.Code, tree.ErrValidation)
		}
		inUse, err := tx.TypeInUse(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return tree.ErrTypeInUse
		}
		return tx.DeleteType(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete node type %d: %w", id, err)
	}
	return nil
}

// GetType returns a type or ErrNotFound.
func (e *Engine) GetType(ctx context.Context, id int64) (*tree.NodeType, error) {
	nt, err := e.store.GetType(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get node type %d: %w", id, err)
	}
	if nt == nil {
		return nil, fmt.Errorf("get node type %d: %w", id, tree.ErrNotFound)
	}
	return nt, nil
}

// GetTypeByCode returns a type or ErrNotFound.
func (e *Engine) GetTypeByCode(ctx context.Context, code string) (*tree.NodeType, error) {
	nt, err := e.store.GetTypeByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get node type %q: %w", code, err)
	}
	if nt == nil {
		return nil, fmt.Errorf("get node type %q: %w", code, tree.ErrNotFound)
	}
	return nt, nil
}

func (e *Engine) ListTypes(ctx context.Context) ([]*tree.NodeType, error) {
	return e.store.ListTypes(ctx)
}

// EnsureSystemTypes seeds the built-in container type if it is missing.
func (e *Engine) EnsureSystemTypes(ctx context.Context, actor string) (*tree.NodeType, error) {
	nt, err := e.store.GetTypeByCode(ctx, DefaultTypeCode)
	if err != nil {
		return nil, fmt.Errorf("seed node types: %w", err)
	}
	if nt != nil {
		return nt, nil
	}
	return e.CreateType(ctx, actor, TypeInput{
		Code:           DefaultTypeCode,
		Name:           "Category",
		Description:    "Container for questions and subcategories",
		AllowsChildren: true,
		System:         true,
	})
}
