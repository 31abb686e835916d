package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/agentic-research/arbor/api"
	"github.com/agentic-research/arbor/internal/tree"
)

// Export renders GetTree as a Document. Children are assembled bottom-up so
// arbitrarily deep trees never recurse.
func (e *Engine) Export(ctx context.Context, rootID *int64, maxDepth int) (*api.Document, error) {
	f, err := e.GetTree(ctx, rootID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	types, err := e.store.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	typeCode := make(map[int64]string, len(types))
	for _, t := range types {
		typeCode[t.ID] = t.Code
	}

	built := make(map[int64]api.Node, f.Len())
	for _, id := range f.BottomUp() {
		n := f.Nodes[id]
		doc := api.Node{
			Code:         n.Code,
			Name:         n.Name,
			Description:  n.Description,
			Type:         typeCode[n.TypeID],
			ContentCount: n.ContentCount,
		}
		for _, c := range f.Children[id] {
			doc.Children = append(doc.Children, built[c])
			delete(built, c)
		}
		built[id] = doc
	}

	out := &api.Document{Version: api.SchemaVersion}
	for _, id := range f.Roots {
		out.Nodes = append(out.Nodes, built[id])
	}
	return out, nil
}

// ImportReport counts what Import did.
type ImportReport struct {
	Created int `json:"created"`
	Reused  int `json:"reused"`
}

// Import creates the document's nodes under parentID (nil for the root
// scope) in one transaction. A node matching an existing live sibling by
// code, or by name when it has no code, is reused instead of created, so
// importing the same document twice changes nothing. Nodes without a type
// take defaultType.
func (e *Engine) Import(ctx context.Context, actor string, parentID *int64, nodes []api.Node, defaultType string) (*ImportReport, error) {
	var report ImportReport
	err := e.write(ctx, actor, []int64{scopeKey(parentID)}, func(ctx context.Context, tx tree.Tx, at time.Time) error {
		report = ImportReport{}
		types := make(map[string]*tree.NodeType)
		resolve := func(code string) (int64, error) {
			if code == "" {
				code = defaultType
			}
			if t, ok := types[code]; ok {
				return t.ID, nil
			}
			t, err := tx.GetTypeByCode(ctx, code)
			if err != nil {
				return 0, err
			}
			if t == nil {
				return 0, fmt.Errorf("node type %q: %w", code, tree.ErrNotFound)
			}
			types[code] = t
			return t.ID, nil
		}

		if parentID != nil {
			p, err := tx.GetByID(ctx, *parentID)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("parent %d: %w", *parentID, tree.ErrNotFound)
			}
		}

		type frame struct {
			parent *int64
			node   *api.Node
		}
		stack := make([]frame, 0, len(nodes))
		for i := len(nodes) - 1; i >= 0; i-- {
			stack = append(stack, frame{parentID, &nodes[i]})
		}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			n, err := matchSibling(ctx, tx, top.parent, top.node)
			if err != nil {
				return err
			}
			if n != nil {
				report.Reused++
			} else {
				typeID, err := resolve(top.node.Type)
				if err != nil {
					return fmt.Errorf("import %q: %w", top.node.Name, err)
				}
				n, err = createTx(ctx, tx, actor, at, CreateInput{
					ParentID:    top.parent,
					Code:        top.node.Code,
					Name:        top.node.Name,
					Description: top.node.Description,
					TypeID:      typeID,
				})
				if err != nil {
					return fmt.Errorf("import %q: %w", top.node.Name, err)
				}
				report.Created++
			}

			for i := len(top.node.Children) - 1; i >= 0; i-- {
				stack = append(stack, frame{tree.Int64(n.ID), &top.node.Children[i]})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	return &report, nil
}

// matchSibling finds the live sibling an imported node corresponds to.
func matchSibling(ctx context.Context, tx tree.Reader, parentID *int64, in *api.Node) (*tree.Node, error) {
	if in.Code != "" {
		return tx.GetByCode(ctx, parentID, in.Code)
	}
	sibs, err := siblings(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}
	for _, s := range sibs {
		if tree.SameName(s.Name, in.Name) {
			return s, nil
		}
	}
	return nil, nil
}
