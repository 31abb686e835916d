// Package ingest turns JSON into subtree documents for import and renders
// documents back to JSON.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/agentic-research/arbor/api"
	"github.com/ohler55/ojg/oj"
)

// ErrInvalidDocument indicates JSON that does not describe category nodes.
var ErrInvalidDocument = errors.New("invalid document")

// Decode parses data and returns the nodes found at selector. A selected
// value may be a whole Document ({"version", "nodes"}), an array of nodes,
// or a single node object.
func Decode(data []byte, selector string) ([]api.Node, error) {
	root, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	matches, err := NewJsonWalker().Query(root, selector)
	if err != nil {
		return nil, err
	}

	var out []api.Node
	for _, m := range matches {
		nodes, err := fromValue(m)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

// DecodeFile reads path and decodes it. "-" reads standard input.
func DecodeFile(path, selector string) ([]api.Node, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(data, selector)
}

// Encode renders doc as indented JSON.
func Encode(doc *api.Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(b, '\n'), nil
}

func fromValue(v any) ([]api.Node, error) {
	switch t := v.(type) {
	case []any:
		return fromArray(t, "$")
	case map[string]any:
		if nodes, ok := t["nodes"]; ok {
			if _, named := t["name"]; !named {
				arr, ok := nodes.([]any)
				if !ok {
					return nil, fmt.Errorf("$.nodes is not an array: %w", ErrInvalidDocument)
				}
				return fromArray(arr, "$.nodes")
			}
		}
		n, err := toNode(t, "$")
		if err != nil {
			return nil, err
		}
		return []api.Node{n}, nil
	default:
		return nil, fmt.Errorf("selected %T, want object or array: %w", v, ErrInvalidDocument)
	}
}

func fromArray(arr []any, at string) ([]api.Node, error) {
	out := make([]api.Node, 0, len(arr))
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not an object: %w", at, i, ErrInvalidDocument)
		}
		n, err := toNode(obj, fmt.Sprintf("%s[%d]", at, i))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// toNode converts one object and everything below it. Nesting is walked
// with an explicit stack so document depth never grows the call stack.
func toNode(obj map[string]any, at string) (api.Node, error) {
	type frame struct {
		src map[string]any
		dst *api.Node
		at  string
	}
	var root api.Node
	stack := []frame{{obj, &root, at}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		name, err := str(f.src, "name", f.at, true)
		if err != nil {
			return api.Node{}, err
		}
		f.dst.Name = name
		if f.dst.Code, err = str(f.src, "code", f.at, false); err != nil {
			return api.Node{}, err
		}
		if f.dst.Description, err = str(f.src, "description", f.at, false); err != nil {
			return api.Node{}, err
		}
		if f.dst.Type, err = str(f.src, "type", f.at, false); err != nil {
			return api.Node{}, err
		}

		raw, ok := f.src["children"]
		if !ok || raw == nil {
			continue
		}
		kids, ok := raw.([]any)
		if !ok {
			return api.Node{}, fmt.Errorf("%s.children is not an array: %w", f.at, ErrInvalidDocument)
		}
		f.dst.Children = make([]api.Node, len(kids))
		for i, k := range kids {
			child, ok := k.(map[string]any)
			if !ok {
				return api.Node{}, fmt.Errorf("%s.children[%d] is not an object: %w", f.at, i, ErrInvalidDocument)
			}
			stack = append(stack, frame{child, &f.dst.Children[i], fmt.Sprintf("%s.children[%d]", f.at, i)})
		}
	}
	return root, nil
}

func str(obj map[string]any, key, at string, required bool) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%s.%s is missing: %w", at, key, ErrInvalidDocument)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s.%s is %T, want string: %w", at, key, v, ErrInvalidDocument)
	}
	return s, nil
}
