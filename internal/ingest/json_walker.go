package ingest

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// JsonWalker selects values out of decoded JSON with JSONPath.
type JsonWalker struct{}

func NewJsonWalker() *JsonWalker {
	return &JsonWalker{}
}

// Query returns every value under root matched by selector.
// An empty selector selects root itself.
func (w *JsonWalker) Query(root any, selector string) ([]any, error) {
	if selector == "" || selector == "$" {
		return []any{root}, nil
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	return x.Get(root), nil
}
