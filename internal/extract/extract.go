// Package extract walks a result tree along a located field path and narrows
// the object found there to one fragment's selections.
//
// Result trees use the shapes encoding/json produces for `any`: map[string]any
// for objects, []any for lists, scalars and nil.
//
// Lists are detected from the tree itself. Every time a step lands on a list,
// the next entry of the caller's index list picks the element. The index list
// describes one concrete position for the whole query, so a Batch keeps a single
// cursor across all fragments extracted in one pass.
package extract

import (
	"fmt"

	locate "github.com/hanpama/monoquery/internal/locate"
)

// IndexExhaustedError reports a list step reached after every supplied index
// was consumed.
type IndexExhaustedError struct {
	// Path is the field path being followed when the indices ran out.
	Path locate.FieldPath
	// Supplied is the length of the index list.
	Supplied int
}

func (e *IndexExhaustedError) Error() string {
	return fmt.Sprintf("Array path provided was not long enough: %d index(es) supplied, another list reached at %q", e.Supplied, e.Path.String())
}

// Batch holds the index cursor of one extraction pass. It is not safe for
// concurrent use; each pass creates its own.
type Batch struct {
	indices []int
	cursor  int
}

// NewBatch returns a Batch whose cursor starts at the first of indices.
func NewBatch(indices []int) *Batch {
	return &Batch{indices: indices}
}

// Consumed reports how many indices have been used so far.
func (b *Batch) Consumed() int { return b.cursor }

func (b *Batch) next(path locate.FieldPath) (int, error) {
	if b.cursor >= len(b.indices) {
		return 0, &IndexExhaustedError{Path: path, Supplied: len(b.indices)}
	}
	i := b.indices[b.cursor]
	b.cursor++
	return i, nil
}

// Extract follows path from tree and returns the object found at its end.
// A nil, missing or non-object node anywhere along the way yields an empty
// object. An explicit StepList, or landing on a list after a field step,
// consumes an index; running out of indices is an *IndexExhaustedError.
func (b *Batch) Extract(tree any, path locate.FieldPath) (map[string]any, error) {
	node := tree
	for i, step := range path {
		switch step.Kind {
		case locate.StepField:
			obj, ok := node.(map[string]any)
			if !ok {
				return map[string]any{}, nil
			}
			node, ok = obj[step.Name]
			if !ok || node == nil {
				return map[string]any{}, nil
			}
			if explicitListNext(path, i) {
				continue
			}
			var err error
			if node, err = b.descendLists(node, path); err != nil {
				return nil, err
			}
		case locate.StepList:
			list, ok := node.([]any)
			if !ok {
				return map[string]any{}, nil
			}
			idx, err := b.next(path)
			if err != nil {
				return nil, err
			}
			if node = element(list, idx); node == nil {
				return map[string]any{}, nil
			}
		}
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return obj, nil
}

// descendLists consumes one index per list level until node is no longer a list.
// A missing element ends the descent with nil.
func (b *Batch) descendLists(node any, path locate.FieldPath) (any, error) {
	for {
		list, ok := node.([]any)
		if !ok {
			return node, nil
		}
		idx, err := b.next(path)
		if err != nil {
			return nil, err
		}
		node = element(list, idx)
		if node == nil {
			return nil, nil
		}
	}
}

func explicitListNext(path locate.FieldPath, i int) bool {
	return i+1 < len(path) && path[i+1].Kind == locate.StepList
}

func element(list []any, idx int) any {
	if idx < 0 || idx >= len(list) {
		return nil
	}
	return list[idx]
}
