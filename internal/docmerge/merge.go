// Package docmerge combines a root operation with separately parsed fragment
// documents into one executable document.
//
// Merging never edits its inputs. Parsed documents are commonly shared between
// callers (fragment text is declared once and reused by many queries), so the
// merged document gets its own operation value, selection-set slice and
// fragment list while still pointing at the original, unmodified selections.
package docmerge

import (
	"errors"
	"fmt"

	language "github.com/hanpama/monoquery/internal/language"
)

var (
	// ErrNoOperation is returned when the root document holds no operation.
	ErrNoOperation = errors.New("docmerge: root document has no operation")
	// ErrAmbiguousOperation is returned when the root document holds several
	// operations and none was selected by name.
	ErrAmbiguousOperation = errors.New("docmerge: root document has more than one operation")
)

// MergeError reports a fragment entry that cannot take part in a merge.
type MergeError struct {
	Key    string
	Reason string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("fragment %q: %s", e.Key, e.Reason)
}

// Entry is one caller-keyed fragment document.
type Entry struct {
	Key      string
	Document *language.QueryDocument
}

// Declared returns the fragment definition an entry contributes: the first
// definition of its document. Later definitions are dependencies carried along.
func Declared(e Entry) (*language.FragmentDefinition, error) {
	if e.Document == nil {
		return nil, &MergeError{Key: e.Key, Reason: "document is nil"}
	}
	if len(e.Document.Operations) > 0 {
		return nil, &MergeError{Key: e.Key, Reason: "document holds an operation, not a fragment definition"}
	}
	if len(e.Document.Fragments) == 0 {
		return nil, &MergeError{Key: e.Key, Reason: "document holds no fragment definition"}
	}
	return e.Document.Fragments[0], nil
}

// Operation picks the operation of root named operationName, or the only one
// when operationName is empty.
func Operation(root *language.QueryDocument, operationName string) (*language.OperationDefinition, error) {
	if root == nil || len(root.Operations) == 0 {
		return nil, ErrNoOperation
	}
	if operationName == "" {
		if len(root.Operations) > 1 {
			return nil, ErrAmbiguousOperation
		}
		return root.Operations[0], nil
	}
	op := root.Operations.ForName(operationName)
	if op == nil {
		return nil, fmt.Errorf("docmerge: operation %q not found", operationName)
	}
	return op, nil
}

// Merge combines the single operation of root with entries. See MergeOperation.
func Merge(root *language.QueryDocument, entries []Entry) (*language.QueryDocument, error) {
	return MergeOperation(root, "", entries)
}

// MergeOperation returns a new document holding the selected operation of root,
// extended with one top-level spread per entry, and the union of root's and the
// entries' fragment definitions. A definition already present by name is kept
// once. Other operations of root are dropped.
func MergeOperation(root *language.QueryDocument, operationName string, entries []Entry) (*language.QueryDocument, error) {
	op, err := Operation(root, operationName)
	if err != nil {
		return nil, err
	}

	seenKeys := make(map[string]struct{}, len(entries))
	spreads := make(language.SelectionSet, 0, len(entries))
	fragments := make(language.FragmentDefinitionList, 0, len(root.Fragments)+len(entries))
	defined := make(map[string]struct{}, cap(fragments))
	addDefinition := func(def *language.FragmentDefinition) {
		if _, ok := defined[def.Name]; ok {
			return
		}
		defined[def.Name] = struct{}{}
		fragments = append(fragments, def)
	}

	for _, def := range root.Fragments {
		addDefinition(def)
	}
	for _, e := range entries {
		if _, dup := seenKeys[e.Key]; dup {
			return nil, &MergeError{Key: e.Key, Reason: "duplicate key"}
		}
		seenKeys[e.Key] = struct{}{}

		declared, err := Declared(e)
		if err != nil {
			return nil, err
		}
		spreads = append(spreads, &language.FragmentSpread{Name: declared.Name})
		for _, def := range e.Document.Fragments {
			addDefinition(def)
		}
	}

	merged := *op
	merged.SelectionSet = make(language.SelectionSet, 0, len(op.SelectionSet)+len(spreads))
	merged.SelectionSet = append(merged.SelectionSet, op.SelectionSet...)
	merged.SelectionSet = append(merged.SelectionSet, spreads...)

	return &language.QueryDocument{
		Operations: language.OperationList{&merged},
		Fragments:  fragments,
		Position:   root.Position,
		Comment:    root.Comment,
	}, nil
}
