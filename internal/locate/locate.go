// Package locate finds where a named fragment is spread inside an operation.
package locate

import (
	"strings"

	language "github.com/hanpama/monoquery/internal/language"
)

type StepKind int

const (
	// StepField descends into the named member of an object.
	StepField StepKind = iota
	// StepList descends into one element of a list. The element index is not
	// known from the query and is supplied at extraction time.
	StepList
)

// Step is one element of a FieldPath.
type Step struct {
	Kind StepKind
	// Name is the response key for StepField, empty for StepList.
	Name string
}

// Field returns a StepField for the response key name.
func Field(name string) Step { return Step{Kind: StepField, Name: name} }

// List returns a StepList.
func List() Step { return Step{Kind: StepList} }

func (s Step) String() string {
	if s.Kind == StepList {
		return "[]"
	}
	return s.Name
}

// FieldPath leads from the operation root to the object a fragment applies to.
// An empty path means the fragment is spread at the root.
type FieldPath []Step

func (p FieldPath) String() string {
	var b strings.Builder
	for i, s := range p {
		if i > 0 && s.Kind == StepField {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// Locate searches set depth-first for a spread of fragment name and returns the
// path of response keys leading to it. Fields are entered through their
// response key (the alias when one is given). Inline fragments are entered
// without adding a step. Spreads of other fragments are followed through
// fragments when their definition is found there; fragments may be nil.
//
// Locate emits only StepField steps. Whether a step lands on a list is decided
// from the result tree during extraction.
func Locate(set language.SelectionSet, fragments language.FragmentDefinitionList, name string) (FieldPath, bool) {
	l := locator{target: name, fragments: fragments, visiting: map[string]bool{}}
	return l.search(set, FieldPath{})
}

type locator struct {
	target    string
	fragments language.FragmentDefinitionList
	visiting  map[string]bool
}

func (l *locator) search(set language.SelectionSet, path FieldPath) (FieldPath, bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.FragmentSpread:
			if s.Name == l.target {
				return path, true
			}
			def := l.fragments.ForName(s.Name)
			if def == nil || l.visiting[s.Name] {
				continue
			}
			l.visiting[s.Name] = true
			found, ok := l.search(def.SelectionSet, path)
			l.visiting[s.Name] = false
			if ok {
				return found, true
			}
		case *language.InlineFragment:
			if found, ok := l.search(s.SelectionSet, path); ok {
				return found, true
			}
		case *language.Field:
			if len(s.SelectionSet) == 0 {
				continue
			}
			if found, ok := l.search(s.SelectionSet, appendStep(path, Field(responseKey(s)))); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func responseKey(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func appendStep(path FieldPath, s Step) FieldPath {
	next := make(FieldPath, len(path)+1)
	copy(next, path)
	next[len(path)] = s
	return next
}
