package extract

import (
	language "github.com/hanpama/monoquery/internal/language"
)

// Project returns the part of obj selected by set: one entry per response key
// present in obj, with nested objects and lists narrowed to the field's own
// selection set. Inline fragments and spreads contribute their selections;
// spreads are resolved through fragments. Keys missing from obj are omitted.
//
// Without a schema, type conditions cannot be checked, so every inline fragment
// and spread applies.
func Project(obj map[string]any, set language.SelectionSet, fragments language.FragmentDefinitionList) map[string]any {
	out := make(map[string]any)
	p := projector{fragments: fragments, visiting: map[string]bool{}}
	p.collect(out, obj, set)
	return out
}

type projector struct {
	fragments language.FragmentDefinitionList
	visiting  map[string]bool
}

func (p *projector) collect(out, obj map[string]any, set language.SelectionSet) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			v, ok := obj[key]
			if !ok {
				continue
			}
			if len(s.SelectionSet) == 0 {
				out[key] = v
				continue
			}
			out[key] = p.value(out[key], v, s.SelectionSet)
		case *language.InlineFragment:
			p.collect(out, obj, s.SelectionSet)
		case *language.FragmentSpread:
			def := p.fragments.ForName(s.Name)
			if def == nil || p.visiting[s.Name] {
				continue
			}
			p.visiting[s.Name] = true
			p.collect(out, obj, def.SelectionSet)
			p.visiting[s.Name] = false
		}
	}
}

// value narrows v to set. prev is what an earlier selection of the same
// response key already produced; object selections for one key are merged.
func (p *projector) value(prev, v any, set language.SelectionSet) any {
	switch tv := v.(type) {
	case map[string]any:
		dst, ok := prev.(map[string]any)
		if !ok {
			dst = make(map[string]any)
		}
		p.collect(dst, tv, set)
		return dst
	case []any:
		prevList, _ := prev.([]any)
		items := make([]any, len(tv))
		for i, item := range tv {
			var prevItem any
			if i < len(prevList) {
				prevItem = prevList[i]
			}
			items[i] = p.value(prevItem, item, set)
		}
		return items
	default:
		return v
	}
}
