package monoquery

import (
	"context"

	docmerge "github.com/hanpama/monoquery/internal/docmerge"
	eventbus "github.com/hanpama/monoquery/internal/eventbus"
	events "github.com/hanpama/monoquery/internal/events"
	extract "github.com/hanpama/monoquery/internal/extract"
	invoke "github.com/hanpama/monoquery/internal/invoke"
	language "github.com/hanpama/monoquery/internal/language"
	locate "github.com/hanpama/monoquery/internal/locate"
	"go.uber.org/zap"
)

// Result is the settled response of one combined query. It is read-only and
// safe for concurrent use.
type Result struct {
	ctx      context.Context
	response *invoke.Response
	root     *language.OperationDefinition
	defs     language.FragmentDefinitionList
	merged   *Document
	indices  []int
	log      *zap.Logger
}

// Data returns the whole result tree.
func (r *Result) Data() any { return r.response.Data }

// Errors returns the GraphQL errors reported alongside the data.
func (r *Result) Errors() language.ErrorList { return r.response.Errors }

// Document returns the merged document that was fetched.
func (r *Result) Document() *Document { return r.merged }

// GetResultsFor returns, for every fragment, the part of the result its spread
// in the request's query points at, narrowed to the fragment's own fields.
// Results are keyed by Fragment.Key. A fragment not spread in the query, or
// whose data is null, maps to an empty object.
//
// Fragments are processed in order and share one cursor over the request's
// indices. If the indices run out, GetResultsFor returns an
// *IndexExhaustedError and no results.
func (r *Result) GetResultsFor(fragments FragmentMap) (map[string]map[string]any, error) {
	batch := extract.NewBatch(r.indices)
	out := make(map[string]map[string]any, len(fragments))
	found := 0

	for _, f := range fragments {
		if _, dup := out[f.Key]; dup {
			return nil, r.splitFailed(len(fragments), found, batch, &MergeError{Key: f.Key, Reason: "duplicate key"})
		}
		declared, err := docmerge.Declared(docmerge.Entry{Key: f.Key, Document: f.Document})
		if err != nil {
			return nil, r.splitFailed(len(fragments), found, batch, err)
		}
		path, ok := locate.Locate(r.root.SelectionSet, r.defs, declared.Name)
		if !ok {
			r.log.Debug("fragment not spread in query", zap.String("key", f.Key), zap.String("fragment", declared.Name))
			out[f.Key] = map[string]any{}
			continue
		}
		found++
		node, err := batch.Extract(r.response.Data, path)
		if err != nil {
			return nil, r.splitFailed(len(fragments), found, batch, err)
		}
		defs := make(language.FragmentDefinitionList, 0, len(f.Document.Fragments)+len(r.defs))
		defs = append(defs, f.Document.Fragments...)
		defs = append(defs, r.defs...)
		out[f.Key] = extract.Project(node, declared.SelectionSet, defs)
	}

	eventbus.Publish(r.ctx, events.SplitFinish{
		Fragments:       len(fragments),
		Found:           found,
		IndicesConsumed: batch.Consumed(),
	})
	return out, nil
}

func (r *Result) splitFailed(fragments, found int, batch *extract.Batch, err error) error {
	r.log.Debug("split failed", zap.Error(err))
	eventbus.Publish(r.ctx, events.SplitFinish{
		Fragments:       fragments,
		Found:           found,
		IndicesConsumed: batch.Consumed(),
		Err:             err,
	})
	return err
}
