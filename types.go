package monoquery

import (
	"fmt"

	docmerge "github.com/hanpama/monoquery/internal/docmerge"
	extract "github.com/hanpama/monoquery/internal/extract"
	invoke "github.com/hanpama/monoquery/internal/invoke"
	language "github.com/hanpama/monoquery/internal/language"
)

type (
	// Document is a parsed GraphQL executable document.
	Document = language.QueryDocument

	Fetcher       = invoke.Fetcher
	FetchRequest  = invoke.Request
	FetchResponse = invoke.Response

	MergeError          = docmerge.MergeError
	IndexExhaustedError = extract.IndexExhaustedError
)

// ErrNoData is what fetchers report for a response without a data member.
// A Fetcher must return it rather than a FetchResponse with nil Data, which is
// read as a null result.
var ErrNoData = invoke.ErrNoData

// Parse parses GraphQL source text into a Document.
func Parse(source string) (*Document, error) {
	return language.ParseQuery(source)
}

// MustParse is Parse for sources known to be valid; it panics otherwise.
func MustParse(source string) *Document {
	doc, err := language.ParseQuery(source)
	if err != nil {
		panic(err)
	}
	return doc
}

// Print renders doc back to GraphQL source text.
func Print(doc *Document) string {
	return language.PrintQuery(doc)
}

// Fragment is a fragment document under a caller-chosen key. The key is how
// results are reported back; it is unrelated to the fragment's declared name.
type Fragment struct {
	Key      string
	Document *Document
}

// FragmentMap is an ordered set of keyed fragments. Order matters: spreads are
// appended and list indices consumed in this order.
type FragmentMap []Fragment

// Fragments builds a FragmentMap from alternating keys and documents.
func Fragments(pairs ...any) FragmentMap {
	if len(pairs)%2 != 0 {
		panic("monoquery: Fragments needs key/document pairs")
	}
	out := make(FragmentMap, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("monoquery: Fragments needs key/document pairs, got %T as key %d", pairs[i], i/2))
		}
		doc, ok := pairs[i+1].(*Document)
		if !ok {
			panic(fmt.Sprintf("monoquery: Fragments needs key/document pairs, got %T as document for %q", pairs[i+1], key))
		}
		out = append(out, Fragment{Key: key, Document: doc})
	}
	return out
}

func (m FragmentMap) entries() []docmerge.Entry {
	out := make([]docmerge.Entry, len(m))
	for i, f := range m {
		out[i] = docmerge.Entry{Key: f.Key, Document: f.Document}
	}
	return out
}

// Merge returns the document Client.Query would fetch for query, operation
// and fragments: the selected operation with one top-level spread per fragment
// and every definition the spreads need. Inputs are not modified.
func Merge(query *Document, operationName string, fragments FragmentMap) (*Document, error) {
	return docmerge.MergeOperation(query, operationName, fragments.entries())
}
