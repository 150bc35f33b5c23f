// Package monoquery lets several independent fragments share one GraphQL
// round-trip.
//
// A caller holds fragment documents that each describe what one component
// needs, and a root query that spreads them where the data lives. Client.Query
// merges the fragments into the root operation, fetches the combined operation
// once, and returns a Result. Result.GetResultsFor then hands every fragment
// back the part of the response it asked for, keyed the way the caller keyed
// the fragments:
//
//	client, _ := monoquery.New(monoquery.WithFetcher(fetcher))
//	res, err := client.Query(ctx, monoquery.Request{Query: query, Fragments: fragments})
//	if err != nil {
//		return err
//	}
//	parts, err := res.GetResultsFor(fragments)
//
// # Lists
//
// A fragment spread below a list-valued field applies to one element of that
// list. The indices passed to Query pick the element, left to right, each time
// extraction steps onto a list. The same index list serves every fragment of
// one GetResultsFor call: it describes the single position in the data the
// caller is rendering. Running out of indices fails the whole call with an
// *IndexExhaustedError.
//
// # Missing data
//
// A fragment that is not spread in the query, or whose location resolves to
// null, yields an empty object rather than an error.
package monoquery
