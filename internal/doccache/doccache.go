// Package doccache keeps recently parsed GraphQL documents so repeated
// sources skip the parser. Cached documents are shared and must not be
// mutated.
package doccache

import (
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	language "github.com/hanpama/monoquery/internal/language"
)

// DefaultSize is the number of documents kept when New is given size <= 0.
const DefaultSize = 1024

type entry struct {
	source string
	doc    *language.QueryDocument
}

// Cache is an LRU of parsed documents keyed by a hash of their source.
// It is safe for concurrent use.
type Cache struct {
	lru *lru.Cache[uint64, entry]
}

func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[uint64, entry](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Cache{lru: c}
}

// Parse returns the cached document for source, parsing it on a miss.
// Parse errors are not cached.
func (c *Cache) Parse(source string) (*language.QueryDocument, error) {
	key := xxhash.Sum64String(source)
	if e, ok := c.lru.Get(key); ok && e.source == source {
		return e.doc, nil
	}
	doc, err := language.ParseQuery(source)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, entry{source: source, doc: doc})
	return doc, nil
}

// Len reports the number of cached documents.
func (c *Cache) Len() int { return c.lru.Len() }
