package main

import (
	"context"

	"github.com/agentd-run/agentd/internal/memindex"
)

// memindexSearcher adapts *memindex.Index's synchronous, context-free Search
// to the builtin.Searcher interface the memory-search tool dispatches
// through. The index is local SQLite FTS, so ctx is accepted but unused.
type memindexSearcher struct {
	idx *memindex.Index
}

func (s memindexSearcher) Search(ctx context.Context, query string, limit int) ([]string, error) {
	results, err := s.idx.Search(query, limit)
	if err != nil {
		return nil, err
	}
	snippets := make([]string, len(results))
	for i, r := range results {
		snippets[i] = r.Snippet
	}
	return snippets, nil
}
