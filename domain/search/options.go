package search

import "github.com/tribridrag/tribridrag/domain/queryopt"

// WithEmbedding passes a pre-computed embedding vector through options.
func WithEmbedding(embedding []float64) queryopt.Option {
	return queryopt.WithParam("embedding", embedding)
}

// WithQuery passes a search query string through options.
func WithQuery(query string) queryopt.Option {
	return queryopt.WithParam("search_query", query)
}

// EmbeddingFrom extracts the embedding vector from a built query.
func EmbeddingFrom(q queryopt.Query) ([]float64, bool) {
	v, ok := q.Param("embedding")
	if !ok {
		return nil, false
	}
	emb, ok := v.([]float64)
	return emb, ok
}

// QueryFrom extracts the search query text from a built query.
func QueryFrom(q queryopt.Query) (string, bool) {
	v, ok := q.Param("search_query")
	if !ok {
		return "", false
	}
	text, ok := v.(string)
	return text, ok
}

// WithFilters passes search filters through the option system.
func WithFilters(filters Filters) queryopt.Option {
	return queryopt.WithParam("search_filters", filters)
}

// FiltersFrom extracts search filters from a built query.
func FiltersFrom(q queryopt.Query) (Filters, bool) {
	v, ok := q.Param("search_filters")
	if !ok {
		return Filters{}, false
	}
	f, ok := v.(Filters)
	return f, ok
}

// ChunkIDsFrom extracts chunk IDs from conditions on a built query.
func ChunkIDsFrom(q queryopt.Query) []string {
	for _, cond := range q.Conditions() {
		if cond.Field() == "chunk_id" && cond.In() {
			if ids, ok := cond.Value().([]string); ok {
				return ids
			}
		}
	}
	return nil
}
