package search

// Filters represents filters for chunk search, scoped to a single corpus
// (cross-corpus joins are out of scope — every query runs against exactly
// one corpus_id).
type Filters struct {
	corpusID      string
	language      string
	filePath      string
	entityKinds   []string
	includeGraph  bool
	communityOnly bool
}

// FiltersOption is a functional option for Filters.
type FiltersOption func(*Filters)

// WithCorpusIDFilter scopes the search to a single corpus.
func WithCorpusIDFilter(corpusID string) FiltersOption {
	return func(f *Filters) {
		f.corpusID = corpusID
	}
}

// WithLanguage sets the language filter.
func WithLanguage(language string) FiltersOption {
	return func(f *Filters) {
		f.language = language
	}
}

// WithFilePath sets the file path filter.
func WithFilePath(path string) FiltersOption {
	return func(f *Filters) {
		f.filePath = path
	}
}

// WithEntityKinds restricts a graph search seed set to the given entity
// kinds (e.g. "function", "type").
func WithEntityKinds(kinds []string) FiltersOption {
	return func(f *Filters) {
		if kinds != nil {
			f.entityKinds = make([]string, len(kinds))
			copy(f.entityKinds, kinds)
		}
	}
}

// WithIncludeCommunities turns on community-summary virtual matches for a
// graph search, tagged so downstream fusion can treat them as non-code
// context rather than a chunk.
func WithIncludeCommunities(include bool) FiltersOption {
	return func(f *Filters) {
		f.includeGraph = include
	}
}

// WithCommunityOnly restricts graph search results to community summaries.
func WithCommunityOnly(only bool) FiltersOption {
	return func(f *Filters) {
		f.communityOnly = only
	}
}

// NewFilters creates a new Filters with options.
func NewFilters(opts ...FiltersOption) Filters {
	f := Filters{}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// CorpusID returns the corpus scope filter.
func (f Filters) CorpusID() string { return f.corpusID }

// Language returns the language filter.
func (f Filters) Language() string { return f.language }

// FilePath returns the file path filter.
func (f Filters) FilePath() string { return f.filePath }

// EntityKinds returns the entity kind filter.
func (f Filters) EntityKinds() []string {
	if f.entityKinds == nil {
		return nil
	}
	result := make([]string, len(f.entityKinds))
	copy(result, f.entityKinds)
	return result
}

// IncludeCommunities reports whether community summaries should be
// included as virtual matches.
func (f Filters) IncludeCommunities() bool { return f.includeGraph }

// CommunityOnly reports whether results should be restricted to
// community summaries.
func (f Filters) CommunityOnly() bool { return f.communityOnly }

// IsEmpty returns true if no filters are set.
func (f Filters) IsEmpty() bool {
	return f.corpusID == "" &&
		f.language == "" &&
		f.filePath == "" &&
		len(f.entityKinds) == 0 &&
		!f.includeGraph &&
		!f.communityOnly
}
