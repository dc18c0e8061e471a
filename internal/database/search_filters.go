package database

import (
	"github.com/tribridrag/tribridrag/domain/search"
	"gorm.io/gorm"
)

// ApplySearchFilters scopes an embedding or BM25 index query to the
// filtered slice of the chunks table. The index tables carry only
// chunk_id, so corpus/language/path filters resolve through a subquery
// against chunks rather than denormalized columns.
func ApplySearchFilters(db *gorm.DB, filters search.Filters) *gorm.DB {
	if filters.IsEmpty() {
		return db
	}

	sub := db.Session(&gorm.Session{NewDB: true}).Table("chunks").Select("chunk_id")
	if corpusID := filters.CorpusID(); corpusID != "" {
		sub = sub.Where("corpus_id = ?", corpusID)
	}
	if lang := filters.Language(); lang != "" {
		sub = sub.Where("language = ?", lang)
	}
	if path := filters.FilePath(); path != "" {
		sub = sub.Where("file_path = ?", path)
	}

	return db.Where("chunk_id IN (?)", sub)
}
