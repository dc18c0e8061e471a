// Package graph provides the Entity/Relationship/Community types that back
// the graph retriever and the graph builder, grounded on the call-graph
// extraction already present in the AST slicing package.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
)

// Kind enumerates structural and semantic entity kinds.
type Kind string

const (
	KindFunction Kind = "function"
	KindClass    Kind = "class"
	KindModule   Kind = "module"
	KindVariable Kind = "variable"
	KindConcept  Kind = "concept" // free-form, semantic-extraction only
)

// Entity is a named code element extracted from chunks.
type Entity struct {
	id          string
	corpusID    string
	name        string
	kind        Kind
	filePath    string
	description string
	embedding   []float64
	properties  map[string]any
}

// NewEntity creates an Entity, deriving its stable entity_id.
func NewEntity(corpusID, qualifiedName string, kind Kind, filePath, description string, properties map[string]any) Entity {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	return Entity{
		id:          EntityID(corpusID, qualifiedName, kind),
		corpusID:    corpusID,
		name:        qualifiedName,
		kind:        kind,
		filePath:    filePath,
		description: description,
		properties:  props,
	}
}

// EntityID derives the stable hash of corpus_id ∥ qualified_name ∥ kind.
func EntityID(corpusID, qualifiedName string, kind Kind) string {
	h := sha256.New()
	h.Write([]byte(corpusID))
	h.Write([]byte{0})
	h.Write([]byte(qualifiedName))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	return hex.EncodeToString(h.Sum(nil))
}

func (e Entity) ID() string       { return e.id }
func (e Entity) CorpusID() string { return e.corpusID }
func (e Entity) Name() string     { return e.name }
func (e Entity) Kind() Kind       { return e.kind }
func (e Entity) FilePath() string { return e.filePath }

// Description returns the entity's description, if any ("" means unset,
// distinguished from a nullable field at the store layer).
func (e Entity) Description() string { return e.description }

func (e Entity) Properties() map[string]any {
	out := make(map[string]any, len(e.properties))
	for k, v := range e.properties {
		out[k] = v
	}
	return out
}

// WithDescription returns a copy carrying a semantic-extraction description.
func (e Entity) WithDescription(description string) Entity {
	e.description = description
	return e
}

// Embedding returns a defensive copy of the entity's description
// embedding, or nil when the entity has not been embedded.
func (e Entity) Embedding() []float64 {
	if e.embedding == nil {
		return nil
	}
	out := make([]float64, len(e.embedding))
	copy(out, e.embedding)
	return out
}

// HasEmbedding reports whether the entity carries an embedding.
func (e Entity) HasEmbedding() bool { return e.embedding != nil }

// WithEmbedding returns a copy carrying a description embedding, used by
// the graph retriever's embedding-matched seed resolution.
func (e Entity) WithEmbedding(embedding []float64) Entity {
	emb := make([]float64, len(embedding))
	copy(emb, embedding)
	e.embedding = emb
	return e
}
