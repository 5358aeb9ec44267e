// Package keyword provides the lexical leg of hybrid search: an in-memory
// Bleve index over document content. It holds no durable state; the vector
// index rebuilds it from the persisted documents on load.
package keyword

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// Result is a single lexical hit. Scores are raw BM25 values; callers
// normalize them before fusing with semantic scores.
type Result struct {
	ID    string
	Score float64
}

// Index is an in-memory Bleve index keyed by document ID.
type Index struct {
	idx bleve.Index
}

type indexedDoc struct {
	Content string `json:"content"`
}

// NewIndex creates an empty in-memory lexical index.
// The standard analyzer (lowercase + tokenize, no stemming) is used so query
// terms match exact words.
func NewIndex() (*Index, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", contentField)
	im.DefaultMapping = docMapping

	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Add indexes content under id, replacing any previous entry for id.
func (k *Index) Add(id, content string) error {
	return k.idx.Index(id, indexedDoc{Content: content})
}

// Delete removes the entry for id. Deleting an absent id is not an error.
func (k *Index) Delete(id string) error {
	return k.idx.Delete(id)
}

// Search runs a match query over content and returns up to limit hits.
func (k *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	res, err := k.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	out := make([]Result, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// DocCount returns the number of indexed documents.
func (k *Index) DocCount() (uint64, error) {
	return k.idx.DocCount()
}

// Close releases the index.
func (k *Index) Close() error {
	return k.idx.Close()
}
