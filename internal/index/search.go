package index

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/konkyo/internal/models"
)

// DefaultTopK is the number of results returned when none is requested.
const DefaultTopK = 10

// SearchOptions tune one search call.
type SearchOptions struct {
	TopK      int             // maximum results, default 10
	Threshold float64         // discard hybrid scores below this value
	Filter    models.Metadata // exact-match conjunction over document metadata
}

// SearchResult is one scored candidate.
type SearchResult struct {
	Document      *models.IndexedDocument
	Score         float64
	SemanticScore float64
	KeywordScore  float64
}

// Search embeds the query and scores every candidate with a hybrid of
// semantic cosine similarity and lexical term matching
// (score = semanticWeight*cosine + keywordWeight*lexical). Results are
// filtered, thresholded, sorted descending with insertion-order tie-breaks,
// and truncated to TopK. An empty result is a normal outcome, not an error.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	filter, err := opts.Filter.Normalize()
	if err != nil {
		return nil, fmt.Errorf("search filter: %w", err)
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.ready {
		return nil, ErrNotInitialized
	}
	if len(ix.order) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lexicalScores, err := ix.lexicalScores(ctx, query)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(ix.order))
	for _, id := range ix.order {
		doc := ix.docs[id]
		if len(filter) > 0 && !doc.Metadata.Matches(filter) {
			continue
		}
		semantic := cosineSimilarity(queryVec, doc.Embedding)
		lexical := lexicalScores[id]
		score := ix.semanticWeight*semantic + ix.keywordWeight*lexical
		if score < opts.Threshold {
			continue
		}
		results = append(results, SearchResult{
			Document:      doc,
			Score:         score,
			SemanticScore: semantic,
			KeywordScore:  lexical,
		})
	}

	sortScored(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// lexicalScores returns per-document lexical scores normalized to [0,1] by
// the maximum hit score. Documents without a keyword match score 0.
func (ix *Index) lexicalScores(ctx context.Context, query string) (map[string]float64, error) {
	hits, err := ix.lexical.Search(ctx, query, len(ix.order))
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return scores, nil
	}
	maxScore := hits[0].Score
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	for _, h := range hits {
		if maxScore > 0 {
			scores[h.ID] = h.Score / maxScore
		}
	}
	return scores, nil
}

// cosineSimilarity returns the similarity of two unit vectors clamped to [0,1].
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return math.Max(0, math.Min(1, dot))
}
