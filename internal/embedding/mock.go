package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/konkyo/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests: the vector is derived
// from a hash of the text, so identical text always embeds identically and
// distinct texts land in distinct directions.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder with the given dimensionality.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a unit-length vector seeded by the text hash.
func (e *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := hashString(text)
	vec := make([]float32, e.dimensions)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}
