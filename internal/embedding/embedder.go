// Package embedding provides the text-to-vector capability consumed by the
// index: an Embedder interface, an ONNX runtime implementation (CGO builds),
// a session-scoped cache, and a deterministic mock for tests.
//
// All embedders return unit-length vectors so inner product equals cosine
// similarity. Within one session, identical text must yield the identical
// vector; the cache in front of the ONNX model guarantees this even if the
// model itself were not bit-stable.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
