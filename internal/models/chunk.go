package models

import "time"

// Chunk is a contiguous, line-bounded slice of a document with an estimated
// token count and positional metadata. Immutable once produced by the chunker.
// StartLine and EndLine are 1-based and inclusive; consecutive chunks of one
// document are contiguous or overlapping, never disjoint.
type Chunk struct {
	Text        string    `json:"text"`
	Tokens      int       `json:"tokens"`
	FilePath    string    `json:"file_path"`
	StartLine   int       `json:"start_line"`
	EndLine     int       `json:"end_line"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Timestamp   time.Time `json:"timestamp"`
}

// RetrievedChunk is a chunk returned by search with its relevance score in [0,1].
type RetrievedChunk struct {
	Chunk
	Score float64 `json:"score"`
}
