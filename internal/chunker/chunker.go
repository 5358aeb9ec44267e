// Package chunker splits documents into line-bounded, overlapping,
// token-estimated chunks.
package chunker

import (
	"strings"
	"time"

	"github.com/hyperjump/konkyo/internal/models"
	"github.com/hyperjump/konkyo/internal/token"
)

// DefaultChunkSize is the token target per chunk when none is given.
const DefaultChunkSize = 500

// Options configures one chunking pass. Zero values take defaults; degenerate
// values (overlap >= chunk size) are clamped, never rejected.
type Options struct {
	FilePath    string
	ChunkSize   int               // target tokens per chunk, default 500
	Overlap     int               // tokens of line-based overlap between chunks
	ContentType token.ContentType // auto-detected when empty
}

// Result is the outcome of chunking one document.
type Result struct {
	Chunks           []models.Chunk `json:"chunks"`
	TotalChunks      int            `json:"total_chunks"`
	TotalTokens      int            `json:"total_tokens"`
	AverageChunkSize float64        `json:"average_chunk_size"`
}

// Document is one input to ChunkBatch.
type Document struct {
	FilePath    string
	Text        string
	ContentType token.ContentType
}

// segment is one line, or one piece of a line too large to fit a chunk.
// Pieces of a split line share the same line number.
type segment struct {
	text   string
	line   int
	tokens int
}

// Chunk splits text into chunks of at most roughly opts.ChunkSize estimated
// tokens. Lines are never split across chunks, except that a single line whose
// own estimate exceeds the chunk size is subdivided by character position so
// the pass always makes forward progress. Empty or whitespace-only input
// yields zero chunks.
func Chunk(text string, opts Options) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Chunks: []models.Chunk{}}
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	overlap := opts.Overlap
	if overlap < 0 {
		overlap = 0
	}
	// Overlap at or above the chunk size would never advance.
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	ct := opts.ContentType
	if ct == "" {
		ct = token.DetectContentType(text)
	}

	segs := segmentLines(text, chunkSize, ct)
	now := time.Now()

	var chunks []models.Chunk
	start := 0
	for start < len(segs) {
		end := start
		running := segs[start].tokens
		for end+1 < len(segs) && running+segs[end+1].tokens <= chunkSize {
			end++
			running += segs[end].tokens
		}

		chunkText := joinSegments(segs[start : end+1])
		chunks = append(chunks, models.Chunk{
			Text:       chunkText,
			Tokens:     token.Count(chunkText, ct).Tokens,
			FilePath:   opts.FilePath,
			StartLine:  segs[start].line,
			EndLine:    segs[end].line,
			ChunkIndex: len(chunks),
			Timestamp:  now,
		})

		if end+1 >= len(segs) {
			break
		}
		// Back up over trailing segments worth at most `overlap` tokens,
		// but never to or before the previous start so the pass terminates.
		next := end + 1
		acc := 0
		for next-1 > start && acc+segs[next-1].tokens <= overlap {
			next--
			acc += segs[next].tokens
		}
		start = next
	}

	totalTokens := 0
	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
		totalTokens += chunks[i].Tokens
	}
	avg := 0.0
	if len(chunks) > 0 {
		avg = float64(totalTokens) / float64(len(chunks))
	}
	return Result{
		Chunks:           chunks,
		TotalChunks:      len(chunks),
		TotalTokens:      totalTokens,
		AverageChunkSize: avg,
	}
}

// ChunkBatch chunks each document independently with the shared size/overlap
// settings. Per-document file path and content type override the options.
func ChunkBatch(docs []Document, opts Options) []Result {
	results := make([]Result, len(docs))
	for i, doc := range docs {
		docOpts := opts
		docOpts.FilePath = doc.FilePath
		if doc.ContentType != "" {
			docOpts.ContentType = doc.ContentType
		}
		results[i] = Chunk(doc.Text, docOpts)
	}
	return results
}

// joinSegments rebuilds chunk text: a newline between segments of different
// lines, nothing between pieces of one subdivided line.
func joinSegments(segs []segment) string {
	var b strings.Builder
	for i, seg := range segs {
		if i > 0 && seg.line != segs[i-1].line {
			b.WriteByte('\n')
		}
		b.WriteString(seg.text)
	}
	return b.String()
}

// segmentLines splits text into per-line segments, further dividing any line
// whose own token estimate exceeds chunkSize into character-bounded pieces.
func segmentLines(text string, chunkSize int, ct token.ContentType) []segment {
	lines := strings.Split(text, "\n")
	segs := make([]segment, 0, len(lines))
	maxChars := token.EstimateChars(chunkSize, ct)
	if maxChars < 1 {
		maxChars = 1
	}
	for i, line := range lines {
		est := token.Count(line, ct)
		if est.Tokens <= chunkSize {
			segs = append(segs, segment{text: line, line: i + 1, tokens: est.Tokens})
			continue
		}
		runes := []rune(line)
		for pos := 0; pos < len(runes); pos += maxChars {
			endPos := pos + maxChars
			if endPos > len(runes) {
				endPos = len(runes)
			}
			piece := string(runes[pos:endPos])
			segs = append(segs, segment{
				text:   piece,
				line:   i + 1,
				tokens: token.Count(piece, ct).Tokens,
			})
		}
	}
	return segs
}
