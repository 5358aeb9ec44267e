package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/konkyo/internal/token"
)

func linesOfProse(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "line %d with a handful of ordinary prose words\n", i)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func TestChunk_Empty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\n"} {
		res := Chunk(text, Options{FilePath: "a.txt"})
		if len(res.Chunks) != 0 || res.TotalChunks != 0 {
			t.Errorf("Chunk(%q) should produce zero chunks, got %d", text, res.TotalChunks)
		}
	}
}

func TestChunk_Basic(t *testing.T) {
	text := linesOfProse(40)
	res := Chunk(text, Options{FilePath: "doc.md", ChunkSize: 50, ContentType: token.Prose})
	if len(res.Chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(res.Chunks))
	}
	for i, ch := range res.Chunks {
		if ch.ChunkIndex != i {
			t.Errorf("chunk %d: ChunkIndex=%d", i, ch.ChunkIndex)
		}
		if ch.TotalChunks != len(res.Chunks) {
			t.Errorf("chunk %d: TotalChunks=%d, want %d", i, ch.TotalChunks, len(res.Chunks))
		}
		if ch.FilePath != "doc.md" {
			t.Errorf("chunk %d: FilePath=%q", i, ch.FilePath)
		}
		if ch.StartLine > ch.EndLine {
			t.Errorf("chunk %d: StartLine %d > EndLine %d", i, ch.StartLine, ch.EndLine)
		}
		if ch.Timestamp.IsZero() {
			t.Errorf("chunk %d: zero timestamp", i)
		}
	}
	if res.TotalTokens == 0 || res.AverageChunkSize == 0 {
		t.Errorf("totals not computed: %+v", res)
	}
}

func TestChunk_ContiguousWithoutOverlap(t *testing.T) {
	res := Chunk(linesOfProse(60), Options{ChunkSize: 40, Overlap: 0, ContentType: token.Prose})
	for i := 1; i < len(res.Chunks); i++ {
		prev, cur := res.Chunks[i-1], res.Chunks[i]
		if cur.StartLine != prev.EndLine+1 {
			t.Errorf("chunks %d/%d not contiguous: prev end %d, next start %d", i-1, i, prev.EndLine, cur.StartLine)
		}
	}
}

func TestChunk_OverlapRepeatsLines(t *testing.T) {
	res := Chunk(linesOfProse(60), Options{ChunkSize: 40, Overlap: 15, ContentType: token.Prose})
	if len(res.Chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(res.Chunks))
	}
	for i := 1; i < len(res.Chunks); i++ {
		prev, cur := res.Chunks[i-1], res.Chunks[i]
		if cur.StartLine > prev.EndLine+1 {
			t.Errorf("gap between chunks %d/%d: prev end %d, next start %d", i-1, i, prev.EndLine, cur.StartLine)
		}
		if cur.StartLine <= prev.StartLine {
			t.Errorf("chunk %d did not advance: prev start %d, next start %d", i, prev.StartLine, cur.StartLine)
		}
	}
}

func TestChunk_ReconstructsLineSequence(t *testing.T) {
	text := linesOfProse(30)
	res := Chunk(text, Options{ChunkSize: 40, Overlap: 10, ContentType: token.Prose})
	// Dropping each chunk's overlapping prefix lines and concatenating the
	// rest must reproduce the original line sequence.
	var rebuilt []string
	lastLine := 0
	for _, ch := range res.Chunks {
		lines := strings.Split(ch.Text, "\n")
		skip := 0
		if ch.StartLine <= lastLine {
			skip = lastLine - ch.StartLine + 1
		}
		rebuilt = append(rebuilt, lines[skip:]...)
		lastLine = ch.EndLine
	}
	if got := strings.Join(rebuilt, "\n"); got != text {
		t.Errorf("reconstruction mismatch:\n got: %q\nwant: %q", got, text)
	}
}

func TestChunk_OversizedLineIsSubdivided(t *testing.T) {
	// One line far beyond the chunk size must be split by character position.
	text := strings.Repeat("word ", 2000) // ~10000 chars on one line
	res := Chunk(text, Options{ChunkSize: 100, ContentType: token.Prose})
	if len(res.Chunks) < 2 {
		t.Fatalf("oversized line should split into several chunks, got %d", len(res.Chunks))
	}
	for i, ch := range res.Chunks {
		if ch.StartLine != 1 || ch.EndLine != 1 {
			t.Errorf("chunk %d: line range %d-%d, want 1-1", i, ch.StartLine, ch.EndLine)
		}
	}
	var joined strings.Builder
	for _, ch := range res.Chunks {
		joined.WriteString(ch.Text)
	}
	if joined.String() != text {
		t.Error("subdivided pieces do not concatenate to the original line")
	}
}

func TestChunk_DegenerateOverlapClamped(t *testing.T) {
	// Overlap >= chunk size must be clamped, not rejected, and must terminate.
	done := make(chan Result, 1)
	go func() {
		done <- Chunk(linesOfProse(50), Options{ChunkSize: 30, Overlap: 30, ContentType: token.Prose})
	}()
	select {
	case res := <-done:
		if len(res.Chunks) == 0 {
			t.Error("expected chunks from clamped config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("chunking did not terminate with overlap == chunk size")
	}
}

func TestChunkBatch(t *testing.T) {
	docs := []Document{
		{FilePath: "a.md", Text: linesOfProse(20)},
		{FilePath: "b.go", Text: "func a() {}\nfunc b() {}", ContentType: token.Code},
		{FilePath: "c.md", Text: ""},
	}
	results := ChunkBatch(docs, Options{ChunkSize: 50})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].TotalChunks == 0 || results[1].TotalChunks == 0 {
		t.Error("non-empty documents should produce chunks")
	}
	if results[2].TotalChunks != 0 {
		t.Error("empty document should produce zero chunks")
	}
	for _, ch := range results[0].Chunks {
		if ch.FilePath != "a.md" {
			t.Errorf("batch lost file path: %q", ch.FilePath)
		}
	}
}

func TestChunk_LargeDocumentFast(t *testing.T) {
	text := linesOfProse(10000)
	start := time.Now()
	res := Chunk(text, Options{ChunkSize: 400, Overlap: 50, ContentType: token.Prose})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("10k-line document took %v, want <500ms", elapsed)
	}
	if res.TotalChunks == 0 {
		t.Error("expected chunks")
	}
}
