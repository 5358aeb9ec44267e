package assembler

import (
	"strings"
	"testing"

	"github.com/hyperjump/konkyo/internal/models"
)

func chunk(path string, start, end, tokens int, score float64, text string) models.RetrievedChunk {
	return models.RetrievedChunk{
		Chunk: models.Chunk{
			Text:      text,
			Tokens:    tokens,
			FilePath:  path,
			StartLine: start,
			EndLine:   end,
		},
		Score: score,
	}
}

func TestBuildContext_GreedyPrefixAdmission(t *testing.T) {
	chunks := []models.RetrievedChunk{
		chunk("a.go", 1, 10, 100, 0.9, "first"),
		chunk("b.go", 1, 10, 100, 0.8, "second"),
		chunk("c.go", 1, 10, 100, 0.7, "third"),
	}
	ctx := BuildContext(chunks, Options{MaxTokens: 250, IncludeCitations: true, Format: FormatPlain})
	if len(ctx.Chunks) != 2 {
		t.Fatalf("admitted %d chunks, want 2", len(ctx.Chunks))
	}
	if ctx.BudgetUsed != 200 {
		t.Errorf("BudgetUsed=%d, want 200", ctx.BudgetUsed)
	}
	if ctx.BudgetAvailable != 50 {
		t.Errorf("BudgetAvailable=%d, want 50", ctx.BudgetAvailable)
	}
}

func TestBuildContext_StopsAtFirstOverflow(t *testing.T) {
	// A smaller chunk after the overflowing one must not be admitted:
	// admission preserves "most relevant first", not best packing.
	chunks := []models.RetrievedChunk{
		chunk("a.go", 1, 5, 100, 0.9, "fits"),
		chunk("b.go", 1, 5, 300, 0.8, "overflows"),
		chunk("c.go", 1, 5, 10, 0.7, "would fit but comes later"),
	}
	ctx := BuildContext(chunks, Options{MaxTokens: 200})
	if len(ctx.Chunks) != 1 || ctx.Chunks[0].Text != "fits" {
		t.Errorf("admitted %v, want only the first chunk", ctx.Chunks)
	}
}

func TestBuildContext_SingleOversizedChunkAdmitsNothing(t *testing.T) {
	chunks := []models.RetrievedChunk{chunk("a.go", 1, 100, 5000, 0.99, "huge")}
	ctx := BuildContext(chunks, Options{MaxTokens: 4000})
	if len(ctx.Chunks) != 0 {
		t.Errorf("admitted %d chunks, want 0", len(ctx.Chunks))
	}
	if ctx.BudgetUsed != 0 || ctx.BudgetAvailable != 4000 {
		t.Errorf("budget %d used / %d available, want 0/4000", ctx.BudgetUsed, ctx.BudgetAvailable)
	}
	if ctx.ContextText != "" {
		t.Errorf("context text should be empty, got %q", ctx.ContextText)
	}
}

func TestBuildContext_Idempotent(t *testing.T) {
	chunks := []models.RetrievedChunk{
		chunk("a.go", 1, 5, 120, 0.9, "one"),
		chunk("b.go", 6, 9, 80, 0.8, "two"),
		chunk("c.go", 1, 4, 900, 0.7, "three"),
	}
	first := BuildContext(chunks, Options{MaxTokens: 300, IncludeCitations: true})
	second := BuildContext(chunks, Options{MaxTokens: 300, IncludeCitations: true})
	if first.ContextText != second.ContextText || first.BudgetUsed != second.BudgetUsed {
		t.Error("repeated assembly with identical input should be identical")
	}
	if len(first.Chunks) != len(second.Chunks) {
		t.Error("admitted sets differ between runs")
	}
}

func TestBuildContext_PlainCitations(t *testing.T) {
	chunks := []models.RetrievedChunk{chunk("pkg/x.go", 3, 8, 10, 0.5, "func X() {}")}
	ctx := BuildContext(chunks, Options{MaxTokens: 100, IncludeCitations: true, Format: FormatPlain})
	if !strings.Contains(ctx.ContextText, "[pkg/x.go:3-8]") {
		t.Errorf("plain citation missing: %q", ctx.ContextText)
	}
	ctx = BuildContext(chunks, Options{MaxTokens: 100, IncludeCitations: false, Format: FormatPlain})
	if strings.Contains(ctx.ContextText, "[pkg/x.go") {
		t.Errorf("citation present with citations disabled: %q", ctx.ContextText)
	}
}

func TestBuildContext_MarkdownFormat(t *testing.T) {
	chunks := []models.RetrievedChunk{
		chunk("a.md", 1, 2, 10, 0.9, "alpha"),
		chunk("b.md", 5, 9, 10, 0.8, "beta"),
	}
	ctx := BuildContext(chunks, Options{MaxTokens: 100, IncludeCitations: true, Format: FormatMarkdown})
	if !strings.Contains(ctx.ContextText, "### Source 1: a.md:1-2") {
		t.Errorf("markdown heading missing: %q", ctx.ContextText)
	}
	if !strings.Contains(ctx.ContextText, "### Source 2: b.md:5-9") {
		t.Errorf("second heading missing: %q", ctx.ContextText)
	}
	if strings.Count(ctx.ContextText, "```") != 4 {
		t.Errorf("expected two fenced blocks: %q", ctx.ContextText)
	}
}

func TestBuildContext_SourceDeduplication(t *testing.T) {
	chunks := []models.RetrievedChunk{
		chunk("a.go", 1, 10, 10, 0.6, "lower scored duplicate"),
		chunk("a.go", 1, 10, 10, 0.9, "higher scored duplicate"),
		chunk("b.go", 1, 10, 10, 0.5, "distinct"),
	}
	ctx := BuildContext(chunks, Options{MaxTokens: 100})
	if len(ctx.Sources) != 2 {
		t.Fatalf("got %d sources, want 2 after dedup", len(ctx.Sources))
	}
	if ctx.Sources[0].Score != 0.9 {
		t.Errorf("dedup kept score %f, want the highest (0.9)", ctx.Sources[0].Score)
	}
}

func TestBuildContext_SnippetCapped(t *testing.T) {
	long := strings.Repeat("x", 300)
	ctx := BuildContext([]models.RetrievedChunk{chunk("a.go", 1, 1, 10, 0.5, long)}, Options{MaxTokens: 100})
	if len(ctx.Sources) != 1 {
		t.Fatal("expected one source")
	}
	snippet := ctx.Sources[0].Snippet
	if !strings.HasSuffix(snippet, "...") {
		t.Errorf("snippet should end with ellipsis: %q", snippet)
	}
	if len(snippet) != 103 { // 100 chars + "..."
		t.Errorf("snippet length %d, want 103", len(snippet))
	}
}

func TestChunksWithinBudget_Standalone(t *testing.T) {
	chunks := []models.RetrievedChunk{
		chunk("a", 1, 1, 50, 0.9, "a"),
		chunk("b", 1, 1, 60, 0.8, "b"),
	}
	if got := ChunksWithinBudget(chunks, 100); len(got) != 1 {
		t.Errorf("admitted %d, want 1", len(got))
	}
	if !FitsWithinBudget(chunks, 110) {
		t.Error("110 tokens should fit both chunks")
	}
	if FitsWithinBudget(chunks, 100) {
		t.Error("100 tokens should not fit both chunks")
	}
	if EstimateTokens(chunks) != 110 {
		t.Errorf("EstimateTokens=%d, want 110", EstimateTokens(chunks))
	}
}

func TestBuildContext_EmptyInput(t *testing.T) {
	ctx := BuildContext(nil, DefaultOptions())
	if len(ctx.Chunks) != 0 || len(ctx.Sources) != 0 || ctx.ContextText != "" {
		t.Errorf("empty input should build empty context: %+v", ctx)
	}
	if ctx.BudgetAvailable != DefaultMaxTokens {
		t.Errorf("BudgetAvailable=%d, want full budget", ctx.BudgetAvailable)
	}
}
