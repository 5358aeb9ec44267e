// Package assembler turns ranked retrieved chunks into a token-bounded,
// cited context block.
package assembler

import (
	"fmt"
	"strings"

	"github.com/hyperjump/konkyo/internal/models"
	"github.com/hyperjump/konkyo/pkg/utils"
)

// Format selects the context text layout.
type Format string

const (
	FormatPlain    Format = "plain"
	FormatMarkdown Format = "markdown"
)

// DefaultMaxTokens is the context token budget when none is given.
const DefaultMaxTokens = 4000

// snippetLength caps source attribution snippets.
const snippetLength = 100

// Options configure context assembly.
type Options struct {
	MaxTokens        int
	IncludeCitations bool
	Format           Format
}

// DefaultOptions returns the assembly defaults: 4000 token budget, citations
// on, plain formatting.
func DefaultOptions() Options {
	return Options{MaxTokens: DefaultMaxTokens, IncludeCitations: true, Format: FormatPlain}
}

// BuildContext admits a greedy prefix of the given relevance-ordered chunks —
// stopping at the first chunk that would overflow the budget, never skipping
// ahead to a smaller one — and formats the admitted chunks with deduplicated
// source attributions. When even the single highest-ranked chunk exceeds the
// budget, zero chunks are admitted and the full budget remains available.
func BuildContext(chunks []models.RetrievedChunk, opts Options) models.RetrievedContext {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	format := opts.Format
	if format == "" {
		format = FormatPlain
	}

	admitted := ChunksWithinBudget(chunks, maxTokens)
	used := EstimateTokens(admitted)

	return models.RetrievedContext{
		Chunks:          admitted,
		Sources:         buildSources(admitted),
		ContextText:     formatChunks(admitted, format, opts.IncludeCitations),
		TotalTokens:     used,
		BudgetUsed:      used,
		BudgetAvailable: maxTokens - used,
	}
}

// EstimateTokens sums chunk token estimates. No admission logic.
func EstimateTokens(chunks []models.RetrievedChunk) int {
	total := 0
	for _, ch := range chunks {
		total += ch.Tokens
	}
	return total
}

// FitsWithinBudget reports whether every chunk fits the budget as one block.
func FitsWithinBudget(chunks []models.RetrievedChunk, budget int) bool {
	return EstimateTokens(chunks) <= budget
}

// ChunksWithinBudget returns the longest prefix of chunks whose token sum
// stays within budget. The same greedy rule BuildContext applies, exposed for
// composition and testing.
func ChunksWithinBudget(chunks []models.RetrievedChunk, budget int) []models.RetrievedChunk {
	admitted := make([]models.RetrievedChunk, 0, len(chunks))
	running := 0
	for _, ch := range chunks {
		if running+ch.Tokens > budget {
			break
		}
		admitted = append(admitted, ch)
		running += ch.Tokens
	}
	return admitted
}

// buildSources mirrors the admitted chunks as source attributions,
// deduplicated by (file path, start line, end line) keeping the
// highest-scored occurrence. First-seen order is preserved.
func buildSources(chunks []models.RetrievedChunk) []models.SourceAttribution {
	type locKey struct {
		path       string
		start, end int
	}
	byLoc := make(map[locKey]int)
	sources := make([]models.SourceAttribution, 0, len(chunks))
	for _, ch := range chunks {
		key := locKey{ch.FilePath, ch.StartLine, ch.EndLine}
		if i, seen := byLoc[key]; seen {
			if ch.Score > sources[i].Score {
				sources[i].Score = ch.Score
				sources[i].Snippet = utils.Truncate(ch.Text, snippetLength)
			}
			continue
		}
		byLoc[key] = len(sources)
		sources = append(sources, models.SourceAttribution{
			FilePath:  ch.FilePath,
			StartLine: ch.StartLine,
			EndLine:   ch.EndLine,
			Score:     ch.Score,
			Snippet:   utils.Truncate(ch.Text, snippetLength),
		})
	}
	return sources
}

func formatChunks(chunks []models.RetrievedChunk, format Format, citations bool) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		switch format {
		case FormatMarkdown:
			var b strings.Builder
			if citations {
				fmt.Fprintf(&b, "### Source %d: %s:%d-%d\n\n", i+1, ch.FilePath, ch.StartLine, ch.EndLine)
			}
			b.WriteString("```\n")
			b.WriteString(ch.Text)
			b.WriteString("\n```")
			parts = append(parts, b.String())
		default:
			if citations {
				parts = append(parts, fmt.Sprintf("[%s:%d-%d]\n%s", ch.FilePath, ch.StartLine, ch.EndLine, ch.Text))
			} else {
				parts = append(parts, ch.Text)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}
