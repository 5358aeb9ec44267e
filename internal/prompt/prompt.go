// Package prompt wraps assembled retrieval context into the final
// instructional system prompt for one chat turn.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hyperjump/konkyo/internal/models"
	"github.com/hyperjump/konkyo/internal/token"
)

// TruncationMarker is appended when context text is cut to MaxContextLength.
const TruncationMarker = "...truncated"

// DefaultPrefix introduces grounded answers.
const DefaultPrefix = "You are a helpful assistant. Use the project context below to answer the user's question. " +
	"Prefer the context over general knowledge and cite the referenced files when you rely on them."

// DefaultStandardPrompt is used when no retrieval context is available.
const DefaultStandardPrompt = "You are a helpful assistant. Answer the user's question using your general knowledge."

// Options configure prompt augmentation.
type Options struct {
	IncludeCitations   bool
	SystemPromptPrefix string // defaults to DefaultPrefix
	SystemPromptSuffix string
	MaxContextLength   int // characters; 0 means no limit
}

// DefaultOptions returns the augmentation defaults: citations on, no suffix,
// unlimited context length.
func DefaultOptions() Options {
	return Options{IncludeCitations: true}
}

// BuildAugmentedPrompt assembles prefix + context block + suffix. The context
// block is present only when the retrieved context admitted at least one
// chunk; every input degrades gracefully, so an empty context simply yields a
// prompt without a context block.
func BuildAugmentedPrompt(ctx models.RetrievedContext, opts Options) models.AugmentedPrompt {
	prefix := opts.SystemPromptPrefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	hasContext := len(ctx.Chunks) > 0

	parts := []string{prefix}
	if hasContext {
		block := renderContextBlock(ctx.Chunks, opts.IncludeCitations)
		if opts.MaxContextLength > 0 {
			block = truncateContext(block, opts.MaxContextLength)
		}
		parts = append(parts, block)
	}
	if opts.SystemPromptSuffix != "" {
		parts = append(parts, opts.SystemPromptSuffix)
	}
	systemPrompt := strings.Join(parts, "\n\n")

	sources := ctx.Sources
	if !hasContext {
		sources = nil
	}
	return models.AugmentedPrompt{
		SystemPrompt: systemPrompt,
		HasContext:   hasContext,
		Sources:      sources,
		TotalTokens:  EstimateSystemPromptTokens(systemPrompt),
	}
}

// BuildStandardPrompt produces a zero-context prompt from customPrompt, or
// the generic default when customPrompt is empty.
func BuildStandardPrompt(customPrompt string) models.AugmentedPrompt {
	p := customPrompt
	if p == "" {
		p = DefaultStandardPrompt
	}
	return models.AugmentedPrompt{
		SystemPrompt: p,
		HasContext:   false,
		Sources:      nil,
		TotalTokens:  EstimateSystemPromptTokens(p),
	}
}

// EstimateSystemPromptTokens estimates prompt tokens at the prose ratio.
func EstimateSystemPromptTokens(prompt string) int {
	return token.Count(prompt, token.Prose).Tokens
}

// renderContextBlock renders each chunk as a fenced block labeled with its
// file/line citation, or a generic "Code Snippet N" label when citations are
// disabled.
func renderContextBlock(chunks []models.RetrievedChunk, citations bool) string {
	var b strings.Builder
	b.WriteString("Project context:")
	for i, ch := range chunks {
		b.WriteString("\n\n")
		if citations && ch.FilePath != "" {
			fmt.Fprintf(&b, "%s:%d-%d\n", ch.FilePath, ch.StartLine, ch.EndLine)
		} else {
			fmt.Fprintf(&b, "Code Snippet %d\n", i+1)
		}
		b.WriteString("```\n")
		b.WriteString(ch.Text)
		b.WriteString("\n```")
	}
	return b.String()
}

// truncateContext cuts block to at most maxLen characters and appends the
// truncation marker. Blocks within the limit are untouched.
func truncateContext(block string, maxLen int) string {
	runes := []rune(block)
	if len(runes) <= maxLen {
		return block
	}
	return string(runes[:maxLen]) + TruncationMarker
}
