// Package retriever wires the retrieval pipeline together: it owns the one
// index instance, runs query-time retrieval (embed, hybrid search, budgeted
// assembly), and handles ingestion of documents and files.
//
// A retrieval error — index not initialized, embedding failure, search
// failure, cancellation, or timeout — surfaces as a returned error, which is
// the "retrieval failed" signal: the caller falls back to an ungrounded
// standard prompt. A successful retrieval with zero relevant chunks is not a
// failure; it simply yields an empty context.
package retriever

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/konkyo/internal/assembler"
	"github.com/hyperjump/konkyo/internal/chunker"
	"github.com/hyperjump/konkyo/internal/extract"
	"github.com/hyperjump/konkyo/internal/index"
	"github.com/hyperjump/konkyo/internal/models"
	"github.com/hyperjump/konkyo/internal/prompt"
	"github.com/hyperjump/konkyo/internal/token"
)

// Metadata keys attached to chunk documents at ingestion time. Retrieval maps
// them back into chunk positional fields.
const (
	MetaFilePath    = "file_path"
	MetaStartLine   = "start_line"
	MetaEndLine     = "end_line"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaTokens      = "tokens"
)

// DefaultTimeout bounds one retrieval or ingestion call. Exceeding it is a
// retrieval failure, never an indefinite block.
const DefaultTimeout = 10 * time.Second

// Config holds the pipeline settings.
type Config struct {
	ChunkSize        int           // tokens per chunk at ingestion
	ChunkOverlap     int           // tokens of line-based chunk overlap
	TopK             int           // candidates retrieved per query
	Threshold        float64       // minimum hybrid score
	MaxContextTokens int           // context assembly budget
	Timeout          time.Duration // per-call bound on embed+search+persist
}

// RetrieveOptions tune one retrieval; zero values fall back to the service config.
type RetrieveOptions struct {
	TopK             int
	Threshold        float64
	MaxTokens        int
	IncludeCitations *bool // nil means true
	Format           assembler.Format
	Filter           models.Metadata
}

// Service is the retrieval pipeline facade consumed by the host chat feature.
type Service struct {
	index     *index.Index
	extractor *extract.Extractor
	cfg       Config
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates the pipeline service around an index.
func New(ix *index.Index, cfg Config, opts ...Option) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultChunkSize
	}
	if cfg.TopK <= 0 {
		cfg.TopK = index.DefaultTopK
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = assembler.DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s := &Service{
		index:     ix,
		extractor: extract.NewExtractor(),
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetrieveContext retrieves and assembles a token-bounded context for query.
// An error return means retrieval failed; a context with zero chunks means
// retrieval succeeded but nothing relevant (or nothing fitting the budget)
// was found.
func (s *Service) RetrieveContext(ctx context.Context, query string, opts RetrieveOptions) (models.RetrievedContext, error) {
	if query == "" {
		return models.RetrievedContext{}, fmt.Errorf("retrieve: empty query")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	topK := opts.TopK
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.cfg.Threshold
	}

	results, err := s.index.Search(ctx, query, index.SearchOptions{
		TopK:      topK,
		Threshold: threshold,
		Filter:    opts.Filter,
	})
	if err != nil {
		return models.RetrievedContext{}, fmt.Errorf("retrieve: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return models.RetrievedContext{}, fmt.Errorf("retrieve: %w", err)
	}

	chunks := make([]models.RetrievedChunk, len(results))
	for i, r := range results {
		chunks[i] = chunkFromDocument(r.Document, r.Score)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxContextTokens
	}
	citations := true
	if opts.IncludeCitations != nil {
		citations = *opts.IncludeCitations
	}
	return assembler.BuildContext(chunks, assembler.Options{
		MaxTokens:        maxTokens,
		IncludeCitations: citations,
		Format:           opts.Format,
	}), nil
}

// BuildPrompt retrieves context for query and wraps it into a system prompt.
// grounded reports whether retrieval succeeded; when it did not, the returned
// prompt is the ungrounded standard prompt and the caller should mark the
// answer as not backed by project context.
func (s *Service) BuildPrompt(ctx context.Context, query string, opts RetrieveOptions, popts prompt.Options) (models.AugmentedPrompt, bool) {
	rctx, err := s.RetrieveContext(ctx, query, opts)
	if err != nil {
		s.logger.Warn("retrieval failed, falling back to standard prompt", zap.Error(err))
		return prompt.BuildStandardPrompt(popts.SystemPromptPrefix), false
	}
	return prompt.BuildAugmentedPrompt(rctx, popts), true
}

// chunkFromDocument maps an indexed chunk document back to a retrieved chunk.
// Documents added outside the ingestion path may lack positional metadata;
// they degrade to a chunk with no location and a fresh token estimate.
func chunkFromDocument(doc *models.IndexedDocument, score float64) models.RetrievedChunk {
	ch := models.RetrievedChunk{Score: score}
	ch.Text = doc.Content
	ch.FilePath = metaString(doc.Metadata, MetaFilePath)
	ch.StartLine = metaInt(doc.Metadata, MetaStartLine)
	ch.EndLine = metaInt(doc.Metadata, MetaEndLine)
	ch.ChunkIndex = metaInt(doc.Metadata, MetaChunkIndex)
	ch.TotalChunks = metaInt(doc.Metadata, MetaTotalChunks)
	if ch.Tokens = metaInt(doc.Metadata, MetaTokens); ch.Tokens == 0 {
		est, _ := token.CountAuto(doc.Content)
		ch.Tokens = est.Tokens
	}
	return ch
}

func metaString(m models.Metadata, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func metaInt(m models.Metadata, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
