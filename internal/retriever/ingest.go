package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/konkyo/internal/chunker"
	"github.com/hyperjump/konkyo/internal/models"
)

// ChunkID returns a stable document ID for one chunk of a file: the same path
// and chunk index always yield the same ID, so re-ingesting a file replaces
// its chunks instead of accumulating them.
func ChunkID(path string, chunkIndex int) string {
	normalized := filepath.Clean(path)
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("chunk:%s:%d", hex.EncodeToString(sum[:8]), chunkIndex)
}

// IngestText chunks text and indexes one document per chunk, stamped with
// positional metadata. Any chunks previously ingested for the same path are
// removed first, so ingestion is replace-by-path. extra metadata is attached
// to every chunk document.
func (s *Service) IngestText(ctx context.Context, path, text string, extra models.Metadata) (models.BatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res := chunker.Chunk(text, chunker.Options{
		FilePath:  path,
		ChunkSize: s.cfg.ChunkSize,
		Overlap:   s.cfg.ChunkOverlap,
	})
	if res.TotalChunks == 0 {
		return models.BatchResult{}, nil
	}

	if removed, err := s.RemoveFile(ctx, path); err != nil {
		return models.BatchResult{}, fmt.Errorf("ingest %s: replace existing chunks: %w", path, err)
	} else if removed > 0 {
		s.logger.Debug("replaced previously ingested chunks",
			zap.String("path", path), zap.Int("removed", removed))
	}

	docs := make([]models.IndexedDocument, len(res.Chunks))
	for i, ch := range res.Chunks {
		meta := models.Metadata{
			MetaFilePath:    ch.FilePath,
			MetaStartLine:   float64(ch.StartLine),
			MetaEndLine:     float64(ch.EndLine),
			MetaChunkIndex:  float64(ch.ChunkIndex),
			MetaTotalChunks: float64(ch.TotalChunks),
			MetaTokens:      float64(ch.Tokens),
		}
		for k, v := range extra {
			meta[k] = v
		}
		docs[i] = models.IndexedDocument{
			ID:       ChunkID(path, ch.ChunkIndex),
			Content:  ch.Text,
			Metadata: meta,
		}
	}

	batch, err := s.index.AddDocuments(ctx, docs)
	if err != nil {
		return batch, fmt.Errorf("ingest %s: %w", path, err)
	}
	s.logger.Info("ingested document",
		zap.String("path", path),
		zap.Int("chunks", batch.SuccessCount),
		zap.Int("failed", batch.FailureCount),
		zap.Int("tokens", res.TotalTokens))
	return batch, nil
}

// IngestFile extracts text from the file at path and ingests it.
func (s *Service) IngestFile(ctx context.Context, path string) (models.BatchResult, error) {
	text, err := s.extractor.Extract(path)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("ingest %s: %w", path, err)
	}
	return s.IngestText(ctx, path, text, nil)
}

// IngestFiles ingests each file independently; per-file failures are folded
// into the combined batch result rather than aborting the rest.
func (s *Service) IngestFiles(ctx context.Context, paths []string) models.BatchResult {
	var total models.BatchResult
	for _, path := range paths {
		batch, err := s.IngestFile(ctx, path)
		total.SuccessCount += batch.SuccessCount
		total.FailureCount += batch.FailureCount
		total.Errors = append(total.Errors, batch.Errors...)
		if err != nil {
			total.FailureCount++
			total.Errors = append(total.Errors, models.BatchError{ID: path, Error: err.Error()})
		}
	}
	return total
}

// RemoveFile removes every chunk document ingested from path.
func (s *Service) RemoveFile(ctx context.Context, path string) (int, error) {
	return s.index.RemoveMatching(ctx, models.Metadata{MetaFilePath: path})
}

// AddDocument adds a raw document directly to the index.
func (s *Service) AddDocument(ctx context.Context, doc models.IndexedDocument) error {
	return s.index.AddDocument(ctx, doc)
}

// AddDocuments adds a raw batch directly to the index.
func (s *Service) AddDocuments(ctx context.Context, docs []models.IndexedDocument) (models.BatchResult, error) {
	return s.index.AddDocuments(ctx, docs)
}

// RemoveDocument removes one document by ID.
func (s *Service) RemoveDocument(ctx context.Context, id string) error {
	return s.index.RemoveDocument(ctx, id)
}

// Clear empties the index.
func (s *Service) Clear(ctx context.Context) error {
	return s.index.Clear(ctx)
}

// Stats returns index statistics.
func (s *Service) Stats() (models.IndexStats, error) {
	return s.index.Stats()
}

// MemoryStatus returns the index memory-budget view.
func (s *Service) MemoryStatus() (models.MemoryStatus, error) {
	return s.index.MemoryStatus()
}
