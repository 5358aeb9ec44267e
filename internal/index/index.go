// Package index owns the in-memory document/embedding collection and its
// hybrid semantic+lexical search. It drives persistence on every mutation and
// exposes memory-budget status.
//
// Concurrency: mutations (add/remove/clear) hold the write lock across the
// in-memory change and the persistence write, giving the file-backed store a
// single-writer discipline. Searches take the read lock, so they run
// concurrently with each other but never observe a half-written mutation.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/konkyo/internal/embedding"
	"github.com/hyperjump/konkyo/internal/keyword"
	"github.com/hyperjump/konkyo/internal/models"
	"github.com/hyperjump/konkyo/internal/persistence"
	"github.com/hyperjump/konkyo/pkg/utils"
)

// Hybrid score weights. Semantic similarity dominates; keyword matches are
// not excluded. Tunable via WithWeights.
const (
	DefaultSemanticWeight = 0.8
	DefaultKeywordWeight  = 0.2
)

// DefaultMemoryBudgetBytes is the index memory budget when none is configured.
const DefaultMemoryBudgetBytes = 500 * 1024 * 1024

// perDocumentOverhead is a rough per-document bookkeeping estimate used for
// memory accounting (map entry, slices, metadata).
const perDocumentOverhead = 128

// Index is the embedding-backed document index.
type Index struct {
	embedder embedding.Embedder
	store    *persistence.Store
	lexical  *keyword.Index
	logger   *zap.Logger

	semanticWeight float64
	keywordWeight  float64
	budgetBytes    int64

	mu    sync.RWMutex
	ready bool
	docs  map[string]*models.IndexedDocument
	order []string // insertion order; the stable tie-break for equal scores
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets a logger for recovery and persistence warnings.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithWeights overrides the hybrid semantic/keyword score weights.
func WithWeights(semantic, keyword float64) Option {
	return func(ix *Index) {
		if semantic > 0 || keyword > 0 {
			ix.semanticWeight = semantic
			ix.keywordWeight = keyword
		}
	}
}

// WithMemoryBudget overrides the memory budget in bytes.
func WithMemoryBudget(bytes int64) Option {
	return func(ix *Index) {
		if bytes > 0 {
			ix.budgetBytes = bytes
		}
	}
}

// New creates an index that embeds with embedder and persists through store.
// The index is unusable until Initialize succeeds.
func New(embedder embedding.Embedder, store *persistence.Store, opts ...Option) (*Index, error) {
	lexical, err := keyword.NewIndex()
	if err != nil {
		return nil, err
	}
	ix := &Index{
		embedder:       embedder,
		store:          store,
		lexical:        lexical,
		logger:         zap.NewNop(),
		semanticWeight: DefaultSemanticWeight,
		keywordWeight:  DefaultKeywordWeight,
		budgetBytes:    DefaultMemoryBudgetBytes,
		docs:           make(map[string]*models.IndexedDocument),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Initialize loads the persisted document set and readies the index.
// A missing or corrupt index file is absorbed by the store's own recovery;
// when no data can be loaded the index starts empty. Initialize never fails
// because of disk state.
func (ix *Index) Initialize(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ready {
		return nil
	}

	docs, recovered := ix.store.Load()
	if recovered {
		ix.logger.Warn("index restored from backup generation", zap.Int("documents", len(docs)))
	}
	for i := range docs {
		doc := docs[i]
		if _, dup := ix.docs[doc.ID]; dup {
			ix.logger.Warn("skipping duplicate document in persisted index", zap.String("id", doc.ID))
			continue
		}
		ix.docs[doc.ID] = &doc
		ix.order = append(ix.order, doc.ID)
		if err := ix.lexical.Add(doc.ID, doc.Content); err != nil {
			ix.logger.Warn("failed to rebuild lexical entry", zap.String("id", doc.ID), zap.Error(err))
		}
	}
	ix.ready = true
	ix.logger.Info("index initialized", zap.Int("documents", len(ix.order)))
	return ctx.Err()
}

// Shutdown releases the index. Operations after shutdown fail with
// ErrNotInitialized.
func (ix *Index) Shutdown() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.ready = false
	return ix.lexical.Close()
}

// AddDocument adds one document and persists the new state. If the document
// carries no embedding, one is requested from the embedder. Fails with
// *DuplicateIDError when the ID is already present; a persistence failure
// rolls the in-memory insert back and propagates.
func (ix *Index) AddDocument(ctx context.Context, doc models.IndexedDocument) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.ready {
		return ErrNotInitialized
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if _, exists := ix.docs[doc.ID]; exists {
		return &DuplicateIDError{ID: doc.ID}
	}
	meta, err := doc.Metadata.Normalize()
	if err != nil {
		return fmt.Errorf("add document %s: %w", doc.ID, err)
	}
	doc.Metadata = meta
	if len(doc.Embedding) == 0 {
		vec, err := ix.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
		doc.Embedding = vec
	}
	utils.NormalizeL2(doc.Embedding)

	ix.insertLocked(&doc)
	if err := ix.store.Save(ix.snapshotLocked()); err != nil {
		ix.removeLocked(doc.ID)
		return err
	}
	return nil
}

// AddDocuments adds a batch, continuing past individual failures; one bad
// entry never aborts the rest. The new state is persisted once at the end.
func (ix *Index) AddDocuments(ctx context.Context, docs []models.IndexedDocument) (models.BatchResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var res models.BatchResult
	if !ix.ready {
		return res, ErrNotInitialized
	}

	var added []string
	for i := range docs {
		doc := docs[i]
		if err := ix.addOneLocked(ctx, &doc); err != nil {
			res.FailureCount++
			res.Errors = append(res.Errors, models.BatchError{ID: doc.ID, Error: err.Error()})
			continue
		}
		res.SuccessCount++
		added = append(added, doc.ID)
	}
	if len(added) == 0 {
		return res, nil
	}
	if err := ix.store.Save(ix.snapshotLocked()); err != nil {
		for _, id := range added {
			ix.removeLocked(id)
		}
		return models.BatchResult{}, err
	}
	return res, nil
}

func (ix *Index) addOneLocked(ctx context.Context, doc *models.IndexedDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if _, exists := ix.docs[doc.ID]; exists {
		return &DuplicateIDError{ID: doc.ID}
	}
	meta, err := doc.Metadata.Normalize()
	if err != nil {
		return err
	}
	doc.Metadata = meta
	if len(doc.Embedding) == 0 {
		vec, err := ix.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		doc.Embedding = vec
	}
	utils.NormalizeL2(doc.Embedding)
	ix.insertLocked(doc)
	return nil
}

// RemoveDocument removes one document and persists. Fails with *NotFoundError
// when the ID is absent.
func (ix *Index) RemoveDocument(_ context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.ready {
		return ErrNotInitialized
	}
	doc, exists := ix.docs[id]
	if !exists {
		return &NotFoundError{ID: id}
	}
	pos := 0
	for i, oid := range ix.order {
		if oid == id {
			pos = i
			break
		}
	}
	ix.removeLocked(id)
	if err := ix.store.Save(ix.snapshotLocked()); err != nil {
		// Restore at the original position so insertion-order tie-breaks
		// are unaffected by a failed removal.
		ix.docs[id] = doc
		ix.order = append(ix.order[:pos], append([]string{id}, ix.order[pos:]...)...)
		if lerr := ix.lexical.Add(id, doc.Content); lerr != nil {
			ix.logger.Warn("failed to restore lexical entry", zap.String("id", id), zap.Error(lerr))
		}
		return err
	}
	return nil
}

// Clear empties the index and persists the empty state.
func (ix *Index) Clear(_ context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.ready {
		return ErrNotInitialized
	}
	for _, id := range ix.order {
		if err := ix.lexical.Delete(id); err != nil {
			ix.logger.Warn("failed to clear lexical entry", zap.String("id", id), zap.Error(err))
		}
	}
	ix.docs = make(map[string]*models.IndexedDocument)
	ix.order = nil
	return ix.store.Save(nil)
}

func (ix *Index) insertLocked(doc *models.IndexedDocument) {
	ix.docs[doc.ID] = doc
	ix.order = append(ix.order, doc.ID)
	if err := ix.lexical.Add(doc.ID, doc.Content); err != nil {
		ix.logger.Warn("failed to index lexical entry", zap.String("id", doc.ID), zap.Error(err))
	}
}

func (ix *Index) removeLocked(id string) {
	delete(ix.docs, id)
	for i, oid := range ix.order {
		if oid == id {
			ix.order = append(ix.order[:i], ix.order[i+1:]...)
			break
		}
	}
	if err := ix.lexical.Delete(id); err != nil {
		ix.logger.Warn("failed to delete lexical entry", zap.String("id", id), zap.Error(err))
	}
}

// snapshotLocked returns the document set in insertion order for persistence.
func (ix *Index) snapshotLocked() []models.IndexedDocument {
	out := make([]models.IndexedDocument, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, *ix.docs[id])
	}
	return out
}

// RemoveMatching removes every document whose metadata matches the filter
// (exact-match conjunction) and persists once. Returns the number removed;
// zero matches is not an error.
func (ix *Index) RemoveMatching(_ context.Context, filter models.Metadata) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if !ix.ready {
		return 0, ErrNotInitialized
	}
	if len(filter) == 0 {
		return 0, nil
	}
	filter, err := filter.Normalize()
	if err != nil {
		return 0, fmt.Errorf("remove filter: %w", err)
	}
	var matched []string
	for _, id := range ix.order {
		if ix.docs[id].Metadata.Matches(filter) {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}
	removed := make([]*models.IndexedDocument, len(matched))
	for i, id := range matched {
		removed[i] = ix.docs[id]
	}
	prevOrder := append([]string(nil), ix.order...)
	for _, id := range matched {
		ix.removeLocked(id)
	}
	if err := ix.store.Save(ix.snapshotLocked()); err != nil {
		for _, doc := range removed {
			ix.docs[doc.ID] = doc
			if lerr := ix.lexical.Add(doc.ID, doc.Content); lerr != nil {
				ix.logger.Warn("failed to restore lexical entry", zap.String("id", doc.ID), zap.Error(lerr))
			}
		}
		ix.order = prevOrder
		return 0, err
	}
	return len(matched), nil
}

// Stats summarizes the index.
func (ix *Index) Stats() (models.IndexStats, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.ready {
		return models.IndexStats{}, ErrNotInitialized
	}
	return models.IndexStats{
		DocumentCount:      len(ix.order),
		EmbeddingDimension: ix.embedder.Dimensions(),
		IndexSizeBytes:     ix.estimateSizeLocked(),
	}, nil
}

// MemoryStatus derives the current memory-budget view. Thresholds: below 80%
// of budget is ok, 80-95% warning, 95-100% critical, above budget exceeded.
func (ix *Index) MemoryStatus() (models.MemoryStatus, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if !ix.ready {
		return models.MemoryStatus{}, ErrNotInitialized
	}
	used := ix.estimateSizeLocked()
	pct := 0.0
	if ix.budgetBytes > 0 {
		pct = float64(used) / float64(ix.budgetBytes) * 100
	}
	level := models.MemoryOK
	switch {
	case pct > 100:
		level = models.MemoryExceeded
	case pct >= 95:
		level = models.MemoryCritical
	case pct >= 80:
		level = models.MemoryWarning
	}
	avail := ix.budgetBytes - used
	if avail < 0 {
		avail = 0
	}
	return models.MemoryStatus{
		UsedBytes:      used,
		BudgetBytes:    ix.budgetBytes,
		AvailableBytes: avail,
		PercentUsed:    pct,
		DocumentCount:  len(ix.order),
		Status:         level,
	}, nil
}

func (ix *Index) estimateSizeLocked() int64 {
	var total int64
	for _, doc := range ix.docs {
		total += int64(len(doc.Content)) + int64(len(doc.Embedding)*4) + perDocumentOverhead
	}
	return total
}

// sortScored orders results descending by score. sort.SliceStable preserves
// the insertion-order construction of the slice, so ties resolve
// deterministically by insertion order.
func sortScored(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
