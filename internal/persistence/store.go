// Package persistence provides durable storage for the document index:
// atomic saves, a one-generation backup, and corruption recovery on load.
package persistence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/konkyo/internal/models"
)

// CurrentVersion is the on-disk envelope schema version.
const CurrentVersion = 1

// Default file names inside the storage directory.
const (
	PrimaryFileName = "index.json"
	BackupFileName  = "index.backup.json"
)

// Envelope is the persisted index file layout. The JSON keys are part of the
// on-disk contract and must not change.
type Envelope struct {
	Version            int                      `json:"version"`
	Timestamp          int64                    `json:"timestamp"` // epoch milliseconds
	DocumentCount      int                      `json:"documentCount"`
	EmbeddingDimension int                      `json:"embeddingDimension"`
	Documents          []models.IndexedDocument `json:"documents"`
}

// SaveError reports a durability failure. Save failures are fatal to the
// mutation that triggered them and always propagate to the caller.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("persistence: save %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Store persists the document set under a dedicated storage directory.
// The primary file holds the latest saved state; the backup file always holds
// the state as of the previous successful save.
type Store struct {
	dir       string
	primary   string
	backup    string
	dimension int
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a logger for recovery and soft-validation warnings.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a store rooted at dir. dimension is the embedding
// dimension recorded in saved envelopes.
func NewStore(dir string, dimension int, opts ...Option) *Store {
	s := &Store{
		dir:       dir,
		primary:   filepath.Join(dir, PrimaryFileName),
		backup:    filepath.Join(dir, BackupFileName),
		dimension: dimension,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes the document set durably:
//  1. ensure the storage directory exists,
//  2. copy the current primary (if any) to the backup slot,
//  3. serialize to a temporary file and atomically rename it over the primary.
//
// Any I/O failure returns a *SaveError; durability failures are never swallowed.
func (s *Store) Save(docs []models.IndexedDocument) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &SaveError{Path: s.dir, Err: err}
	}
	if _, err := os.Stat(s.primary); err == nil {
		if err := copyFile(s.primary, s.backup); err != nil {
			return &SaveError{Path: s.backup, Err: err}
		}
	}

	env := Envelope{
		Version:            CurrentVersion,
		Timestamp:          time.Now().UnixMilli(),
		DocumentCount:      len(docs),
		EmbeddingDimension: s.dimension,
		Documents:          docs,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return &SaveError{Path: s.primary, Err: err}
	}

	tmp, err := os.CreateTemp(s.dir, "index-*.tmp")
	if err != nil {
		return &SaveError{Path: s.dir, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &SaveError{Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &SaveError{Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, s.primary); err != nil {
		os.Remove(tmpName)
		return &SaveError{Path: s.primary, Err: err}
	}
	return nil
}

// Load reads the persisted document set. When the primary file is missing,
// unparsable, or fails hard schema validation, it falls back to the backup;
// a valid backup is promoted to become the new primary. When neither file is
// usable, Load reports "no data" (nil documents) rather than an error —
// load-time corruption self-heals and never aborts initialization.
// recovered is true when the returned documents came from the backup.
func (s *Store) Load() (docs []models.IndexedDocument, recovered bool) {
	if docs, ok := s.loadFile(s.primary); ok {
		return docs, false
	}

	docs, ok := s.loadFile(s.backup)
	if !ok {
		return nil, false
	}
	s.logger.Warn("primary index corrupt or missing, recovered from backup",
		zap.String("primary", s.primary),
		zap.String("backup", s.backup),
		zap.Int("documents", len(docs)))
	if err := copyFile(s.backup, s.primary); err != nil {
		s.logger.Warn("failed to promote backup to primary", zap.Error(err))
	}
	return docs, true
}

// loadFile reads and validates one index file. ok is false when the file is
// absent, unparsable, or hard-invalid.
func (s *Store) loadFile(path string) ([]models.IndexedDocument, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read index file", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("failed to parse index file", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	result := ValidateEnvelope(&env)
	if !result.Valid {
		s.logger.Warn("index file failed schema validation",
			zap.String("path", path),
			zap.Strings("problems", result.Problems))
		return nil, false
	}
	for _, w := range result.Warnings {
		s.logger.Warn("index file soft validation", zap.String("path", path), zap.String("issue", w))
	}
	return env.Documents, true
}

// Exists reports whether the primary index file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.primary)
	return err == nil
}

// Delete removes the primary and backup files. Missing files are not an error.
func (s *Store) Delete() error {
	for _, path := range []string{s.primary, s.backup} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("persistence: delete %s: %w", path, err)
		}
	}
	return nil
}

// PrimaryPath returns the path of the primary index file.
func (s *Store) PrimaryPath() string { return s.primary }

// BackupPath returns the path of the backup index file.
func (s *Store) BackupPath() string { return s.backup }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
