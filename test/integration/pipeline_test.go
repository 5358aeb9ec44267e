// Package integration provides end-to-end tests of the full retrieval pipeline.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/konkyo/internal/embedding"
	"github.com/hyperjump/konkyo/internal/index"
	"github.com/hyperjump/konkyo/internal/persistence"
	"github.com/hyperjump/konkyo/internal/prompt"
	"github.com/hyperjump/konkyo/internal/retriever"
)

const dims = 64

func newPipeline(t *testing.T, dataDir string) (*retriever.Service, *index.Index) {
	t.Helper()
	store := persistence.NewStore(dataDir, dims)
	ix, err := index.New(embedding.NewMockEmbedder(dims), store)
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	svc := retriever.New(ix, retriever.Config{ChunkSize: 60, ChunkOverlap: 10, TopK: 5})
	return svc, ix
}

func TestIntegration_IngestRetrievePrompt(t *testing.T) {
	dir := t.TempDir()
	svc, ix := newPipeline(t, filepath.Join(dir, "data"))
	defer ix.Shutdown()
	ctx := context.Background()

	docPath := filepath.Join(dir, "architecture.md")
	content := "The gateway terminates TLS and forwards requests.\n" +
		"Rate limiting is applied per API key at the gateway.\n" +
		"Background jobs run on a separate worker pool.\n"
	if err := os.WriteFile(docPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	batch, err := svc.IngestFile(ctx, docPath)
	if err != nil {
		t.Fatal(err)
	}
	if batch.SuccessCount == 0 {
		t.Fatal("no chunks indexed")
	}

	p, grounded := svc.BuildPrompt(ctx, "rate limiting per API key", retriever.RetrieveOptions{}, prompt.DefaultOptions())
	if !grounded {
		t.Fatal("expected grounded prompt")
	}
	if !p.HasContext {
		t.Fatal("expected context in prompt")
	}
	if !strings.Contains(p.SystemPrompt, "Rate limiting") {
		t.Errorf("prompt missing retrieved content:\n%s", p.SystemPrompt)
	}
	if len(p.Sources) == 0 {
		t.Error("expected source attributions")
	} else if p.Sources[0].FilePath != docPath {
		t.Errorf("source path = %q, want %q", p.Sources[0].FilePath, docPath)
	}
}

func TestIntegration_PersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	ctx := context.Background()

	svc, ix := newPipeline(t, dataDir)
	if _, err := svc.IngestText(ctx, "notes.md", "The flux capacitor requires 1.21 gigawatts.", nil); err != nil {
		t.Fatal(err)
	}
	if err := ix.Shutdown(); err != nil {
		t.Fatal(err)
	}

	// Same data directory, fresh process.
	svc2, ix2 := newPipeline(t, dataDir)
	defer ix2.Shutdown()

	rctx, err := svc2.RetrieveContext(ctx, "flux capacitor gigawatts", retriever.RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rctx.Chunks) == 0 {
		t.Fatal("persisted chunks not retrievable after restart")
	}
	if rctx.Chunks[0].FilePath != "notes.md" {
		t.Errorf("FilePath = %q", rctx.Chunks[0].FilePath)
	}
}

func TestIntegration_CorruptionRecovery(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	ctx := context.Background()

	svc, ix := newPipeline(t, dataDir)
	if _, err := svc.IngestText(ctx, "a.md", "first generation content", nil); err != nil {
		t.Fatal(err)
	}
	// A second save cycles the first generation into the backup file.
	if _, err := svc.IngestText(ctx, "b.md", "second generation content", nil); err != nil {
		t.Fatal(err)
	}
	if err := ix.Shutdown(); err != nil {
		t.Fatal(err)
	}

	// Corrupt the primary index file.
	primary := filepath.Join(dataDir, "index.json")
	if err := os.WriteFile(primary, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	svc2, ix2 := newPipeline(t, dataDir)
	defer ix2.Shutdown()

	// The backup generation must be live again.
	rctx, err := svc2.RetrieveContext(ctx, "first generation content", retriever.RetrieveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, ch := range rctx.Chunks {
		if strings.Contains(ch.Text, "first generation") {
			found = true
		}
	}
	if !found {
		t.Error("backup content not recovered after primary corruption")
	}
}
