package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  data_dir: "./data"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("data_dir should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  data_dir: "./data/index"
embedding:
  model_path: "./models/embed.onnx"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantData := filepath.Join(dir, "data", "index")
	if cfg.Storage.DataDir != wantData {
		t.Errorf("data_dir = %s, want %s", cfg.Storage.DataDir, wantData)
	}
	wantModel := filepath.Join(dir, "models", "embed.onnx")
	if cfg.Embedding.ModelPath != wantModel {
		t.Errorf("model_path = %s, want %s", cfg.Embedding.ModelPath, wantModel)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("default dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.ChunkSize != 500 {
		t.Errorf("default chunk_size: got %d", cfg.Retrieval.ChunkSize)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("default top_k: got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.SemanticWeight != 0.8 || cfg.Retrieval.KeywordWeight != 0.2 {
		t.Errorf("default weights: got semantic=%f keyword=%f",
			cfg.Retrieval.SemanticWeight, cfg.Retrieval.KeywordWeight)
	}
	if cfg.Retrieval.MaxContextTokens != 4000 {
		t.Errorf("default max_context_tokens: got %d", cfg.Retrieval.MaxContextTokens)
	}
	if cfg.Memory.BudgetBytes != 500*1024*1024 {
		t.Errorf("default budget_bytes: got %d", cfg.Memory.BudgetBytes)
	}
}

func TestApplyDefaults_keepsExplicitWeights(t *testing.T) {
	cfg := &Config{Retrieval: RetrievalConfig{SemanticWeight: 0.6, KeywordWeight: 0.4}}
	ApplyDefaults(cfg)
	if cfg.Retrieval.SemanticWeight != 0.6 || cfg.Retrieval.KeywordWeight != 0.4 {
		t.Errorf("explicit weights overwritten: semantic=%f keyword=%f",
			cfg.Retrieval.SemanticWeight, cfg.Retrieval.KeywordWeight)
	}
}

func TestWatchConfig_EnabledOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if !w.EnabledOrDefault() {
			t.Error("EnabledOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Enabled: &f}
		if w.EnabledOrDefault() {
			t.Error("EnabledOrDefault() = true, want false")
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DataDir: "/tmp/konkyo"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
