package config

// ApplyDefaults fills zero-valued fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = ".konkyo/data"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = ".konkyo/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 500
	}
	if cfg.Retrieval.ChunkOverlap == 0 {
		cfg.Retrieval.ChunkOverlap = 50
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}
	if cfg.Retrieval.SemanticWeight == 0 && cfg.Retrieval.KeywordWeight == 0 {
		cfg.Retrieval.SemanticWeight = 0.8
		cfg.Retrieval.KeywordWeight = 0.2
	}
	if cfg.Retrieval.MaxContextTokens == 0 {
		cfg.Retrieval.MaxContextTokens = 4000
	}
	if cfg.Retrieval.TimeoutSeconds == 0 {
		cfg.Retrieval.TimeoutSeconds = 10
	}
	if cfg.Memory.BudgetBytes == 0 {
		cfg.Memory.BudgetBytes = 500 * 1024 * 1024
	}
}
