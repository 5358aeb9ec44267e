// Package main is the Konkyo CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/konkyo/internal/config"
	"github.com/hyperjump/konkyo/internal/embedding"
	"github.com/hyperjump/konkyo/internal/index"
	"github.com/hyperjump/konkyo/internal/persistence"
	"github.com/hyperjump/konkyo/internal/retriever"
	"github.com/hyperjump/konkyo/internal/server"
	"github.com/hyperjump/konkyo/internal/watcher"
	"github.com/hyperjump/konkyo/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/konkyo/config.yaml"

// ingestExtensions lists the file types ingested when a directory is given.
var ingestExtensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx"}

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		// No config anywhere is fine: run on defaults.
		if errors.Is(err, fs.ErrNotExist) {
			cfg = &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "add":
		runAdd()
	case "query":
		runQuery()
	case "remove":
		runRemove()
	case "status":
		runStatus()
	case "clear":
		runClear()
	case "version", "--version", "-v":
		fmt.Printf("konkyo version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store    *persistence.Store
	Embedder embedding.Embedder
	Index    *index.Index
	Service  *retriever.Service
}

func (c *Components) Close() {
	if c.Index != nil {
		_ = c.Index.Shutdown()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store := persistence.NewStore(cfg.Storage.DataDir, cfg.Embedding.Dimensions,
		persistence.WithLogger(logger))

	var embedder embedding.Embedder
	onnxEmbedder, err := embedding.NewONNXEmbedder(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
	)
	if err != nil {
		logger.Warn("ONNX embedder unavailable, using mock embeddings", zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		embedder = onnxEmbedder
	}

	ix, err := index.New(embedder, store,
		index.WithLogger(logger),
		index.WithWeights(cfg.Retrieval.SemanticWeight, cfg.Retrieval.KeywordWeight),
		index.WithMemoryBudget(cfg.Memory.BudgetBytes),
	)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	if err := ix.Initialize(context.Background()); err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}

	svc := retriever.New(ix, retriever.Config{
		ChunkSize:        cfg.Retrieval.ChunkSize,
		ChunkOverlap:     cfg.Retrieval.ChunkOverlap,
		TopK:             cfg.Retrieval.TopK,
		Threshold:        cfg.Retrieval.Threshold,
		MaxContextTokens: cfg.Retrieval.MaxContextTokens,
		Timeout:          time.Duration(cfg.Retrieval.TimeoutSeconds) * time.Second,
	}, retriever.WithLogger(logger))

	return &Components{
		Store:    store,
		Embedder: embedder,
		Index:    ix,
		Service:  svc,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	svc := components.Service
	var watchSvc *watcher.Watcher
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.EnabledOrDefault() {
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(
			func(path string) {
				if _, err := svc.IngestFile(context.Background(), path); err != nil {
					logger.Warn("watch reingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(path string) {
				if _, err := svc.RemoveFile(context.Background(), path); err != nil {
					logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(svc, watchSvc, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// collectFiles expands path into the list of files to ingest. Directories are
// walked recursively, filtered to the supported extensions.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(p))
		for _, e := range ingestExtensions {
			if ext == e {
				files = append(files, p)
				break
			}
		}
		return nil
	})
	return files, err
}

func runAdd() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: konkyo add [flags] <file-or-directory>...")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	var paths []string
	for _, arg := range fs.Args() {
		files, err := collectFiles(arg)
		if err != nil {
			fmt.Printf("Failed to read %s: %v\n", arg, err)
			os.Exit(1)
		}
		paths = append(paths, files...)
	}
	if len(paths) == 0 {
		fmt.Println("No ingestable files found")
		os.Exit(1)
	}

	batch := components.Service.IngestFiles(context.Background(), paths)
	fmt.Printf("Ingested %d chunk(s) from %d file(s)\n", batch.SuccessCount, len(paths))
	if batch.FailureCount > 0 {
		fmt.Printf("%d failure(s):\n", batch.FailureCount)
		for _, e := range batch.Errors {
			fmt.Printf("  %s: %s\n", e.ID, e.Error)
		}
		os.Exit(1)
	}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use local index directly)")
	topK := fs.Int("top-k", 0, "number of candidate chunks (0 = config default)")
	threshold := fs.Float64("threshold", 0, "minimum relevance score")
	maxTokens := fs.Int("max-tokens", 0, "context token budget (0 = config default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: konkyo query [flags] <query>")
		os.Exit(1)
	}
	queryStr := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if queryStr == "" {
		fmt.Println("Usage: konkyo query [flags] <query>")
		os.Exit(1)
	}

	req := map[string]interface{}{
		"query": queryStr,
	}
	if *topK > 0 {
		req["top_k"] = *topK
	}
	if *threshold > 0 {
		req["threshold"] = *threshold
	}
	if *maxTokens > 0 {
		req["max_tokens"] = *maxTokens
	}

	var raw json.RawMessage
	if *serverURL != "" {
		body, _ := json.Marshal(req)
		resp, err := http.Post(*serverURL+"/api/v1/query", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read response failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize", zap.Error(err))
		}
		defer components.Close()

		rctx, err := components.Service.RetrieveContext(context.Background(), queryStr, retriever.RetrieveOptions{
			TopK:      *topK,
			Threshold: *threshold,
			MaxTokens: *maxTokens,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Retrieval failed: %v\n", err)
			os.Exit(1)
		}
		raw, _ = json.Marshal(map[string]interface{}{"grounded": true, "context": rctx})
	}

	switch *outputFormat {
	case "json":
		var indented bytes.Buffer
		if err := json.Indent(&indented, raw, "", "  "); err != nil {
			fmt.Println(string(raw))
			return
		}
		fmt.Println(indented.String())
	case "text":
		var out struct {
			Grounded bool `json:"grounded"`
			Context  struct {
				ContextText string `json:"context_text"`
				TotalTokens int    `json:"total_tokens"`
				Sources     []struct {
					FilePath  string  `json:"file_path"`
					StartLine int     `json:"start_line"`
					EndLine   int     `json:"end_line"`
					Score     float64 `json:"score"`
				} `json:"sources"`
			} `json:"context"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		if !out.Grounded {
			fmt.Println("(retrieval unavailable; no grounded context)")
			return
		}
		if out.Context.ContextText == "" {
			fmt.Println("(no relevant context found)")
			return
		}
		fmt.Printf("%s\n\n", out.Context.ContextText)
		fmt.Printf("tokens: %d\n", out.Context.TotalTokens)
		for _, src := range out.Context.Sources {
			fmt.Printf("  %s:%d-%d (score %.3f)\n", src.FilePath, src.StartLine, src.EndLine, src.Score)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	byFile := fs.Bool("file", false, "treat the argument as a file path instead of a document ID")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: konkyo remove [flags] <document-id>")
		fmt.Println("       konkyo remove --file <path>")
		os.Exit(1)
	}
	target := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if *byFile {
		removed, err := components.Service.RemoveFile(ctx, target)
		if err != nil {
			fmt.Printf("Removal failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d chunk(s) for %s\n", removed, target)
		return
	}
	if err := components.Service.RemoveDocument(ctx, target); err != nil {
		fmt.Printf("Removal failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document removed: %s\n", target)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use local index directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var raw json.RawMessage
	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read response failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()

		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()

		stats, err := components.Service.Stats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
		mem, err := components.Service.MemoryStatus()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Memory status failed: %v\n", err)
			os.Exit(1)
		}
		raw, _ = json.Marshal(map[string]interface{}{"stats": stats, "memory": mem})
	}

	switch *outputFormat {
	case "json":
		var indented bytes.Buffer
		if err := json.Indent(&indented, raw, "", "  "); err != nil {
			fmt.Println(string(raw))
			return
		}
		fmt.Println(indented.String())
	case "text":
		var out struct {
			Stats struct {
				DocumentCount      int   `json:"document_count"`
				EmbeddingDimension int   `json:"embedding_dimension"`
				IndexSizeBytes     int64 `json:"index_size_bytes"`
			} `json:"stats"`
			Memory struct {
				UsedBytes   int64   `json:"used_bytes"`
				BudgetBytes int64   `json:"budget_bytes"`
				PercentUsed float64 `json:"percent_used"`
				Status      string  `json:"status"`
			} `json:"memory"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("documents:       %d\n", out.Stats.DocumentCount)
		fmt.Printf("embedding_dims:  %d\n", out.Stats.EmbeddingDimension)
		fmt.Printf("index_bytes:     %d\n", out.Stats.IndexSizeBytes)
		fmt.Printf("memory_used:     %d / %d (%.1f%%)\n",
			out.Memory.UsedBytes, out.Memory.BudgetBytes, out.Memory.PercentUsed)
		fmt.Printf("memory_status:   %s\n", out.Memory.Status)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runClear() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = use local index directly)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		u, err := url.JoinPath(*serverURL, "/api/v1/clear")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid server URL: %v\n", err)
			os.Exit(1)
		}
		resp, err := http.Post(u, "application/json", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Clear failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Println("Index cleared")
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if err := components.Service.Clear(context.Background()); err != nil {
		fmt.Printf("Clear failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Index cleared")
}

func printUsage() {
	fmt.Println(`konkyo - Local retrieval index for grounding chat answers in project documents

Usage:
  konkyo server [flags]            Start the HTTP server
  konkyo add [flags] <path>...     Ingest files or directories
  konkyo query [flags] <query>     Retrieve context for a query
  konkyo remove [flags] <id>       Remove a document (or --file <path>)
  konkyo status [flags]            Show index and memory status
  konkyo clear [flags]             Remove all indexed documents
  konkyo version                   Show version
  konkyo help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/konkyo/config.yaml)
  --debug            Enable debug logging

Add Flags:
  --config string    Config file path

Query Flags:
  --config string      Config file path (for direct mode)
  --server string      Server URL (default: http://localhost:8080). Use --server "" for direct mode.
  --top-k int          Number of candidate chunks
  --threshold float    Minimum relevance score
  --max-tokens int     Context token budget
  --output string      Output format: text or json (default: text)

Remove Flags:
  --config string    Config file path
  --file             Remove by file path instead of document ID

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct mode.
  --output string    Output format: text or json (default: text)

Examples:
  konkyo server
  konkyo add docs/
  konkyo query "how does the retry logic work"
  konkyo query --output json "error handling"
  konkyo remove --file docs/old.md
  konkyo status
  konkyo clear`)
}
