package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/konkyo/internal/assembler"
	"github.com/hyperjump/konkyo/internal/index"
	"github.com/hyperjump/konkyo/internal/models"
	"github.com/hyperjump/konkyo/internal/prompt"
	"github.com/hyperjump/konkyo/internal/retriever"
)

type queryRequest struct {
	Query            string          `json:"query"`
	TopK             int             `json:"top_k,omitempty"`
	Threshold        float64         `json:"threshold,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	IncludeCitations *bool           `json:"include_citations,omitempty"`
	Format           string          `json:"format,omitempty"`
	Filter           models.Metadata `json:"filter,omitempty"`
	SystemPrompt     string          `json:"system_prompt,omitempty"`
}

type queryResponse struct {
	Grounded bool                    `json:"grounded"`
	Prompt   models.AugmentedPrompt  `json:"prompt"`
	Context  models.RetrievedContext `json:"context"`
}

// handleQuery runs retrieval and prompt augmentation for one chat turn.
// Retrieval failure is not an HTTP error: the client still gets a usable
// (ungrounded) prompt, flagged by grounded=false.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))

	ropts := retriever.RetrieveOptions{
		TopK:             req.TopK,
		Threshold:        req.Threshold,
		MaxTokens:        req.MaxTokens,
		IncludeCitations: req.IncludeCitations,
		Format:           assembler.Format(req.Format),
		Filter:           req.Filter,
	}
	popts := prompt.DefaultOptions()
	popts.SystemPromptPrefix = req.SystemPrompt
	if req.IncludeCitations != nil {
		popts.IncludeCitations = *req.IncludeCitations
	}

	rctx, err := s.service.RetrieveContext(r.Context(), req.Query, ropts)
	if err != nil {
		s.logger.Warn("retrieval failed, answering ungrounded", zap.Error(err))
		s.respondJSON(w, http.StatusOK, queryResponse{
			Grounded: false,
			Prompt:   prompt.BuildStandardPrompt(req.SystemPrompt),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, queryResponse{
		Grounded: true,
		Prompt:   prompt.BuildAugmentedPrompt(rctx, popts),
		Context:  rctx,
	})
}

type addDocumentsRequest struct {
	Documents []models.IndexedDocument `json:"documents"`
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	var req addDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, http.StatusBadRequest, "documents are required")
		return
	}
	s.logger.Debug("add documents request", zap.Int("count", len(req.Documents)))
	batch, err := s.service.AddDocuments(r.Context(), req.Documents)
	if err != nil {
		s.logger.Error("add documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusCreated
	if batch.FailureCount > 0 {
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, batch)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.service.RemoveDocument(r.Context(), id); err != nil {
		var nf *index.NotFoundError
		if errors.As(err, &nf) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type ingestFilesRequest struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleIngestFiles(w http.ResponseWriter, r *http.Request) {
	var req ingestFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		s.respondError(w, http.StatusBadRequest, "paths are required")
		return
	}
	s.logger.Debug("ingest files request", zap.Strings("paths", req.Paths))
	batch := s.service.IngestFiles(r.Context(), req.Paths)
	if s.watch != nil {
		for _, p := range req.Paths {
			if err := s.watch.Watch(p); err != nil {
				s.logger.Warn("failed to watch ingested file", zap.String("path", p), zap.Error(err))
			}
		}
	}
	status := http.StatusCreated
	if batch.FailureCount > 0 {
		status = http.StatusMultiStatus
	}
	s.respondJSON(w, status, batch)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	s.logger.Debug("remove file request", zap.String("path", path))
	removed, err := s.service.RemoveFile(r.Context(), path)
	if err != nil {
		s.logger.Error("remove file failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.watch != nil {
		s.watch.Unwatch(path)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"path": path, "removed": removed})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("clear request")
	if err := s.service.Clear(r.Context()); err != nil {
		s.logger.Error("clear failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats()
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	mem, err := s.service.MemoryStatus()
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"stats":  stats,
		"memory": mem,
	}
	if s.watch != nil {
		resp["watched_files"] = s.watch.Files()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
