package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nexora/rag/internal/auth"
	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/service"
)

// maxUploadBytes bounds multipart file uploads.
const maxUploadBytes = 32 << 20

type handlers struct {
	svcs   Services
	logger *slog.Logger
}

func (h *handlers) mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/tenants", h.createTenant)
		r.Post("/auth/token", h.issueToken)

		r.Group(func(r chi.Router) {
			r.Use(h.apiKeyAuth)
			r.Post("/chat/widget", h.chat)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.anyAuth)
			r.Post("/chat", h.chat)
			r.Post("/chat/stream", h.chatStream)
			r.Get("/chat/history", h.chatHistory)
			r.Post("/chat/clear-history", h.clearHistory)
			r.Get("/status", h.status)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.jwtAuth)
			r.Get("/tenants/me", h.getTenant)
			r.Patch("/tenants/me", h.updateTenant)
			r.Post("/tenants/me/rotate-key", h.rotateKey)

			r.Post("/ingest/url", h.startCrawl)
			r.Get("/ingest/jobs", h.listJobs)
			r.Get("/ingest/url/{jobID}", h.getJob)
			r.Post("/ingest/url/{jobID}/cancel", h.cancelJob)
			r.Post("/ingest/file", h.ingestFile)

			r.Get("/documents", h.listDocuments)
			r.Delete("/documents", h.deleteDocuments)
			r.Get("/documents/stats", h.documentStats)
		})
	})
}

// --- tenants ---

func (h *handlers) createTenant(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	resp, err := h.svcs.Tenants.Create(r.Context(), req)
	if err != nil {
		if err == service.ErrNameRequired {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// issueToken exchanges a valid API key for a bearer token.
func (h *handlers) issueToken(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.svcs.Keys.Resolve(r.Context(), r.Header.Get("X-API-Key"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	token, err := h.svcs.JWT.GenerateToken(tenant.ID, tenant.Name)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handlers) getTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	view, err := h.svcs.Tenants.Get(r.Context(), tenant.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) updateTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	var req struct {
		Name        string `json:"name"`
		PersonaName string `json:"persona_name"`
		Personality string `json:"personality"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	view, err := h.svcs.Tenants.UpdatePersona(r.Context(), tenant.ID, req.Name, req.PersonaName, req.Personality)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) rotateKey(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	key, err := h.svcs.Tenants.RotateKey(r.Context(), tenant.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
}

// --- chat ---

type chatRequest struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id"`
	UseHistory bool   `json:"use_history"`
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	resp, err := h.svcs.RAG.Query(r.Context(), service.QueryRequest{
		TenantID:   tenant.ID,
		SessionID:  req.SessionID,
		Message:    req.Message,
		UseHistory: req.UseHistory,
		Persona:    service.Persona{Name: tenant.PersonaName, Personality: tenant.Personality},
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// chatStream answers over SSE: a "sources" event with the retrieval
// metadata, "token" events with text fragments, then "done".
func (h *handlers) chatStream(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	retrieval, stream, err := h.svcs.RAG.QueryStream(r.Context(), service.QueryRequest{
		TenantID:   tenant.ID,
		SessionID:  req.SessionID,
		Message:    req.Message,
		UseHistory: req.UseHistory,
		Persona:    service.Persona{Name: tenant.PersonaName, Personality: tenant.Personality},
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "sources", map[string]any{
		"sources":         retrieval.Sources,
		"found_documents": retrieval.FoundDocuments,
	})
	flusher.Flush()

	for chunk := range stream {
		if chunk.Error != nil {
			writeSSE(w, "error", map[string]string{"message": chunk.Error.Error()})
			flusher.Flush()
			return
		}
		if chunk.Token != "" {
			writeSSE(w, "token", map[string]string{"token": chunk.Token})
			flusher.Flush()
		}
	}
	writeSSE(w, "done", map[string]string{"session_id": req.SessionID})
	flusher.Flush()
}

func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (h *handlers) chatHistory(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	msgs, err := h.svcs.RAG.History(r.Context(), tenant.ID, sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []repository.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": msgs})
}

func (h *handlers) clearHistory(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	if err := h.svcs.RAG.ClearHistory(r.Context(), tenant.ID, req.SessionID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// --- ingestion ---

type startCrawlRequest struct {
	URL         string `json:"url"`
	MaxDepth    int    `json:"max_depth"`
	FollowLinks bool   `json:"follow_links"`
	UseBrowser  bool   `json:"use_browser"`
	MaxPages    int    `json:"max_pages"`
}

type jobView struct {
	JobID         string     `json:"job_id"`
	SeedURL       string     `json:"url"`
	Status        string     `json:"status"`
	PagesCrawled  int        `json:"pages_crawled"`
	ChunksCreated int        `json:"chunks_created"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func toJobView(job *repository.CrawlJob) jobView {
	return jobView{
		JobID:         job.ID,
		SeedURL:       job.SeedURL,
		Status:        string(job.Status),
		PagesCrawled:  job.PagesCrawled,
		ChunksCreated: job.ChunksCreated,
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
}

func (h *handlers) startCrawl(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	job, err := h.svcs.Crawler.Start(r.Context(), tenant.ID, req.URL, repository.CrawlOptions{
		MaxDepth:    req.MaxDepth,
		FollowLinks: req.FollowLinks,
		UseBrowser:  req.UseBrowser,
		MaxPages:    req.MaxPages,
	})
	if err != nil {
		if err == repository.ErrMissingTenant {
			writeServiceError(w, h.logger, err)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		jobView
		Message string `json:"message"`
	}{toJobView(job), "crawl job queued"})
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	job, err := h.svcs.Jobs.GetByID(r.Context(), tenant.ID, chi.URLParam(r, "jobID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobView(job))
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	limit, offset := pageParams(r, 20)
	status := repository.JobStatus(r.URL.Query().Get("status"))

	jobs, total, err := h.svcs.Jobs.List(r.Context(), tenant.ID, status, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	views := make([]jobView, len(jobs))
	for i, job := range jobs {
		views[i] = toJobView(job)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   views,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	jobID := chi.URLParam(r, "jobID")
	if err := h.svcs.Crawler.Cancel(r.Context(), tenant.ID, jobID); err != nil {
		if err == repository.ErrNotFound {
			writeServiceError(w, h.logger, err)
			return
		}
		writeError(w, http.StatusConflict, "job_finished", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelling"})
}

func (h *handlers) ingestFile(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read upload")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "upload exceeds 32MB limit")
		return
	}

	result, err := h.svcs.Files.Ingest(r.Context(), tenant.ID, header.Filename, data)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- documents ---

func (h *handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	limit, offset := pageParams(r, 20)
	filter := repository.ChunkFilter{
		SourceKind: repository.SourceKind(r.URL.Query().Get("source_type")),
		SourceRef:  r.URL.Query().Get("source_ref"),
	}
	page, err := h.svcs.Documents.List(r.Context(), tenant.ID, filter, limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// deleteDocuments removes one chunk by id, or a whole source by ref.
func (h *handlers) deleteDocuments(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	id := r.URL.Query().Get("doc_id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id != "" {
		if err := h.svcs.Documents.DeleteChunk(r.Context(), tenant.ID, id); err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": 1})
		return
	}
	ref := r.URL.Query().Get("source_url")
	if ref == "" {
		ref = r.URL.Query().Get("source_ref")
	}
	if ref != "" {
		n, err := h.svcs.Documents.DeleteSource(r.Context(), tenant.ID, ref)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "doc_id or source_url is required")
}

func (h *handlers) documentStats(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	stats, err := h.svcs.Documents.Stats(r.Context(), tenant.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- status ---

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	tenant, err := auth.RequireTenant(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svcs.Status.Report(r.Context(), tenant.ID))
}

func pageParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
