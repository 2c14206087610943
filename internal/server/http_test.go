package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nexora/rag/internal/auth"
	"github.com/nexora/rag/internal/crawler"
	"github.com/nexora/rag/internal/embedder"
	"github.com/nexora/rag/internal/ingestion"
	"github.com/nexora/rag/internal/llm"
	"github.com/nexora/rag/internal/memory"
	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/service"
	"github.com/nexora/rag/internal/vectorstore"
)

// --- in-memory backends ---

type memChunkRepo struct {
	mu     sync.Mutex
	chunks map[string]*repository.Chunk
}

func newMemChunkRepo() *memChunkRepo {
	return &memChunkRepo{chunks: make(map[string]*repository.Chunk)}
}

func (r *memChunkRepo) Put(_ context.Context, c *repository.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.chunks[c.ID] = &cp
	return nil
}

func (r *memChunkRepo) SourceExists(_ context.Context, tenantID, sourceRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chunks {
		if c.TenantID == tenantID && c.SourceRef == sourceRef {
			return true, nil
		}
	}
	return false, nil
}

func (r *memChunkRepo) List(_ context.Context, tenantID string, filter repository.ChunkFilter, limit, offset int) ([]*repository.Chunk, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*repository.Chunk
	for _, c := range r.chunks {
		if c.TenantID != tenantID {
			continue
		}
		if filter.SourceKind != "" && c.SourceKind != filter.SourceKind {
			continue
		}
		if filter.SourceRef != "" && c.SourceRef != filter.SourceRef {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *memChunkRepo) GetMany(_ context.Context, tenantID string, ids []string) ([]*repository.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Chunk
	for _, id := range ids {
		if c, ok := r.chunks[id]; ok && c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memChunkRepo) DeleteBySource(_ context.Context, tenantID, sourceRef string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.chunks {
		if c.TenantID == tenantID && c.SourceRef == sourceRef {
			delete(r.chunks, id)
			n++
		}
	}
	return n, nil
}

func (r *memChunkRepo) DeleteByID(_ context.Context, tenantID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chunks[id]; ok && c.TenantID == tenantID {
		delete(r.chunks, id)
		return true, nil
	}
	return false, nil
}

func (r *memChunkRepo) Stats(_ context.Context, tenantID string) (*repository.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &repository.Stats{}
	bySource := make(map[string]*repository.SourceStat)
	for _, c := range r.chunks {
		if c.TenantID != tenantID {
			continue
		}
		stats.TotalChunks++
		if s, ok := bySource[c.SourceRef]; ok {
			s.Count++
		} else {
			bySource[c.SourceRef] = &repository.SourceStat{SourceRef: c.SourceRef, Kind: c.SourceKind, Count: 1}
		}
	}
	for _, s := range bySource {
		stats.Sources = append(stats.Sources, *s)
	}
	stats.UniqueSources = len(stats.Sources)
	return stats, nil
}

func (r *memChunkRepo) VectorsForTenant(_ context.Context, tenantID string) ([]repository.StoredVector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.StoredVector
	for _, c := range r.chunks {
		if c.TenantID == tenantID && c.Embedding != nil {
			out = append(out, repository.StoredVector{ChunkID: c.ID, Vector: c.Embedding})
		}
	}
	return out, nil
}

type memTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]*repository.Tenant
}

func newMemTenantRepo() *memTenantRepo {
	return &memTenantRepo{tenants: make(map[string]*repository.Tenant)}
}

func (r *memTenantRepo) Create(_ context.Context, t *repository.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tenants[t.ID] = &cp
	return nil
}

func (r *memTenantRepo) GetByID(_ context.Context, id string) (*repository.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memTenantRepo) GetByAPIKeyHash(_ context.Context, hash string) (*repository.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.APIKeyHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memTenantRepo) List(context.Context, int, int) ([]*repository.Tenant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.Tenant
	for _, t := range r.tenants {
		cp := *t
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (r *memTenantRepo) Update(_ context.Context, t *repository.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *t
	r.tenants[t.ID] = &cp
	return nil
}

func (r *memTenantRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, id)
	return nil
}

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*repository.CrawlJob
}

func newMemJobRepo() *memJobRepo { return &memJobRepo{jobs: make(map[string]*repository.CrawlJob)} }

func (r *memJobRepo) Create(_ context.Context, job *repository.CrawlJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memJobRepo) GetByID(_ context.Context, tenantID, id string) (*repository.CrawlJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok && j.TenantID == tenantID {
		cp := *j
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memJobRepo) List(_ context.Context, tenantID string, status repository.JobStatus, limit, offset int) ([]*repository.CrawlJob, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.CrawlJob
	for _, j := range r.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (r *memJobRepo) Update(_ context.Context, job *repository.CrawlJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.jobs[job.ID]; ok && existing.Status.Terminal() {
		return repository.ErrNotFound
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

type memChatRepo struct {
	mu       sync.Mutex
	sessions map[string]*repository.ChatSession
}

func newMemChatRepo() *memChatRepo {
	return &memChatRepo{sessions: make(map[string]*repository.ChatSession)}
}

func (r *memChatRepo) AppendMessages(_ context.Context, tenantID, sessionID string, msgs []repository.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tenantID + "/" + sessionID
	s, ok := r.sessions[key]
	if !ok {
		s = &repository.ChatSession{SessionID: sessionID, TenantID: tenantID}
		r.sessions[key] = s
	}
	s.Messages = append(s.Messages, msgs...)
	s.LastActive = time.Now()
	return nil
}

func (r *memChatRepo) GetSession(_ context.Context, tenantID, sessionID string) (*repository.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[tenantID+"/"+sessionID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memChatRepo) ClearSession(_ context.Context, tenantID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, tenantID+"/"+sessionID)
	return nil
}

func (r *memChatRepo) DeleteExpired(context.Context, time.Duration) (int64, error) { return 0, nil }

type unitEmbedder struct{}

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

func (unitEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (unitEmbedder) Dimension() int    { return 2 }
func (unitEmbedder) ModelName() string { return "unit" }

type cannedLLM struct{ answer string }

func (l *cannedLLM) Generate(context.Context, string, llm.GenerateOptions) (string, error) {
	return l.answer, nil
}

func (l *cannedLLM) GenerateStream(context.Context, string, llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, tok := range strings.SplitAfter(l.answer, " ") {
			out <- llm.StreamChunk{Token: tok}
		}
		out <- llm.StreamChunk{Done: true}
	}()
	return out, nil
}

func (l *cannedLLM) ModelName() string { return "canned" }

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

// --- harness ---

type harness struct {
	router     http.Handler
	tenantRepo *memTenantRepo
	chunkRepo  *memChunkRepo
	tenantSvc  *service.TenantService
	pinger     *fakePinger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tenantRepo := newMemTenantRepo()
	chunkRepo := newMemChunkRepo()
	jobRepo := newMemJobRepo()
	chatRepo := newMemChatRepo()
	pinger := &fakePinger{}

	cache := embedder.NewCache(unitEmbedder{}, 16)
	index := vectorstore.NewTieredIndex(nil, vectorstore.NewFallback(chunkRepo), nil)
	model := &cannedLLM{answer: "The docs say yes."}

	mem := memory.NewStore(20, time.Hour)
	t.Cleanup(mem.Close)
	recorder := memory.NewRecorder(chatRepo, time.Hour, nil)
	t.Cleanup(recorder.Close)

	pipeline := ingestion.NewPipeline(ingestion.NewChunker(500, 50), cache, chunkRepo, index, nil)
	files := ingestion.NewFileIngestor(pipeline)
	orchestrator := crawler.New(pipeline, jobRepo, crawler.Config{Delay: time.Millisecond}, nil)
	t.Cleanup(orchestrator.Close)

	jwtManager := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	keys := auth.NewKeyResolver(tenantRepo, true)

	ragSvc := service.NewRAGService(cache, index, chunkRepo, chatRepo, model, mem, recorder, 5, 0, nil)
	documentSvc := service.NewDocumentService(chunkRepo, index, nil)
	tenantSvc := service.NewTenantService(tenantRepo, chunkRepo, index, jwtManager, nil)
	statusSvc := service.NewStatusService(pinger, index, cache, cache, model, chunkRepo)

	srv, err := NewHTTPServer(HTTPServerConfig{Port: 0}, Services{
		RAG:       ragSvc,
		Documents: documentSvc,
		Tenants:   tenantSvc,
		Status:    statusSvc,
		Crawler:   orchestrator,
		Files:     files,
		Jobs:      jobRepo,
		JWT:       jwtManager,
		Keys:      keys,
		DB:        pinger,
	})
	if err != nil {
		t.Fatalf("new http server: %v", err)
	}

	return &harness{
		router:     srv.GetRouter(),
		tenantRepo: tenantRepo,
		chunkRepo:  chunkRepo,
		tenantSvc:  tenantSvc,
		pinger:     pinger,
	}
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) createTenant(t *testing.T) (id, apiKey, token string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/tenants", map[string]string{"name": "Acme"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tenant: status %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Tenant struct {
			ID string `json:"id"`
		} `json:"tenant"`
		APIKey string `json:"api_key"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.Tenant.ID, resp.APIKey, resp.Token
}

func (h *harness) seedChunk(t *testing.T, tenantID, body string) {
	t.Helper()
	err := h.chunkRepo.Put(context.Background(), &repository.Chunk{
		ID:         "seed-" + body,
		TenantID:   tenantID,
		SourceRef:  "https://docs.example/page",
		SourceKind: repository.SourceWeb,
		Title:      "Docs",
		Body:       body,
		Embedding:  []float32{1, 0},
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
}

// --- tests ---

func TestHTTP_Health(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: status %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/readyz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz: status %d", rec.Code)
	}

	h.pinger.err = errors.New("db down")
	rec = h.do(t, http.MethodGet, "/readyz", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with dead db: status %d", rec.Code)
	}
}

func TestHTTP_TenantLifecycle(t *testing.T) {
	h := newHarness(t)
	_, apiKey, token := h.createTenant(t)

	if !strings.HasPrefix(apiKey, "nx_") {
		t.Errorf("unexpected api key %q", apiKey)
	}

	// Bearer token works on the dashboard surface.
	rec := h.do(t, http.MethodGet, "/api/tenants/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("get tenant: status %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"Acme"`) {
		t.Errorf("unexpected tenant body: %s", rec.Body)
	}

	// API key exchanges for a fresh token.
	rec = h.do(t, http.MethodPost, "/api/auth/token", nil, map[string]string{"X-API-Key": apiKey})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "token") {
		t.Errorf("issue token: status %d, body %s", rec.Code, rec.Body)
	}

	// Invalid credentials are refused.
	rec = h.do(t, http.MethodPost, "/api/auth/token", nil, map[string]string{"X-API-Key": "nx_wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad key: status %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/api/tenants/me", nil, map[string]string{
		"Authorization": "Bearer garbage",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status %d", rec.Code)
	}
}

func TestHTTP_ChatAnswersFromOwnCorpus(t *testing.T) {
	h := newHarness(t)
	tenantID, apiKey, _ := h.createTenant(t)
	h.seedChunk(t, tenantID, "The product supports exporting to CSV.")

	rec := h.do(t, http.MethodPost, "/api/chat", map[string]any{
		"message":    "can I export?",
		"session_id": "s1",
	}, map[string]string{"X-API-Key": apiKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Answer         string `json:"answer"`
		FoundDocuments int    `json:"found_documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	if resp.Answer != "The docs say yes." {
		t.Errorf("unexpected answer %q", resp.Answer)
	}
	if resp.FoundDocuments != 1 {
		t.Errorf("expected 1 found document, got %d", resp.FoundDocuments)
	}
}

func TestHTTP_ChatIsolatedBetweenTenants(t *testing.T) {
	h := newHarness(t)
	tenantA, _, _ := h.createTenant(t)
	h.seedChunk(t, tenantA, "Tenant A private data.")

	rec := h.do(t, http.MethodPost, "/api/tenants", map[string]string{"name": "Other"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create second tenant: %d", rec.Code)
	}
	var other struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &other); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = h.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "what data?"},
		map[string]string{"X-API-Key": other.APIKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d", rec.Code)
	}
	var resp struct {
		FoundDocuments int `json:"found_documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.FoundDocuments != 0 {
		t.Errorf("second tenant must not see first tenant's chunks, found %d", resp.FoundDocuments)
	}
}

func TestHTTP_ChatRequiresAuth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "hi"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestHTTP_SuspendedTenantRefused(t *testing.T) {
	h := newHarness(t)
	tenantID, apiKey, token := h.createTenant(t)

	if _, err := h.tenantSvc.SetStatus(context.Background(), tenantID, repository.TenantSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	rec := h.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "hi"},
		map[string]string{"X-API-Key": apiKey})
	if rec.Code != http.StatusForbidden {
		t.Errorf("suspended key: status %d, want 403", rec.Code)
	}

	// Bearer tokens are cut off immediately too, not at expiry.
	rec = h.do(t, http.MethodGet, "/api/tenants/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("suspended token: status %d, want 403", rec.Code)
	}
}

func TestHTTP_ChatStreamSSE(t *testing.T) {
	h := newHarness(t)
	tenantID, apiKey, _ := h.createTenant(t)
	h.seedChunk(t, tenantID, "Streaming works over SSE.")

	rec := h.do(t, http.MethodPost, "/api/chat/stream", map[string]any{
		"message":    "does streaming work?",
		"session_id": "s1",
	}, map[string]string{"X-API-Key": apiKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat stream: status %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	body := rec.Body.String()
	for _, event := range []string{"event: sources", "event: token", "event: done"} {
		if !strings.Contains(body, event) {
			t.Errorf("stream missing %q:\n%s", event, body)
		}
	}
	if !strings.Contains(body, "found_documents") {
		t.Error("sources event missing retrieval metadata")
	}
}

func TestHTTP_DocumentEndpoints(t *testing.T) {
	h := newHarness(t)
	tenantID, _, token := h.createTenant(t)
	h.seedChunk(t, tenantID, "Listable content for the documents API.")
	bearer := map[string]string{"Authorization": "Bearer " + token}

	rec := h.do(t, http.MethodGet, "/api/documents", nil, bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("list documents: status %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("expected 1 document, got %d", page.Total)
	}

	rec = h.do(t, http.MethodGet, "/api/documents/stats", nil, bearer)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "total_chunks") {
		t.Errorf("stats: status %d, body %s", rec.Code, rec.Body)
	}

	rec = h.do(t, http.MethodDelete, "/api/documents", nil, bearer)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("delete without selector: status %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodDelete, "/api/documents?doc_id=missing-chunk", nil, bearer)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown chunk: status %d, want 404", rec.Code)
	}

	rec = h.do(t, http.MethodDelete, "/api/documents?source_url=https://docs.example/page", nil, bearer)
	if rec.Code != http.StatusOK {
		t.Errorf("delete source: status %d, body %s", rec.Code, rec.Body)
	}

	rec = h.do(t, http.MethodDelete, "/api/documents?source_url=https://docs.example/page", nil, bearer)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing source: status %d, want 404", rec.Code)
	}
}

func TestHTTP_StatusEndpoint(t *testing.T) {
	h := newHarness(t)
	tenantID, apiKey, _ := h.createTenant(t)
	h.seedChunk(t, tenantID, "Counted by the status report.")

	rec := h.do(t, http.MethodGet, "/api/status", nil, map[string]string{"X-API-Key": apiKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var status struct {
		Status        string `json:"status"`
		TotalChunks   int    `json:"total_chunks"`
		UniqueSources int    `json:"unique_sources"`
		VectorBackend string `json:"vector_backend"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("unexpected status %q", status.Status)
	}
	if status.TotalChunks != 1 || status.UniqueSources != 1 {
		t.Errorf("expected corpus totals 1/1, got %d/%d", status.TotalChunks, status.UniqueSources)
	}
	if status.VectorBackend != "linear_scan" {
		t.Errorf("expected linear_scan backend, got %q", status.VectorBackend)
	}
}

func TestHTTP_FileUploadRejectsUnsupportedType(t *testing.T) {
	h := newHarness(t)
	_, _, token := h.createTenant(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("plain text body")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported upload: status %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unsupported_file_type") {
		t.Errorf("unexpected error body: %s", rec.Body)
	}
}

func TestHTTP_CrawlJobValidation(t *testing.T) {
	h := newHarness(t)
	_, _, token := h.createTenant(t)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	rec := h.do(t, http.MethodPost, "/api/ingest/url", map[string]any{"url": "not a url"}, bearer)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid seed url: status %d, want 400", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/ingest/url/nonexistent", nil, bearer)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: status %d, want 404", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/ingest/jobs", nil, bearer)
	if rec.Code != http.StatusOK {
		t.Errorf("list jobs: status %d", rec.Code)
	}
}

func TestHTTP_StartCrawlResponse(t *testing.T) {
	h := newHarness(t)
	_, _, token := h.createTenant(t)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	// Discard port: the background worker fails fast without network access.
	rec := h.do(t, http.MethodPost, "/api/ingest/url", map[string]any{"url": "http://127.0.0.1:9/"}, bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("start crawl: status %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		JobID   string `json:"job_id"`
		Status  string `json:"status"`
		URL     string `json:"url"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID == "" {
		t.Error("response missing job_id")
	}
	if resp.Status != "queued" {
		t.Errorf("expected queued status, got %q", resp.Status)
	}
	if resp.URL != "http://127.0.0.1:9/" {
		t.Errorf("unexpected url %q", resp.URL)
	}
	if resp.Message == "" {
		t.Error("response missing message")
	}
}
