// Package service implements the application services behind the HTTP
// surface: question answering, document management, and tenant
// administration.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexora/rag/internal/embedder"
	"github.com/nexora/rag/internal/llm"
	"github.com/nexora/rag/internal/memory"
	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/reranker"
	"github.com/nexora/rag/internal/vectorstore"
)

// FallbackAnswer is returned when the model produces no usable text.
const FallbackAnswer = "I don't have enough information to answer that."

// historyTurns is how many recent messages are included in the prompt.
const historyTurns = 3

const contextSeparator = "\n================================================================================\n"

// Persona shapes the assistant's voice in the system preamble.
type Persona struct {
	Name        string `json:"name"`
	Personality string `json:"personality"`
}

// DefaultPersona is used when the tenant has not configured one.
var DefaultPersona = Persona{
	Name:        "Nexora",
	Personality: "helpful, concise, and factual",
}

// Source is one citation returned alongside an answer.
type Source struct {
	Number     int     `json:"number"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Score      float32 `json:"score"`
	ChunkIndex int     `json:"chunk_index"`
}

// Retrieval is the hydrated result of a vector search.
type Retrieval struct {
	Context        string
	Sources        []Source
	FoundDocuments int
}

// QueryRequest is a question from one tenant's session.
type QueryRequest struct {
	TenantID   string
	SessionID  string
	Message    string
	UseHistory bool
	Persona    Persona
}

// QueryResponse carries the answer with its citations.
type QueryResponse struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	FoundDocuments int      `json:"found_documents"`
	SessionID      string   `json:"session_id,omitempty"`
}

// RAGService answers questions by retrieving the asking tenant's
// highest-scoring chunks and conditioning the LLM on them.
type RAGService struct {
	embed    embedder.Embedder
	index    vectorstore.Index
	chunks   repository.ChunkRepository
	chats    repository.ChatRepository
	llm      llm.LLM
	mem      *memory.Store
	recorder *memory.Recorder
	rerank   reranker.Reranker
	logger   *slog.Logger

	topK     int
	minScore float32
}

// RAGOption configures optional RAGService behavior.
type RAGOption func(*RAGService)

// WithReranker adds an LLM reranking pass between retrieval and
// generation.
func WithReranker(r reranker.Reranker) RAGOption {
	return func(s *RAGService) {
		s.rerank = r
	}
}

// NewRAGService wires the query path.
func NewRAGService(
	embed embedder.Embedder,
	index vectorstore.Index,
	chunks repository.ChunkRepository,
	chats repository.ChatRepository,
	llmClient llm.LLM,
	mem *memory.Store,
	recorder *memory.Recorder,
	topK int,
	minScore float32,
	logger *slog.Logger,
	opts ...RAGOption,
) *RAGService {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &RAGService{
		embed:    embed,
		index:    index,
		chunks:   chunks,
		chats:    chats,
		llm:      llmClient,
		mem:      mem,
		recorder: recorder,
		logger:   logger.With("component", "rag"),
		topK:     topK,
		minScore: minScore,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query retrieves context, generates an answer, and appends the turn to
// session memory. LLM transport failures become the answer text so the
// request still succeeds at the API layer.
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if req.TenantID == "" {
		return nil, repository.ErrMissingTenant
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}

	retrieval, err := s.Retrieve(ctx, req.TenantID, message, s.topK, s.minScore)
	if err != nil {
		return nil, err
	}

	var history []repository.ChatMessage
	if req.UseHistory && req.SessionID != "" {
		history = s.mem.Recent(req.TenantID, req.SessionID, historyTurns)
	}

	persona := req.Persona
	if persona.Name == "" {
		persona = DefaultPersona
	}

	answer := s.generate(ctx, message, retrieval.Context, history, persona)

	if req.SessionID != "" {
		s.recordTurn(req.TenantID, req.SessionID, message, answer)
	}

	return &QueryResponse{
		Answer:         answer,
		Sources:        retrieval.Sources,
		FoundDocuments: retrieval.FoundDocuments,
		SessionID:      req.SessionID,
	}, nil
}

// QueryStream is the streaming variant of Query: the answer arrives as
// text fragments on the returned channel. Session memory records the
// assembled answer once the stream completes.
func (s *RAGService) QueryStream(ctx context.Context, req QueryRequest) (*Retrieval, <-chan llm.StreamChunk, error) {
	if req.TenantID == "" {
		return nil, nil, repository.ErrMissingTenant
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, nil, fmt.Errorf("message cannot be empty")
	}

	retrieval, err := s.Retrieve(ctx, req.TenantID, message, s.topK, s.minScore)
	if err != nil {
		return nil, nil, err
	}

	var history []repository.ChatMessage
	if req.UseHistory && req.SessionID != "" {
		history = s.mem.Recent(req.TenantID, req.SessionID, historyTurns)
	}
	persona := req.Persona
	if persona.Name == "" {
		persona = DefaultPersona
	}

	stream, err := s.llm.GenerateStream(ctx, buildUserPrompt(message, retrieval.Context, history), llm.GenerateOptions{
		SystemPrompt: buildSystemPrompt(persona),
		Temperature:  0.3,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("starting generation: %w", err)
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var full strings.Builder
		for chunk := range stream {
			full.WriteString(chunk.Token)
			out <- chunk
		}
		if answer := strings.TrimSpace(full.String()); answer != "" && req.SessionID != "" {
			s.recordTurn(req.TenantID, req.SessionID, message, answer)
		}
	}()

	return retrieval, out, nil
}

// Retrieve embeds the query, searches the index with the tenant filter,
// and hydrates hits against the chunk store. Hits whose chunk no longer
// exists are dropped silently.
func (s *RAGService) Retrieve(ctx context.Context, tenantID, query string, k int, minScore float32) (*Retrieval, error) {
	qv, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := s.index.Search(ctx, tenantID, qv, k, minScore)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	if len(hits) == 0 {
		return &Retrieval{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := s.chunks.GetMany(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating chunks: %w", err)
	}
	byID := make(map[string]*repository.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	type scored struct {
		chunk *repository.Chunk
		score float32
	}
	var survivors []scored
	for _, hit := range hits {
		if chunk, ok := byID[hit.ChunkID]; ok {
			survivors = append(survivors, scored{chunk: chunk, score: hit.Score})
		}
	}

	if s.rerank != nil && len(survivors) > 1 {
		candidates := make([]reranker.Candidate, len(survivors))
		for i, sv := range survivors {
			candidates[i] = reranker.Candidate{ChunkID: sv.chunk.ID, Content: sv.chunk.Body, Score: sv.score}
		}
		reranked, err := s.rerank.Rerank(ctx, query, candidates, k)
		if err != nil {
			s.logger.Warn("reranking failed, keeping vector order", "error", err)
		} else {
			reordered := make([]scored, 0, len(reranked))
			for _, c := range reranked {
				if chunk, ok := byID[c.ChunkID]; ok {
					reordered = append(reordered, scored{chunk: chunk, score: c.Score})
				}
			}
			survivors = reordered
		}
	}

	var blocks []string
	var sources []Source
	for _, sv := range survivors {
		chunk := sv.chunk
		n := len(sources) + 1
		url := sourceURL(chunk)
		blocks = append(blocks, fmt.Sprintf(
			"[Document %d]\nSource: %s\nURL: %s\nRelevance: %.2f\nContent:\n%s\n",
			n, chunk.Title, url, sv.score, chunk.Body))
		sources = append(sources, Source{
			Number:     n,
			Title:      chunk.Title,
			URL:        url,
			Score:      sv.score,
			ChunkIndex: chunk.ChunkIndex,
		})
	}
	if len(sources) == 0 {
		return &Retrieval{}, nil
	}

	return &Retrieval{
		Context:        strings.Join(blocks, contextSeparator),
		Sources:        sources,
		FoundDocuments: len(sources),
	}, nil
}

// History returns the session's history, preferring the in-process copy
// and falling back to durable storage after a restart.
func (s *RAGService) History(ctx context.Context, tenantID, sessionID string) ([]repository.ChatMessage, error) {
	if msgs := s.mem.History(tenantID, sessionID); len(msgs) > 0 {
		return msgs, nil
	}
	session, err := s.chats.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return session.Messages, nil
}

// ClearHistory drops a session from memory and durable storage.
func (s *RAGService) ClearHistory(ctx context.Context, tenantID, sessionID string) error {
	s.mem.Clear(tenantID, sessionID)
	if err := s.chats.ClearSession(ctx, tenantID, sessionID); err != nil {
		return fmt.Errorf("clearing durable history: %w", err)
	}
	return nil
}

// generate calls the LLM. Empty extraction yields the canonical
// fallback; transport errors become observable answer text.
func (s *RAGService) generate(ctx context.Context, query, contextBlob string, history []repository.ChatMessage, persona Persona) string {
	answer, err := s.llm.Generate(ctx, buildUserPrompt(query, contextBlob, history), llm.GenerateOptions{
		SystemPrompt: buildSystemPrompt(persona),
		Temperature:  0.3,
	})
	if err != nil {
		s.logger.Warn("llm generation failed", "error", err)
		return fmt.Sprintf("Error generating answer: %v", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return FallbackAnswer
	}
	return answer
}

func (s *RAGService) recordTurn(tenantID, sessionID, question, answer string) {
	now := time.Now().UTC()
	turn := []repository.ChatMessage{
		{Role: "user", Content: question, Timestamp: now},
		{Role: "assistant", Content: answer, Timestamp: now},
	}
	s.mem.Append(tenantID, sessionID, turn...)
	s.recorder.Record(tenantID, sessionID, turn)
}

func sourceURL(chunk *repository.Chunk) string {
	if chunk.SourceKind == repository.SourceWeb {
		return chunk.SourceRef
	}
	if url, ok := chunk.Extra["url"]; ok {
		return url
	}
	return ""
}

// buildSystemPrompt renders the fixed preamble with the persona
// substituted in.
func buildSystemPrompt(persona Persona) string {
	return fmt.Sprintf(`You are %s, an AI assistant answering questions over a private knowledge base. Your personality: %s.

Rules:
- Answer using ONLY the information in the provided context documents.
- If the context does not contain the answer, say you don't have enough information.
- Do not include citation markers such as [Document 1] in your reply; sources are shown to the user separately.
- Stay in character for every reply.`, persona.Name, persona.Personality)
}

// buildUserPrompt assembles history, context, and question. Empty
// sections are omitted.
func buildUserPrompt(query, contextBlob string, history []repository.ChatMessage) string {
	var sections []string
	if h := strings.TrimSpace(memory.FormatForPrompt(history)); h != "" {
		sections = append(sections, "Previous conversation:\n"+h)
	}
	if c := strings.TrimSpace(contextBlob); c != "" {
		sections = append(sections, "Context Documents:\n"+c)
	}
	sections = append(sections, "User Question: "+strings.TrimSpace(query))
	sections = append(sections, "Your Answer:")
	return strings.Join(sections, "\n\n")
}
