package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samrosenbaum/cracker/internal/logger"
	"github.com/samrosenbaum/cracker/internal/repository"
)

// SearchService answers semantic queries over a case's indexed evidence
// passages.
type SearchService struct {
	qdrantRepo *repository.QdrantRepository
	embedding  EmbeddingProvider
	logger     *logger.Logger
	topK       int
	minScore   float32
}

// SearchConfig holds configuration for the search service.
type SearchConfig struct {
	TopK     int
	MinScore float32
}

// NewSearchService creates a new search service.
func NewSearchService(
	qdrantRepo *repository.QdrantRepository,
	embedding EmbeddingProvider,
	log *logger.Logger,
	cfg *SearchConfig,
) *SearchService {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 10
	}
	return &SearchService{
		qdrantRepo: qdrantRepo,
		embedding:  embedding,
		logger:     log,
		topK:       topK,
		minScore:   cfg.MinScore,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *SearchService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// EvidenceHit is one matched passage with its source document.
type EvidenceHit struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	Passage    string  `json:"passage"`
	Score      float32 `json:"score"`
}

// Search embeds the query and runs a vector search scoped to the case.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - caseID: case whose evidence to search.
//   - query: natural language question or phrase.
//
// Returns:
//   - []EvidenceHit: matches above the score threshold, best first.
//   - error: non-nil if embedding or the vector search fails.
func (s *SearchService) Search(ctx context.Context, caseID, query string) ([]EvidenceHit, error) {
	start := time.Now()

	vector, err := s.embedding.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	filters := &repository.SearchFilters{CaseID: &caseID}
	results, err := s.qdrantRepo.Search(ctx, vector, s.topK, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to search evidence: %w", err)
	}

	hits := make([]EvidenceHit, 0, len(results))
	for _, r := range results {
		if r.Score < s.minScore || r.Payload == nil {
			continue
		}
		hits = append(hits, EvidenceHit{
			DocumentID: r.Payload.DocumentID,
			FileName:   r.Payload.FileName,
			Passage:    r.Payload.Passage,
			Score:      r.Score,
		})
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldCaseID:     caseID,
		logger.FieldCount:      len(hits),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Evidence search completed")

	return hits, nil
}
