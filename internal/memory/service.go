// Package memory provides hybrid textual and vector retrieval of stored
// specifications and completions. Persistence calls run behind a circuit
// breaker; failures are short-timeout and non-fatal to the engine.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/store"
)

// Search modes.
const (
	SearchText     = "text"
	SearchSemantic = "semantic"
	SearchHybrid   = "hybrid"
)

// Memory record types written by the engine.
const (
	TypeSpecifications = "specifications"
	TypeCompletion     = "completion"
)

const (
	defaultRetrieveLimit = 10
	breakerFailures      = 5
	breakerCooldown      = 30 * time.Second
)

// StoreRequest carries one record to persist.
type StoreRequest struct {
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	Tags       []string          `json:"tags,omitempty"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StoreResult reports the stored record.
type StoreResult struct {
	Status       string `json:"status"`
	ID           string `json:"id"`
	VectorStored bool   `json:"vector_stored"`
}

// RetrieveRequest queries stored records.
type RetrieveRequest struct {
	Query      string   `json:"query"`
	Type       string   `json:"type,omitempty"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Threshold  float64  `json:"threshold,omitempty"`
	SearchMode string   `json:"search_mode,omitempty"` // text, semantic, hybrid
}

// SearchResult is one scored record.
type SearchResult struct {
	Record *store.MemoryRecord `json:"record"`
	Score  float64             `json:"score"`
}

// RetrieveResult is the retrieval response.
type RetrieveResult struct {
	Results       []SearchResult `json:"results"`
	Count         int            `json:"count"`
	SearchMethods []string       `json:"search_methods"`
}

// Service is the memory store consumed by the engine and RPC surface.
type Service struct {
	store    store.Store
	embedder Embedder
	breaker  *gobreaker.CircuitBreaker
	logger   *logger.Logger
}

// NewService creates a memory service over the given store.
func NewService(st store.Store, embedder Embedder, log *logger.Logger) *Service {
	if embedder == nil {
		embedder = NewHashingEmbedder(0)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "memory-store",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
	})
	return &Service{
		store:    st,
		embedder: embedder,
		breaker:  breaker,
		logger:   log.WithComponent("memory"),
	}
}

// Store persists a record with its embedding. Embedding failures degrade
// to a text-only record.
func (s *Service) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	record := &store.MemoryRecord{
		Content:    req.Content,
		Type:       req.Type,
		Tags:       req.Tags,
		WorkflowID: req.WorkflowID,
		Metadata:   req.Metadata,
	}

	vectorStored := false
	if vec, err := s.embedder.Embed(ctx, req.Content); err != nil {
		s.logger.Warn("embedding failed, storing text only", zap.Error(err))
	} else {
		record.Embedding = vec
		vectorStored = true
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.store.InsertMemory(ctx, record)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.CircuitBreakerOpen("memory-store")
		}
		return nil, apperrors.MemoryStore(err)
	}

	return &StoreResult{Status: "stored", ID: record.ID, VectorStored: vectorStored}, nil
}

// Retrieve scores stored records against the query in the requested mode.
func (s *Service) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	mode := req.SearchMode
	if mode == "" {
		mode = SearchHybrid
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}

	raw, err := s.breaker.Execute(func() (interface{}, error) {
		return s.store.ListMemories(ctx, store.MemoryFilter{
			Type:       req.Type,
			WorkflowID: req.WorkflowID,
			Tags:       req.Tags,
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.CircuitBreakerOpen("memory-store")
		}
		return nil, apperrors.MemoryRetrieve(err)
	}
	records := raw.([]*store.MemoryRecord)

	var queryVec []float32
	methods := []string{SearchText}
	if mode == SearchSemantic || mode == SearchHybrid {
		if vec, err := s.embedder.Embed(ctx, req.Query); err != nil {
			s.logger.Warn("query embedding failed, degrading to text search", zap.Error(err))
			mode = SearchText
		} else {
			queryVec = vec
			if mode == SearchSemantic {
				methods = []string{SearchSemantic}
			} else {
				methods = []string{SearchText, SearchSemantic}
			}
		}
	}

	var results []SearchResult
	for _, record := range records {
		score := s.score(mode, req.Query, queryVec, record)
		if score < req.Threshold || score == 0 {
			continue
		}
		results = append(results, SearchResult{Record: record, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	return &RetrieveResult{Results: results, Count: len(results), SearchMethods: methods}, nil
}

func (s *Service) score(mode, query string, queryVec []float32, record *store.MemoryRecord) float64 {
	switch mode {
	case SearchText:
		return textScore(query, record)
	case SearchSemantic:
		return cosine(queryVec, record.Embedding)
	default:
		return 0.5*textScore(query, record) + 0.5*cosine(queryVec, record.Embedding)
	}
}

// textScore is the fraction of query terms present in the record's content
// or tags.
func textScore(query string, record *store.MemoryRecord) float64 {
	terms := tokenize(query)
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(record.Content + " " + strings.Join(record.Tags, " "))
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
