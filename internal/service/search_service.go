package service

import (
	"context"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/internal/search"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// searchService implements ports.SearchService.
type searchService struct {
	repo ports.SearchRepository
	now  func() time.Time
	log  zerolog.Logger
}

// NewSearchService creates a new search service.
func NewSearchService(repo ports.SearchRepository, log zerolog.Logger) ports.SearchService {
	return &searchService{
		repo: repo,
		now:  time.Now,
		log:  logger.Component(log, "search"),
	}
}

// Search runs a tenant-scoped search. Unauthenticated callers and queries
// that are too short get empty results without touching the store.
func (s *searchService) Search(ctx context.Context, tenantID *uuid.UUID, req domain.SearchRequest) (*domain.SearchResponse, error) {
	query := search.SanitizeQuery(req.Query)
	resp := &domain.SearchResponse{Query: query, Results: domain.EmptySearchResults()}

	if tenantID == nil || !search.IsQueryMeaningful(query) {
		return resp, nil
	}

	now := s.now()
	filters := search.NormalizeFilters(req.Filters)
	dateFrom := search.BuildDateFrom(filters.DateRange, now)

	found, err := s.repo.Search(ctx, *tenantID, query, filters, dateFrom)
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("search: query failed")
		return nil, apperror.ErrDatabaseError(err)
	}

	// The store may match more loosely than the in-memory rules; re-apply them.
	resp.Results = search.ApplyFilters(found, query, &filters, now)
	return resp, nil
}
