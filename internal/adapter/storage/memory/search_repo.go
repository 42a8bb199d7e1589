package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/internal/search"

	"github.com/google/uuid"
)

var _ ports.SearchRepository = (*SearchRepo)(nil)

// SearchRepo keeps CRM records per tenant and searches them with the same
// rules the API applies after any backing search.
type SearchRepo struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*domain.SearchResults
}

func NewSearchRepo() *SearchRepo {
	return &SearchRepo{tenants: make(map[uuid.UUID]*domain.SearchResults)}
}

// Add appends records for a tenant.
func (r *SearchRepo) Add(tenantID uuid.UUID, records domain.SearchResults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		t = &domain.SearchResults{}
		r.tenants[tenantID] = t
	}
	t.Deals = append(t.Deals, records.Deals...)
	t.Contacts = append(t.Contacts, records.Contacts...)
	t.Proposals = append(t.Proposals, records.Proposals...)
}

func (r *SearchRepo) Search(ctx context.Context, tenantID uuid.UUID, query string, filters domain.SearchFilters, dateFrom *time.Time) (domain.SearchResults, error) {
	r.mu.RLock()
	t, ok := r.tenants[tenantID]
	var snapshot domain.SearchResults
	if ok {
		snapshot = domain.SearchResults{
			Deals:     slices.Clone(t.Deals),
			Contacts:  slices.Clone(t.Contacts),
			Proposals: slices.Clone(t.Proposals),
		}
	}
	r.mu.RUnlock()

	// The caller resolved the date range into dateFrom.
	filters.DateRange = domain.DateRangeAll
	out := search.ApplyFilters(snapshot, query, &filters, time.Time{})
	if dateFrom != nil {
		out.Deals = slices.DeleteFunc(out.Deals, func(d domain.Deal) bool { return d.UpdatedAt.Before(*dateFrom) })
		out.Contacts = slices.DeleteFunc(out.Contacts, func(c domain.Contact) bool { return c.UpdatedAt.Before(*dateFrom) })
		out.Proposals = slices.DeleteFunc(out.Proposals, func(p domain.Proposal) bool { return p.UpdatedAt.Before(*dateFrom) })
	}
	return out, nil
}
