package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
)

var _ ports.SearchRepository = (*SearchRepo)(nil)

// SearchResultLimit caps each collection returned by the backing search.
const SearchResultLimit = 20

// SearchRepo runs tenant-scoped ILIKE searches over the CRM tables. The
// tables are owned by the CRM application and only read here.
type SearchRepo struct {
	pool  Pool
	limit int
}

// NewSearchRepo creates a new SearchRepo.
func NewSearchRepo(pool Pool) *SearchRepo {
	return &SearchRepo{pool: pool, limit: SearchResultLimit}
}

// Search expects query already sanitized of pattern metacharacters and
// filters already normalized.
func (r *SearchRepo) Search(ctx context.Context, tenantID uuid.UUID, query string, filters domain.SearchFilters, dateFrom *time.Time) (domain.SearchResults, error) {
	out := domain.EmptySearchResults()
	pattern := containsPattern(query)

	if slices.Contains(filters.Types, domain.ResultDeals) {
		deals, err := r.searchDeals(ctx, tenantID, pattern, filters.Stages, dateFrom)
		if err != nil {
			return out, err
		}
		out.Deals = deals
	}
	if slices.Contains(filters.Types, domain.ResultContacts) {
		contacts, err := r.searchContacts(ctx, tenantID, pattern, dateFrom)
		if err != nil {
			return out, err
		}
		out.Contacts = contacts
	}
	if slices.Contains(filters.Types, domain.ResultProposals) {
		proposals, err := r.searchProposals(ctx, tenantID, pattern, filters.Statuses, dateFrom)
		if err != nil {
			return out, err
		}
		out.Proposals = proposals
	}

	return out, nil
}

func (r *SearchRepo) searchDeals(ctx context.Context, tenantID uuid.UUID, pattern string, stages []string, dateFrom *time.Time) ([]domain.Deal, error) {
	query := `SELECT d.id, d.title, d.stage, d.value,
			COALESCE(TRIM(CONCAT(c.first_name, ' ', c.last_name)), ''), COALESCE(d.company, ''), d.updated_at
		FROM deals d
		LEFT JOIN contacts c ON c.id = d.contact_id
		WHERE d.tenant_id = $1
			AND (d.title ILIKE $2 OR d.company ILIKE $2 OR c.first_name ILIKE $2 OR c.last_name ILIKE $2
				OR CONCAT(c.first_name, ' ', c.last_name) ILIKE $2)
			AND ($3::text[] IS NULL OR d.stage = ANY($3))
			AND ($4::timestamptz IS NULL OR d.updated_at >= $4)
		ORDER BY d.updated_at DESC
		LIMIT $5`

	rows, err := r.pool.Query(ctx, query, tenantID, pattern, stages, dateFrom, r.limit)
	if err != nil {
		return nil, fmt.Errorf("searching deals: %w", err)
	}
	defer rows.Close()

	deals := []domain.Deal{}
	for rows.Next() {
		var d domain.Deal
		if err := rows.Scan(&d.ID, &d.Title, &d.Stage, &d.Value, &d.ContactName, &d.Company, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning deal row: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deal rows: %w", err)
	}
	return deals, nil
}

func (r *SearchRepo) searchContacts(ctx context.Context, tenantID uuid.UUID, pattern string, dateFrom *time.Time) ([]domain.Contact, error) {
	query := `SELECT id, first_name, last_name, COALESCE(email, ''), COALESCE(company, ''), updated_at
		FROM contacts
		WHERE tenant_id = $1
			AND (first_name ILIKE $2 OR last_name ILIKE $2 OR email ILIKE $2 OR company ILIKE $2
				OR CONCAT(first_name, ' ', last_name) ILIKE $2)
			AND ($3::timestamptz IS NULL OR updated_at >= $3)
		ORDER BY updated_at DESC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query, tenantID, pattern, dateFrom, r.limit)
	if err != nil {
		return nil, fmt.Errorf("searching contacts: %w", err)
	}
	defer rows.Close()

	contacts := []domain.Contact{}
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Company, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contact rows: %w", err)
	}
	return contacts, nil
}

func (r *SearchRepo) searchProposals(ctx context.Context, tenantID uuid.UUID, pattern string, statuses []string, dateFrom *time.Time) ([]domain.Proposal, error) {
	query := `SELECT p.id, p.title, p.status,
			COALESCE(TRIM(CONCAT(c.first_name, ' ', c.last_name)), ''), p.updated_at
		FROM proposals p
		LEFT JOIN contacts c ON c.id = p.contact_id
		WHERE p.tenant_id = $1
			AND (p.title ILIKE $2 OR c.first_name ILIKE $2 OR c.last_name ILIKE $2
				OR CONCAT(c.first_name, ' ', c.last_name) ILIKE $2)
			AND ($3::text[] IS NULL OR p.status = ANY($3))
			AND ($4::timestamptz IS NULL OR p.updated_at >= $4)
		ORDER BY p.updated_at DESC
		LIMIT $5`

	rows, err := r.pool.Query(ctx, query, tenantID, pattern, statuses, dateFrom, r.limit)
	if err != nil {
		return nil, fmt.Errorf("searching proposals: %w", err)
	}
	defer rows.Close()

	proposals := []domain.Proposal{}
	for rows.Next() {
		var p domain.Proposal
		if err := rows.Scan(&p.ID, &p.Title, &p.Status, &p.ContactName, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning proposal row: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating proposal rows: %w", err)
	}
	return proposals, nil
}

// containsPattern builds a substring ILIKE pattern. Backslash is ILIKE's
// escape character, so a literal one must be doubled.
func containsPattern(query string) string {
	return "%" + strings.ReplaceAll(query, `\`, `\\`) + "%"
}
