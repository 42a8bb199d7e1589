package domain

import (
	"time"

	"github.com/google/uuid"
)

// Deal is the searchable projection of a CRM deal.
type Deal struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Stage       string    `json:"stage"`
	Value       float64   `json:"value"`
	ContactName string    `json:"contactName"`
	Company     string    `json:"company"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Contact is the searchable projection of a CRM contact.
type Contact struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Company   string    `json:"company"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FullName joins first and last name, skipping empty parts.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Proposal is the searchable projection of a CRM proposal.
type Proposal struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	ContactName string    `json:"contactName"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SearchResults groups the three searchable collections.
type SearchResults struct {
	Deals     []Deal     `json:"deals"`
	Contacts  []Contact  `json:"contacts"`
	Proposals []Proposal `json:"proposals"`
}

// EmptySearchResults returns results with non-nil, empty collections.
func EmptySearchResults() SearchResults {
	return SearchResults{
		Deals:     []Deal{},
		Contacts:  []Contact{},
		Proposals: []Proposal{},
	}
}

// SearchResponse is the output of a search request.
type SearchResponse struct {
	Query   string        `json:"query"`
	Results SearchResults `json:"results"`
}

// ResultType names one searchable collection.
type ResultType string

const (
	ResultDeals     ResultType = "deals"
	ResultContacts  ResultType = "contacts"
	ResultProposals ResultType = "proposals"
)

// AllResultTypes lists the searchable collections in canonical order.
var AllResultTypes = []ResultType{ResultDeals, ResultContacts, ResultProposals}

// DateRange is a named lower bound on updatedAt.
type DateRange string

const (
	DateRangeAll DateRange = "all"
	DateRange7d  DateRange = "7d"
	DateRange30d DateRange = "30d"
	DateRange90d DateRange = "90d"
)

// SearchFilters restricts a search. Raw input may hold duplicates and
// unknown values; normalised filters never do.
type SearchFilters struct {
	Types     []ResultType `json:"types,omitempty"`
	Stages    []string     `json:"stages,omitempty"`
	Statuses  []string     `json:"statuses,omitempty"`
	DateRange DateRange    `json:"dateRange,omitempty"`
}

// SearchRequest is the request-scoped search input.
type SearchRequest struct {
	Query   string         `json:"query"`
	Filters *SearchFilters `json:"filters,omitempty"`
}
