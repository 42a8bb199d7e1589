// Package search holds the pure query and filter transforms used by the
// global search endpoint and by clients re-filtering results locally.
// Nothing here reads a clock or touches shared state.
package search

import (
	"slices"
	"strings"
	"time"

	"crm-webhook-engine/internal/core/domain"
)

// MinQueryLength is the shortest sanitized query that triggers a search.
const MinQueryLength = 2

var queryStripper = strings.NewReplacer("%", "", "_", "", ",", "")

// SanitizeQuery removes pattern-match metacharacters and trims whitespace.
func SanitizeQuery(raw string) string {
	// Stripping can expose new edge whitespace ("a ,"), trimming is last.
	return strings.TrimSpace(queryStripper.Replace(raw))
}

// IsQueryMeaningful reports whether raw is long enough to search on.
func IsQueryMeaningful(raw string) bool {
	return len([]rune(SanitizeQuery(raw))) >= MinQueryLength
}

// NormalizeFilters returns a canonical copy of in. A nil input yields the
// same result as an empty one: every type, no stage or status restriction,
// no date bound.
func NormalizeFilters(in *domain.SearchFilters) domain.SearchFilters {
	if in == nil {
		in = &domain.SearchFilters{}
	}

	want := make(map[domain.ResultType]bool, len(in.Types))
	for _, t := range in.Types {
		want[domain.ResultType(strings.ToLower(strings.TrimSpace(string(t))))] = true
	}
	types := make([]domain.ResultType, 0, len(domain.AllResultTypes))
	for _, t := range domain.AllResultTypes {
		if want[t] {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = append(types, domain.AllResultTypes...)
	}

	return domain.SearchFilters{
		Types:     types,
		Stages:    uniqueTrimmed(in.Stages),
		Statuses:  uniqueTrimmed(in.Statuses),
		DateRange: normalizeDateRange(in.DateRange),
	}
}

func uniqueTrimmed(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func normalizeDateRange(r domain.DateRange) domain.DateRange {
	switch r := domain.DateRange(strings.ToLower(strings.TrimSpace(string(r)))); r {
	case domain.DateRange7d, domain.DateRange30d, domain.DateRange90d:
		return r
	}
	return domain.DateRangeAll
}

var rangeDays = map[domain.DateRange]int{
	domain.DateRange7d:  7,
	domain.DateRange30d: 30,
	domain.DateRange90d: 90,
}

// BuildDateFrom returns the inclusive updatedAt lower bound for r, or nil
// when r places no bound.
func BuildDateFrom(r domain.DateRange, now time.Time) *time.Time {
	days, ok := rangeDays[normalizeDateRange(r)]
	if !ok {
		return nil
	}
	from := now.UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return &from
}

// ApplyFilters re-filters already fetched results against a raw query and
// raw filters. The output collections are never nil.
func ApplyFilters(results domain.SearchResults, rawQuery string, rawFilters *domain.SearchFilters, now time.Time) domain.SearchResults {
	f := NormalizeFilters(rawFilters)
	q := strings.ToLower(SanitizeQuery(rawQuery))
	from := BuildDateFrom(f.DateRange, now)

	out := domain.EmptySearchResults()

	if slices.Contains(f.Types, domain.ResultDeals) {
		for _, d := range results.Deals {
			if matchesQuery(q, d.Title, d.ContactName, d.Company) &&
				allowed(f.Stages, d.Stage) &&
				inRange(from, d.UpdatedAt) {
				out.Deals = append(out.Deals, d)
			}
		}
	}

	if slices.Contains(f.Types, domain.ResultContacts) {
		for _, c := range results.Contacts {
			if matchesQuery(q, c.FullName(), c.Email, c.Company) &&
				inRange(from, c.UpdatedAt) {
				out.Contacts = append(out.Contacts, c)
			}
		}
	}

	if slices.Contains(f.Types, domain.ResultProposals) {
		for _, p := range results.Proposals {
			if matchesQuery(q, p.Title, p.ContactName) &&
				allowed(f.Statuses, p.Status) &&
				inRange(from, p.UpdatedAt) {
				out.Proposals = append(out.Proposals, p)
			}
		}
	}

	return out
}

// matchesQuery expects q already lower-cased. An empty q matches everything.
func matchesQuery(q string, fields ...string) bool {
	if q == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func allowed(set []string, v string) bool {
	return len(set) == 0 || slices.Contains(set, v)
}

func inRange(from *time.Time, updatedAt time.Time) bool {
	return from == nil || !updatedAt.Before(*from)
}

// ToggleFilterValue removes id from current if present, otherwise appends it.
// current is not modified.
func ToggleFilterValue[T comparable](current []T, id T) []T {
	if slices.Contains(current, id) {
		out := make([]T, 0, len(current))
		for _, v := range current {
			if v != id {
				out = append(out, v)
			}
		}
		return out
	}
	out := make([]T, 0, len(current)+1)
	out = append(out, current...)
	return append(out, id)
}
