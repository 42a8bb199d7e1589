package memory

import (
	"fmt"
	"time"

	"crm-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Seed is the file format accepted by LoadSeed (YAML or JSON).
type Seed struct {
	Subscriptions []SeedSubscription `mapstructure:"subscriptions"`
	Tenants       []SeedTenant       `mapstructure:"tenants"`
}

type SeedSubscription struct {
	ID        string   `mapstructure:"id"`
	TenantID  string   `mapstructure:"tenant_id"`
	URL       string   `mapstructure:"url"`
	SecretKey string   `mapstructure:"secret_key"`
	Events    []string `mapstructure:"events"`
	Active    bool     `mapstructure:"active"`
}

type SeedTenant struct {
	ID        string         `mapstructure:"id"`
	Deals     []SeedDeal     `mapstructure:"deals"`
	Contacts  []SeedContact  `mapstructure:"contacts"`
	Proposals []SeedProposal `mapstructure:"proposals"`
}

type SeedDeal struct {
	Title       string  `mapstructure:"title"`
	Stage       string  `mapstructure:"stage"`
	Value       float64 `mapstructure:"value"`
	ContactName string  `mapstructure:"contact_name"`
	Company     string  `mapstructure:"company"`
	UpdatedAt   string  `mapstructure:"updated_at"`
}

type SeedContact struct {
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
	Email     string `mapstructure:"email"`
	Company   string `mapstructure:"company"`
	UpdatedAt string `mapstructure:"updated_at"`
}

type SeedProposal struct {
	Title       string `mapstructure:"title"`
	Status      string `mapstructure:"status"`
	ContactName string `mapstructure:"contact_name"`
	UpdatedAt   string `mapstructure:"updated_at"`
}

// LoadSeed reads a seed file into the given stores.
func LoadSeed(path string, subs *SubscriptionRepo, records *SearchRepo) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return fmt.Errorf("decoding seed file: %w", err)
	}
	return seed.Apply(subs, records, time.Now().UTC())
}

// Apply validates the seed and writes it into the stores. Records without
// updated_at are stamped with now.
func (s Seed) Apply(subs *SubscriptionRepo, records *SearchRepo, now time.Time) error {
	for i, ss := range s.Subscriptions {
		sub, err := ss.toDomain(now)
		if err != nil {
			return fmt.Errorf("subscription %d: %w", i, err)
		}
		subs.Save(sub)
	}

	for i, st := range s.Tenants {
		tenantID, err := uuid.Parse(st.ID)
		if err != nil {
			return fmt.Errorf("tenant %d: invalid id: %w", i, err)
		}
		batch, err := st.toDomain(now)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		records.Add(tenantID, batch)
	}
	return nil
}

func (ss SeedSubscription) toDomain(now time.Time) (domain.Subscription, error) {
	id := uuid.New()
	if ss.ID != "" {
		parsed, err := uuid.Parse(ss.ID)
		if err != nil {
			return domain.Subscription{}, fmt.Errorf("invalid id: %w", err)
		}
		id = parsed
	}
	tenantID, err := uuid.Parse(ss.TenantID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("invalid tenant_id: %w", err)
	}
	if ss.URL == "" {
		return domain.Subscription{}, fmt.Errorf("url is required")
	}
	return domain.Subscription{
		ID:        id,
		TenantID:  tenantID,
		URL:       ss.URL,
		SecretKey: ss.SecretKey,
		Events:    ss.Events,
		Active:    ss.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (st SeedTenant) toDomain(now time.Time) (domain.SearchResults, error) {
	var out domain.SearchResults
	for _, d := range st.Deals {
		at, err := parseSeedTime(d.UpdatedAt, now)
		if err != nil {
			return out, err
		}
		out.Deals = append(out.Deals, domain.Deal{
			ID: uuid.New(), Title: d.Title, Stage: d.Stage, Value: d.Value,
			ContactName: d.ContactName, Company: d.Company, UpdatedAt: at,
		})
	}
	for _, c := range st.Contacts {
		at, err := parseSeedTime(c.UpdatedAt, now)
		if err != nil {
			return out, err
		}
		out.Contacts = append(out.Contacts, domain.Contact{
			ID: uuid.New(), FirstName: c.FirstName, LastName: c.LastName,
			Email: c.Email, Company: c.Company, UpdatedAt: at,
		})
	}
	for _, p := range st.Proposals {
		at, err := parseSeedTime(p.UpdatedAt, now)
		if err != nil {
			return out, err
		}
		out.Proposals = append(out.Proposals, domain.Proposal{
			ID: uuid.New(), Title: p.Title, Status: p.Status,
			ContactName: p.ContactName, UpdatedAt: at,
		})
	}
	return out, nil
}

func parseSeedTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid updated_at %q: %w", s, err)
	}
	return t.UTC(), nil
}
