package domain

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ProviderID identifies a third-party integration provider.
type ProviderID string

const (
	ProviderSlack      ProviderID = "slack"
	ProviderHubSpot    ProviderID = "hubspot"
	ProviderMailchimp  ProviderID = "mailchimp"
	ProviderZapier     ProviderID = "zapier"
	ProviderCustomHTTP ProviderID = "custom_http"
)

// FieldKind determines how a credential field is validated and rendered.
type FieldKind string

const (
	FieldText   FieldKind = "text"
	FieldSecret FieldKind = "secret"
	FieldURL    FieldKind = "url"
	FieldEmail  FieldKind = "email"
)

// FieldSpec describes one credential field of a provider.
type FieldSpec struct {
	Key      string         `json:"key"`
	Label    string         `json:"label"`
	Kind     FieldKind      `json:"kind"`
	Required bool           `json:"required"`
	Pattern  *regexp.Regexp `json:"-"`
	Hint     string         `json:"hint,omitempty"`
}

// FieldError reports why a single credential field was rejected.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// CredentialErrors is returned when credentials fail validation.
type CredentialErrors []FieldError

func (e CredentialErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Reason)
	}
	return "invalid credentials: " + strings.Join(parts, "; ")
}

var providerFields = map[ProviderID][]FieldSpec{
	ProviderSlack: {
		{Key: "webhook_url", Label: "Incoming webhook URL", Kind: FieldURL, Required: true,
			Pattern: regexp.MustCompile(`^https://hooks\.slack\.com/`)},
		{Key: "channel", Label: "Channel", Kind: FieldText, Pattern: regexp.MustCompile(`^#[a-z0-9_\-]+$`), Hint: "#sales"},
	},
	ProviderHubSpot: {
		{Key: "access_token", Label: "Private app token", Kind: FieldSecret, Required: true,
			Pattern: regexp.MustCompile(`^pat-[a-z0-9]+-[A-Za-z0-9\-]+$`)},
		{Key: "portal_id", Label: "Portal ID", Kind: FieldText, Required: true, Pattern: regexp.MustCompile(`^[0-9]+$`)},
	},
	ProviderMailchimp: {
		{Key: "api_key", Label: "API key", Kind: FieldSecret, Required: true,
			Pattern: regexp.MustCompile(`^[a-f0-9]{32}-us[0-9]{1,2}$`)},
		{Key: "list_id", Label: "Audience ID", Kind: FieldText, Required: true},
		{Key: "reply_to", Label: "Reply-to address", Kind: FieldEmail},
	},
	ProviderZapier: {
		{Key: "hook_url", Label: "Catch hook URL", Kind: FieldURL, Required: true,
			Pattern: regexp.MustCompile(`^https://hooks\.zapier\.com/`)},
	},
	ProviderCustomHTTP: {
		{Key: "endpoint", Label: "Endpoint", Kind: FieldURL, Required: true},
		{Key: "auth_header", Label: "Authorization header", Kind: FieldSecret},
	},
}

// ProviderFields returns the credential schema for a provider.
func ProviderFields(id ProviderID) ([]FieldSpec, bool) {
	fields, ok := providerFields[id]
	return fields, ok
}

// Providers lists every registered provider in a stable order.
func Providers() []ProviderID {
	ids := make([]ProviderID, 0, len(providerFields))
	for id := range providerFields {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ErrUnknownProvider is returned for an unregistered provider id.
type ErrUnknownProvider struct{ ID ProviderID }

func (e ErrUnknownProvider) Error() string {
	return fmt.Sprintf("unknown integration provider %q", string(e.ID))
}

// ValidateCredentials checks values against the provider's field specs.
// Validation is generic: no provider has bespoke code.
func ValidateCredentials(id ProviderID, values map[string]string) error {
	fields, ok := providerFields[id]
	if !ok {
		return ErrUnknownProvider{ID: id}
	}

	var errs CredentialErrors
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[f.Key] = struct{}{}
		v := strings.TrimSpace(values[f.Key])
		if v == "" {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Key, Reason: "required"})
			}
			continue
		}
		if reason := checkKind(f.Kind, v); reason != "" {
			errs = append(errs, FieldError{Field: f.Key, Reason: reason})
			continue
		}
		if f.Pattern != nil && !f.Pattern.MatchString(v) {
			errs = append(errs, FieldError{Field: f.Key, Reason: "invalid format"})
		}
	}

	unknown := make([]string, 0)
	for k := range values {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = append(errs, FieldError{Field: k, Reason: "unknown field"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkKind(kind FieldKind, v string) string {
	switch kind {
	case FieldURL:
		u, err := url.ParseRequestURI(v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "must be an http(s) URL"
		}
	case FieldEmail:
		if _, err := mail.ParseAddress(v); err != nil {
			return "must be an email address"
		}
	}
	return ""
}
