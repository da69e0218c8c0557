// Package model defines the value objects flowing through the extraction
// pipeline: requests, candidate URLs, fetched pages, company records, tasks,
// and batches. Values are validated at construction; downstream stages may
// assume a validated value is well-formed.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
)

// ExtractionMode controls query generation and the default include flags.
type ExtractionMode string

const (
	ModeBasic            ExtractionMode = "basic"
	ModeComprehensive    ExtractionMode = "comprehensive"
	ModeContactFocused   ExtractionMode = "contact_focused"
	ModeFinancialFocused ExtractionMode = "financial_focused"
)

// ParseMode normalizes a mode string. The legacy "standard" spelling maps
// to comprehensive.
func ParseMode(s string) (ExtractionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return ModeBasic, nil
	case "comprehensive", "standard":
		return ModeComprehensive, nil
	case "contact_focused", "contact":
		return ModeContactFocused, nil
	case "financial_focused", "financial":
		return ModeFinancialFocused, nil
	default:
		return "", eris.Errorf("model: unknown extraction mode %q", s)
	}
}

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "model: invalid " + e.Field + ": " + e.Message
}

// Request describes a single company extraction.
type Request struct {
	CompanyName string         `json:"company_name"`
	Domain      string         `json:"domain,omitempty"`
	Mode        ExtractionMode `json:"mode"`
	Country     string         `json:"country"`
	Language    string         `json:"language"`

	IncludeSocial       bool `json:"include_social"`
	IncludeFinancial    bool `json:"include_financial"`
	IncludeContact      bool `json:"include_contact"`
	IncludePersonnel    bool `json:"include_personnel"`
	IncludeSubsidiaries bool `json:"include_subsidiaries"`

	MaxPages    int `json:"max_pages"`
	TimeoutSecs int `json:"timeout_secs"`
}

const (
	minPages       = 1
	maxPages       = 20
	minTimeoutSecs = 5
	maxTimeoutSecs = 120
)

// NewRequest builds a validated request with mode-derived defaults.
func NewRequest(name string, mode ExtractionMode) (Request, error) {
	r := Request{
		CompanyName: strings.TrimSpace(name),
		Mode:        mode,
		Country:     "US",
		Language:    "en",
		MaxPages:    10,
		TimeoutSecs: 30,
	}
	r.applyModeDefaults()
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// applyModeDefaults turns on the include flags implied by the mode.
func (r *Request) applyModeDefaults() {
	switch r.Mode {
	case ModeComprehensive:
		r.IncludeSocial = true
		r.IncludeFinancial = true
		r.IncludeContact = true
		r.IncludePersonnel = true
	case ModeContactFocused:
		r.IncludeContact = true
	case ModeFinancialFocused:
		r.IncludeFinancial = true
	}
}

// Validate rejects malformed requests. Country must be ISO-3166 alpha-2
// uppercase, language ISO-639-1 lowercase; both are checked against the
// x/text registries.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.CompanyName) == "" {
		return &ValidationError{Field: "company_name", Message: "must not be empty"}
	}
	switch r.Mode {
	case ModeBasic, ModeComprehensive, ModeContactFocused, ModeFinancialFocused:
	default:
		return &ValidationError{Field: "mode", Message: "unknown extraction mode " + string(r.Mode)}
	}
	if len(r.Country) != 2 || r.Country != strings.ToUpper(r.Country) {
		return &ValidationError{Field: "country", Message: "must be uppercase ISO-3166 alpha-2"}
	}
	if _, err := language.ParseRegion(r.Country); err != nil {
		return &ValidationError{Field: "country", Message: "unknown region " + r.Country}
	}
	if len(r.Language) != 2 || r.Language != strings.ToLower(r.Language) {
		return &ValidationError{Field: "language", Message: "must be lowercase ISO-639-1"}
	}
	if _, err := language.ParseBase(r.Language); err != nil {
		return &ValidationError{Field: "language", Message: "unknown language " + r.Language}
	}
	if r.MaxPages < minPages || r.MaxPages > maxPages {
		return &ValidationError{Field: "max_pages", Message: "must be between 1 and 20"}
	}
	if r.TimeoutSecs < minTimeoutSecs || r.TimeoutSecs > maxTimeoutSecs {
		return &ValidationError{Field: "timeout_secs", Message: "must be between 5 and 120"}
	}
	return nil
}

// Timeout returns the per-fetch deadline.
func (r *Request) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// CandidateURL is a discovery result with a priority score in [0,1].
type CandidateURL struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Priority float64 `json:"priority"`
}
