package model

import (
	"regexp"
	"strings"
	"time"
)

// SocialPlatform is the closed set of recognized social networks.
type SocialPlatform string

const (
	PlatformLinkedIn   SocialPlatform = "linkedin"
	PlatformTwitter    SocialPlatform = "twitter"
	PlatformFacebook   SocialPlatform = "facebook"
	PlatformInstagram  SocialPlatform = "instagram"
	PlatformYouTube    SocialPlatform = "youtube"
	PlatformGitHub     SocialPlatform = "github"
	PlatformCrunchbase SocialPlatform = "crunchbase"
)

// platformHosts maps each platform to the host fragments it may live on.
var platformHosts = map[SocialPlatform][]string{
	PlatformLinkedIn:   {"linkedin.com"},
	PlatformTwitter:    {"twitter.com", "x.com"},
	PlatformFacebook:   {"facebook.com", "fb.com"},
	PlatformInstagram:  {"instagram.com"},
	PlatformYouTube:    {"youtube.com", "youtu.be"},
	PlatformGitHub:     {"github.com"},
	PlatformCrunchbase: {"crunchbase.com"},
}

// PlatformForHost returns the platform owning the host, if any.
func PlatformForHost(host string) (SocialPlatform, bool) {
	host = strings.ToLower(host)
	for platform, hosts := range platformHosts {
		for _, h := range hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return platform, true
			}
		}
	}
	return "", false
}

// MatchesHost reports whether the platform agrees with the URL host.
func (p SocialPlatform) MatchesHost(host string) bool {
	got, ok := PlatformForHost(host)
	return ok && got == p
}

// CompanySize is a coarse employee-count bucket.
type CompanySize string

const (
	SizeMicro      CompanySize = "1-10"
	SizeSmall      CompanySize = "11-50"
	SizeMedium     CompanySize = "51-200"
	SizeLarge      CompanySize = "201-1000"
	SizeEnterprise CompanySize = "1000+"
)

// SizeForEmployeeCount buckets a head count.
func SizeForEmployeeCount(n int) CompanySize {
	switch {
	case n <= 10:
		return SizeMicro
	case n <= 50:
		return SizeSmall
	case n <= 200:
		return SizeMedium
	case n <= 1000:
		return SizeLarge
	default:
		return SizeEnterprise
	}
}

// BasicInfo holds the identity fields of a company record.
type BasicInfo struct {
	Name          string      `json:"name"`
	LegalName     string      `json:"legal_name,omitempty"`
	Domain        string      `json:"domain,omitempty"`
	Website       string      `json:"website,omitempty"`
	Description   string      `json:"description,omitempty"`
	Tagline       string      `json:"tagline,omitempty"`
	Industry      string      `json:"industry,omitempty"`
	Sector        string      `json:"sector,omitempty"`
	FoundedYear   int         `json:"founded_year,omitempty"`
	Size          CompanySize `json:"size,omitempty"`
	EmployeeCount int         `json:"employee_count,omitempty"`
	Headquarters  string      `json:"headquarters,omitempty"`
	Locations     []string    `json:"locations,omitempty"`
	StockSymbol   string      `json:"stock_symbol,omitempty"`
	IsPublic      bool        `json:"is_public,omitempty"`
}

// ContactInfo holds contact channels.
type ContactInfo struct {
	Email            string   `json:"email,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Address          string   `json:"address,omitempty"`
	City             string   `json:"city,omitempty"`
	State            string   `json:"state,omitempty"`
	Country          string   `json:"country,omitempty"`
	PostalCode       string   `json:"postal_code,omitempty"`
	AdditionalEmails []string `json:"additional_emails,omitempty"`
	AdditionalPhones []string `json:"additional_phones,omitempty"`
}

// SocialProfile is one presence on a social platform.
type SocialProfile struct {
	Platform  SocialPlatform `json:"platform"`
	URL       string         `json:"url"`
	Username  string         `json:"username,omitempty"`
	Followers int            `json:"followers,omitempty"`
	Verified  bool           `json:"verified,omitempty"`
}

// FinancialInfo holds labeled amounts and investors.
type FinancialInfo struct {
	Amounts   map[string]string `json:"amounts,omitempty"`
	Investors []string          `json:"investors,omitempty"`
}

// Person is one key-personnel entry.
type Person struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	LinkedIn string `json:"linkedin,omitempty"`
	Email    string `json:"email,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// Scores are always recomputed by the aggregator, never trusted from input.
type Scores struct {
	Confidence   float64 `json:"confidence"`
	DataQuality  float64 `json:"data_quality"`
	Completeness float64 `json:"completeness"`
}

// CompanyRecord is the merged, scored output for one request.
type CompanyRecord struct {
	Basic      BasicInfo       `json:"basic"`
	Contact    ContactInfo     `json:"contact,omitempty"`
	Social     []SocialProfile `json:"social,omitempty"`
	Financials FinancialInfo   `json:"financials,omitempty"`
	Personnel  []Person        `json:"personnel,omitempty"`
	Scores     Scores          `json:"scores"`
}

// PartialRecord is a single-source parse result. The aggregator merges
// partials into a CompanyRecord and recomputes scores from the parse
// metrics carried here.
type PartialRecord struct {
	Record          CompanyRecord `json:"record"`
	SourceURL       string        `json:"source_url"`
	ParseConfidence float64       `json:"parse_confidence"`
	DataQuality     float64       `json:"data_quality"`
	Completeness    float64       `json:"completeness"`
}

var (
	emailPattern       = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	stockSymbolPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)
	nonDigitPattern    = regexp.MustCompile(`[^0-9]`)
)

// ValidEmail applies the RFC-lite email check.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidPhone requires at least 7 digits once separators are stripped.
func ValidPhone(s string) bool {
	return len(nonDigitPattern.ReplaceAllString(s, "")) >= 7
}

// NormalizeStockSymbol uppercases and validates a ticker. Returns "" when
// the input cannot be a ticker.
func NormalizeStockSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !stockSymbolPattern.MatchString(s) {
		return ""
	}
	return s
}

// ValidFoundedYear bounds the founding year to [1800, current year].
func ValidFoundedYear(year int) bool {
	return year >= 1800 && year <= time.Now().Year()
}

// Normalize enforces the record invariants in place: valid email/phone,
// ticker shape, founded-year bounds, social dedup by platform (verified
// supersedes unverified), personnel dedup by lowercased name, and the
// locations set excluding the headquarters value.
func (r *CompanyRecord) Normalize() {
	if !ValidEmail(r.Contact.Email) {
		r.Contact.Email = ""
	}
	if r.Contact.Phone != "" && !ValidPhone(r.Contact.Phone) {
		r.Contact.Phone = ""
	}
	r.Contact.AdditionalEmails = filterStrings(r.Contact.AdditionalEmails, ValidEmail)
	r.Contact.AdditionalPhones = filterStrings(r.Contact.AdditionalPhones, ValidPhone)

	r.Basic.StockSymbol = NormalizeStockSymbol(r.Basic.StockSymbol)
	if !ValidFoundedYear(r.Basic.FoundedYear) {
		r.Basic.FoundedYear = 0
	}
	if r.Basic.EmployeeCount < 0 {
		r.Basic.EmployeeCount = 0
	}
	if r.Basic.EmployeeCount > 0 && r.Basic.Size == "" {
		r.Basic.Size = SizeForEmployeeCount(r.Basic.EmployeeCount)
	}

	r.Social = DedupSocial(r.Social)
	r.Personnel = DedupPersonnel(r.Personnel)
	r.Basic.Locations = dedupLocations(r.Basic.Locations, r.Basic.Headquarters)
}

// DedupSocial collapses profiles by platform. A verified entry supersedes
// an unverified incumbent; otherwise the first entry wins. Profiles whose
// platform disagrees with the URL host are dropped.
func DedupSocial(profiles []SocialProfile) []SocialProfile {
	if len(profiles) == 0 {
		return nil
	}
	byPlatform := make(map[SocialPlatform]int)
	out := make([]SocialProfile, 0, len(profiles))
	for _, p := range profiles {
		if host := hostOf(p.URL); host != "" && !p.Platform.MatchesHost(host) {
			continue
		}
		idx, seen := byPlatform[p.Platform]
		if !seen {
			byPlatform[p.Platform] = len(out)
			out = append(out, p)
			continue
		}
		if p.Verified && !out[idx].Verified {
			out[idx] = p
		}
	}
	return out
}

// DedupPersonnel keeps the first entry per lowercased full name.
func DedupPersonnel(people []Person) []Person {
	if len(people) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]Person, 0, len(people))
	for _, p := range people {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func dedupLocations(locations []string, headquarters string) []string {
	if len(locations) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	hq := strings.ToLower(strings.TrimSpace(headquarters))
	out := make([]string, 0, len(locations))
	for _, loc := range locations {
		key := strings.ToLower(strings.TrimSpace(loc))
		if key == "" || key == hq || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(loc))
	}
	return out
}

func filterStrings(in []string, keep func(string) bool) []string {
	if len(in) == 0 {
		return nil
	}
	out := in[:0]
	for _, s := range in {
		if keep(s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hostOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.Index(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}
