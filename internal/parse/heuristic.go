package parse

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/webintel/internal/model"
)

// Heuristic extracts company facts from page content using HTML structure
// when available and text patterns otherwise.
type Heuristic struct{}

// NewHeuristic returns the default parser.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

var (
	emailRe    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe    = regexp.MustCompile(`\+?[0-9][0-9 .()\-]{6,18}[0-9]`)
	foundedRe  = regexp.MustCompile(`(?i)(?:founded|established|since)\s+(?:in\s+)?((?:18|19|20)\d{2})`)
	employeeRe = regexp.MustCompile(`(?i)([0-9][0-9,]*)\+?\s+employees`)
	tickerRe   = regexp.MustCompile(`(?:NYSE|NASDAQ|AMEX)\s*:\s*([A-Z0-9.\-]{1,10})`)
	hqRe       = regexp.MustCompile(`(?i:headquarter(?:s|ed)\s+(?:in|:)\s+)([A-Z][a-zA-Z.\-]*(?: [A-Z][a-zA-Z.\-]*)*(?:, [A-Z]{2})?)`)
	socialRe   = regexp.MustCompile(`https?://[a-zA-Z0-9.\-]+/[a-zA-Z0-9._/\-]+`)
)

func (h *Heuristic) Parse(content, pageURL, expectedName string) model.PartialRecord {
	partial := model.PartialRecord{SourceURL: pageURL}
	rec := &partial.Record

	var text string
	if looksLikeHTML(content) {
		text = h.parseHTML(content, rec)
	} else {
		text = content
	}

	h.parseText(text, rec)
	h.collectSocial(content, rec)

	if rec.Basic.Name == "" {
		rec.Basic.Name = strings.TrimSpace(expectedName)
	}
	if rec.Basic.Website == "" {
		if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
			rec.Basic.Website = u.Scheme + "://" + u.Host
			rec.Basic.Domain = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		}
	}
	rec.Normalize()

	partial.ParseConfidence = h.confidence(text, expectedName, rec)
	partial.Completeness = completeness(rec)
	partial.DataQuality = dataQuality(rec)
	return partial
}

func looksLikeHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") || strings.Contains(lower, "<meta")
}

// parseHTML fills structured fields from the document and returns its
// visible text for the pattern pass.
func (h *Heuristic) parseHTML(content string, rec *model.CompanyRecord) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}

	if name, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		rec.Basic.Name = strings.TrimSpace(name)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		rec.Basic.Description = strings.TrimSpace(desc)
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok && rec.Basic.Description == "" {
		rec.Basic.Description = strings.TrimSpace(desc)
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		h.parseJSONLD(s.Text(), rec)
	})

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		email := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(email, '?'); i >= 0 {
			email = email[:i]
		}
		addEmail(rec, email)
	})
	doc.Find(`a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addPhone(rec, strings.TrimPrefix(href, "tel:"))
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addSocialURL(rec, href)
	})

	// Script and style text would pollute the pattern pass.
	doc.Find("script, style").Remove()
	return doc.Text()
}

// jsonLDOrg is the subset of schema.org Organization we read.
type jsonLDOrg struct {
	Type              string   `json:"@type"`
	Name              string   `json:"name"`
	LegalName         string   `json:"legalName"`
	Description       string   `json:"description"`
	FoundingDate      string   `json:"foundingDate"`
	NumberOfEmployees any      `json:"numberOfEmployees"`
	TickerSymbol      string   `json:"tickerSymbol"`
	SameAs            []string `json:"sameAs"`
	Address           struct {
		Locality   string `json:"addressLocality"`
		Region     string `json:"addressRegion"`
		Country    string `json:"addressCountry"`
		PostalCode string `json:"postalCode"`
		Street     string `json:"streetAddress"`
	} `json:"address"`
}

func (h *Heuristic) parseJSONLD(raw string, rec *model.CompanyRecord) {
	var org jsonLDOrg
	if err := json.Unmarshal([]byte(raw), &org); err != nil {
		return
	}
	if !strings.EqualFold(org.Type, "Organization") && !strings.EqualFold(org.Type, "Corporation") {
		return
	}

	if org.Name != "" {
		rec.Basic.Name = org.Name
	}
	if org.LegalName != "" {
		rec.Basic.LegalName = org.LegalName
	}
	if org.Description != "" && rec.Basic.Description == "" {
		rec.Basic.Description = org.Description
	}
	if len(org.FoundingDate) >= 4 {
		if year, err := strconv.Atoi(org.FoundingDate[:4]); err == nil {
			rec.Basic.FoundedYear = year
		}
	}
	switch n := org.NumberOfEmployees.(type) {
	case float64:
		rec.Basic.EmployeeCount = int(n)
	case string:
		if v, err := strconv.Atoi(strings.ReplaceAll(n, ",", "")); err == nil {
			rec.Basic.EmployeeCount = v
		}
	}
	if org.TickerSymbol != "" {
		rec.Basic.StockSymbol = model.NormalizeStockSymbol(org.TickerSymbol)
		rec.Basic.IsPublic = rec.Basic.StockSymbol != ""
	}
	for _, link := range org.SameAs {
		addSocialURL(rec, link)
	}

	addr := org.Address
	if addr.Street != "" {
		rec.Contact.Address = addr.Street
	}
	rec.Contact.City = firstNonEmpty(rec.Contact.City, addr.Locality)
	rec.Contact.State = firstNonEmpty(rec.Contact.State, addr.Region)
	rec.Contact.Country = firstNonEmpty(rec.Contact.Country, addr.Country)
	rec.Contact.PostalCode = firstNonEmpty(rec.Contact.PostalCode, addr.PostalCode)
	if addr.Locality != "" {
		hq := addr.Locality
		if addr.Region != "" {
			hq += ", " + addr.Region
		}
		rec.Basic.Headquarters = hq
	}
}

// parseText runs the pattern pass over visible text.
func (h *Heuristic) parseText(text string, rec *model.CompanyRecord) {
	for _, email := range emailRe.FindAllString(text, 10) {
		addEmail(rec, email)
	}
	for _, phone := range phoneRe.FindAllString(text, 10) {
		addPhone(rec, phone)
	}
	if m := foundedRe.FindStringSubmatch(text); m != nil && rec.Basic.FoundedYear == 0 {
		if year, err := strconv.Atoi(m[1]); err == nil {
			rec.Basic.FoundedYear = year
		}
	}
	if m := employeeRe.FindStringSubmatch(text); m != nil && rec.Basic.EmployeeCount == 0 {
		if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			rec.Basic.EmployeeCount = n
		}
	}
	if m := tickerRe.FindStringSubmatch(text); m != nil && rec.Basic.StockSymbol == "" {
		rec.Basic.StockSymbol = model.NormalizeStockSymbol(m[1])
		rec.Basic.IsPublic = rec.Basic.StockSymbol != ""
	}
	if m := hqRe.FindStringSubmatch(text); m != nil && rec.Basic.Headquarters == "" {
		rec.Basic.Headquarters = strings.TrimRight(strings.TrimSpace(m[1]), ".,")
	}
}

// collectSocial scans raw content for links on known social hosts. Covers
// markdown input where no anchor tags exist.
func (h *Heuristic) collectSocial(content string, rec *model.CompanyRecord) {
	for _, link := range socialRe.FindAllString(content, 50) {
		addSocialURL(rec, link)
	}
}

func addEmail(rec *model.CompanyRecord, email string) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !model.ValidEmail(email) {
		return
	}
	if rec.Contact.Email == "" {
		rec.Contact.Email = email
		return
	}
	if email == rec.Contact.Email {
		return
	}
	for _, existing := range rec.Contact.AdditionalEmails {
		if existing == email {
			return
		}
	}
	rec.Contact.AdditionalEmails = append(rec.Contact.AdditionalEmails, email)
}

func addPhone(rec *model.CompanyRecord, phone string) {
	phone = strings.TrimSpace(phone)
	if !model.ValidPhone(phone) {
		return
	}
	if rec.Contact.Phone == "" {
		rec.Contact.Phone = phone
		return
	}
	if phone == rec.Contact.Phone {
		return
	}
	for _, existing := range rec.Contact.AdditionalPhones {
		if existing == phone {
			return
		}
	}
	rec.Contact.AdditionalPhones = append(rec.Contact.AdditionalPhones, phone)
}

func addSocialURL(rec *model.CompanyRecord, link string) {
	u, err := url.Parse(strings.TrimRight(link, ".,)"))
	if err != nil || u.Host == "" || u.Path == "" || u.Path == "/" {
		return
	}
	platform, ok := model.PlatformForHost(u.Host)
	if !ok {
		return
	}
	for _, existing := range rec.Social {
		if existing.Platform == platform {
			return
		}
	}
	rec.Social = append(rec.Social, model.SocialProfile{
		Platform: platform,
		URL:      u.String(),
		Username: usernameFromPath(u.Path),
	})
}

func usernameFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	if last == "" || strings.ContainsAny(last, "?=&") {
		return ""
	}
	return last
}

// confidence scores how sure we are the page is about the expected
// company and how much structure we found.
func (h *Heuristic) confidence(text, expectedName string, rec *model.CompanyRecord) float64 {
	score := 0.0
	nameLower := strings.ToLower(strings.TrimSpace(expectedName))
	if nameLower != "" && strings.Contains(strings.ToLower(text), nameLower) {
		score += 0.35
	}
	if rec.Basic.Description != "" {
		score += 0.15
	}
	if rec.Contact.Email != "" || rec.Contact.Phone != "" {
		score += 0.2
	}
	if len(rec.Social) > 0 {
		score += 0.1
	}
	if rec.Basic.FoundedYear != 0 || rec.Basic.EmployeeCount != 0 {
		score += 0.1
	}
	if rec.Basic.Headquarters != "" || rec.Contact.City != "" {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// completeness is the filled share of the tracked field set.
func completeness(rec *model.CompanyRecord) float64 {
	filled, total := 0, 0
	track := func(ok bool) {
		total++
		if ok {
			filled++
		}
	}
	track(rec.Basic.Name != "")
	track(rec.Basic.Description != "")
	track(rec.Basic.Website != "")
	track(rec.Basic.Industry != "")
	track(rec.Basic.FoundedYear != 0)
	track(rec.Basic.EmployeeCount != 0)
	track(rec.Basic.Headquarters != "")
	track(rec.Contact.Email != "")
	track(rec.Contact.Phone != "")
	track(rec.Contact.Address != "" || rec.Contact.City != "")
	track(len(rec.Social) > 0)
	track(len(rec.Personnel) > 0)
	return float64(filled) / float64(total)
}

// dataQuality rewards fields that passed validation over raw pattern
// hits.
func dataQuality(rec *model.CompanyRecord) float64 {
	score := 0.3
	if rec.Contact.Email != "" {
		score += 0.2
	}
	if rec.Contact.Phone != "" {
		score += 0.1
	}
	if model.ValidFoundedYear(rec.Basic.FoundedYear) {
		score += 0.15
	}
	if rec.Basic.Headquarters != "" {
		score += 0.1
	}
	if len(rec.Social) > 0 {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return score
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
