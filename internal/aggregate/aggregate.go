// Package aggregate merges per-page parse results into one scored
// company record.
package aggregate

import (
	"sort"
	"strings"

	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/parse"
)

// minParseConfidence is the exclusive floor below which a parse result is
// discarded.
const minParseConfidence = 0.1

// Result is the aggregation outcome. Record is nil when no parse result
// cleared the confidence floor.
type Result struct {
	Record    *model.CompanyRecord
	Sources   []string
	Discarded int
}

// Aggregator drives the parse collaborator over fetched pages and merges
// the partials.
type Aggregator struct {
	parser parse.Parser
}

// New builds an aggregator around the given parser.
func New(parser parse.Parser) *Aggregator {
	return &Aggregator{parser: parser}
}

// Aggregate parses every page and merges the surviving partials. The
// highest-confidence partial is the base; the rest fill missing scalars
// and merge collections. Scores are recomputed from parse metrics.
func (a *Aggregator) Aggregate(pages []model.FetchedPage, expectedName string) *Result {
	res := &Result{}

	var partials []model.PartialRecord
	for _, page := range pages {
		partial := a.parser.Parse(pageContent(page), page.URL, expectedName)
		if partial.ParseConfidence <= minParseConfidence {
			res.Discarded++
			continue
		}
		partials = append(partials, partial)
	}
	if len(partials) == 0 {
		return res
	}

	// Highest confidence first; stable so page priority breaks ties.
	sort.SliceStable(partials, func(i, j int) bool {
		return partials[i].ParseConfidence > partials[j].ParseConfidence
	})

	merged := partials[0].Record
	for _, partial := range partials[1:] {
		mergeRecord(&merged, partial.Record)
	}
	merged.Scores = computeScores(partials)
	merged.Normalize()

	for _, partial := range partials {
		res.Sources = append(res.Sources, partial.SourceURL)
	}
	res.Record = &merged
	return res
}

// pageContent prefers markdown; the parser falls back to cleaned text.
func pageContent(page model.FetchedPage) string {
	if page.Markdown != "" {
		return page.Markdown
	}
	return page.CleanedText
}

// mergeRecord folds other into base: fill-if-missing for scalars, merge
// for collections.
func mergeRecord(base *model.CompanyRecord, other model.CompanyRecord) {
	mergeBasic(&base.Basic, other.Basic)
	mergeContact(&base.Contact, other.Contact)
	base.Social = mergeSocial(base.Social, other.Social)
	base.Personnel = mergePersonnel(base.Personnel, other.Personnel)
	mergeFinancials(&base.Financials, other.Financials)
}

func mergeBasic(base *model.BasicInfo, other model.BasicInfo) {
	fillString(&base.LegalName, other.LegalName)
	fillString(&base.Domain, other.Domain)
	fillString(&base.Website, other.Website)
	fillString(&base.Description, other.Description)
	fillString(&base.Tagline, other.Tagline)
	fillString(&base.Industry, other.Industry)
	fillString(&base.Sector, other.Sector)
	fillString(&base.Headquarters, other.Headquarters)
	fillString(&base.StockSymbol, other.StockSymbol)
	if base.FoundedYear == 0 {
		base.FoundedYear = other.FoundedYear
	}
	if base.EmployeeCount == 0 {
		base.EmployeeCount = other.EmployeeCount
	}
	if !base.IsPublic {
		base.IsPublic = other.IsPublic
	}
	base.Locations = append(base.Locations, other.Locations...)
	if other.Headquarters != "" && other.Headquarters != base.Headquarters {
		base.Locations = append(base.Locations, other.Headquarters)
	}
}

func mergeContact(base *model.ContactInfo, other model.ContactInfo) {
	fillString(&base.Email, other.Email)
	fillString(&base.Phone, other.Phone)
	fillString(&base.Address, other.Address)
	fillString(&base.City, other.City)
	fillString(&base.State, other.State)
	fillString(&base.Country, other.Country)
	fillString(&base.PostalCode, other.PostalCode)
	base.AdditionalEmails = appendUnique(base.AdditionalEmails, other.AdditionalEmails, base.Email)
	base.AdditionalPhones = appendUnique(base.AdditionalPhones, other.AdditionalPhones, base.Phone)
}

// mergeSocial indexes by platform. A later entry replaces the incumbent
// only when it is verified and the incumbent is not.
func mergeSocial(base, other []model.SocialProfile) []model.SocialProfile {
	index := make(map[model.SocialPlatform]int, len(base))
	for i, p := range base {
		index[p.Platform] = i
	}
	for _, p := range other {
		if i, ok := index[p.Platform]; ok {
			if p.Verified && !base[i].Verified {
				base[i] = p
			}
			continue
		}
		index[p.Platform] = len(base)
		base = append(base, p)
	}
	return base
}

// mergePersonnel indexes by lowercased name; first write wins.
func mergePersonnel(base, other []model.Person) []model.Person {
	seen := make(map[string]bool, len(base))
	for _, p := range base {
		seen[strings.ToLower(p.Name)] = true
	}
	for _, p := range other {
		key := strings.ToLower(p.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		base = append(base, p)
	}
	return base
}

func mergeFinancials(base *model.FinancialInfo, other model.FinancialInfo) {
	for label, amount := range other.Amounts {
		if base.Amounts == nil {
			base.Amounts = make(map[string]string)
		}
		if _, ok := base.Amounts[label]; !ok {
			base.Amounts[label] = amount
		}
	}
	base.Investors = appendUnique(base.Investors, other.Investors, "")
}

// computeScores derives the final scores from the surviving partials:
// confidence is the mean plus a multi-source bonus; quality and
// completeness take the maximum across sources.
func computeScores(partials []model.PartialRecord) model.Scores {
	var sum, quality, completeness float64
	for _, p := range partials {
		sum += p.ParseConfidence
		if p.DataQuality > quality {
			quality = p.DataQuality
		}
		if p.Completeness > completeness {
			completeness = p.Completeness
		}
	}

	n := len(partials)
	bonus := 0.1 * float64(n-1)
	if bonus > 0.3 {
		bonus = 0.3
	}
	confidence := sum/float64(n) + bonus
	if confidence > 1 {
		confidence = 1
	}

	return model.Scores{
		Confidence:   confidence,
		DataQuality:  quality,
		Completeness: completeness,
	}
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func appendUnique(dst, src []string, exclude string) []string {
	seen := make(map[string]bool, len(dst)+1)
	if exclude != "" {
		seen[exclude] = true
	}
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		dst = append(dst, s)
	}
	return dst
}
