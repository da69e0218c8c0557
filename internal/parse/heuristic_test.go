package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/webintel/internal/model"
)

const aboutPageHTML = `<html>
<head>
<meta property="og:site_name" content="Acme Corp">
<meta name="description" content="Acme Corp builds industrial equipment.">
<script type="application/ld+json">
{
  "@type": "Organization",
  "name": "Acme Corp",
  "legalName": "Acme Corporation Inc.",
  "foundingDate": "1985-04-01",
  "numberOfEmployees": 250,
  "tickerSymbol": "ACME",
  "sameAs": ["https://linkedin.com/company/acme-corp"],
  "address": {"addressLocality": "Springfield", "addressRegion": "IL", "addressCountry": "US"}
}
</script>
</head>
<body>
<div>
<p>Acme Corp was founded in 1985 and has 250 employees.</p>
<a href="mailto:info@acme.com?subject=hi">Email us</a>
<a href="tel:+1-555-123-4567">Call</a>
<a href="https://twitter.com/acmecorp">Twitter</a>
</div>
</body>
</html>`

func TestHeuristic_ParseHTML(t *testing.T) {
	p := NewHeuristic()
	partial := p.Parse(aboutPageHTML, "https://acme.com/about", "Acme Corp")
	rec := partial.Record

	assert.Equal(t, "Acme Corp", rec.Basic.Name)
	assert.Equal(t, "Acme Corporation Inc.", rec.Basic.LegalName)
	assert.Equal(t, "Acme Corp builds industrial equipment.", rec.Basic.Description)
	assert.Equal(t, 1985, rec.Basic.FoundedYear)
	assert.Equal(t, 250, rec.Basic.EmployeeCount)
	assert.Equal(t, model.SizeLarge, rec.Basic.Size)
	assert.Equal(t, "ACME", rec.Basic.StockSymbol)
	assert.True(t, rec.Basic.IsPublic)
	assert.Equal(t, "Springfield, IL", rec.Basic.Headquarters)

	assert.Equal(t, "info@acme.com", rec.Contact.Email)
	assert.Equal(t, "+1-555-123-4567", rec.Contact.Phone)
	assert.Equal(t, "Springfield", rec.Contact.City)

	platforms := make(map[model.SocialPlatform]bool)
	for _, s := range rec.Social {
		platforms[s.Platform] = true
	}
	assert.True(t, platforms[model.PlatformLinkedIn])
	assert.True(t, platforms[model.PlatformTwitter])

	assert.Greater(t, partial.ParseConfidence, 0.5)
	assert.Greater(t, partial.Completeness, 0.5)
}

func TestHeuristic_ParseMarkdown(t *testing.T) {
	content := `About Acme Corp

Acme Corp builds industrial equipment. Founded in 1985, the company is
headquartered in Springfield, IL and employs a growing team.

Contact: sales@acme.com or +1 555 987 6543.
Follow us at https://linkedin.com/company/acme-corp.`

	p := NewHeuristic()
	partial := p.Parse(content, "https://acme.com/about", "Acme Corp")
	rec := partial.Record

	assert.Equal(t, "Acme Corp", rec.Basic.Name, "name falls back to the expected name")
	assert.Equal(t, 1985, rec.Basic.FoundedYear)
	assert.Equal(t, "sales@acme.com", rec.Contact.Email)
	assert.Equal(t, "+1 555 987 6543", rec.Contact.Phone)
	assert.Equal(t, "Springfield, IL", rec.Basic.Headquarters)
	require.Len(t, rec.Social, 1)
	assert.Equal(t, model.PlatformLinkedIn, rec.Social[0].Platform)
	assert.Greater(t, partial.ParseConfidence, 0.1)
}

func TestHeuristic_UnrelatedContentScoresLow(t *testing.T) {
	p := NewHeuristic()
	partial := p.Parse("A weather report for Tuesday. Light rain expected.", "https://example.com", "Acme Corp")
	assert.LessOrEqual(t, partial.ParseConfidence, 0.1)
}

func TestHeuristic_InvalidContactsDropped(t *testing.T) {
	content := "Acme Corp. Reach us: not-an-email@nowhere, call 12345."
	p := NewHeuristic()
	partial := p.Parse(content, "https://acme.com", "Acme Corp")

	assert.Empty(t, partial.Record.Contact.Phone, "phones under 7 digits are rejected")
}

func TestHeuristic_AdditionalEmailsDeduped(t *testing.T) {
	content := "Acme Corp. info@acme.com sales@acme.com info@acme.com"
	p := NewHeuristic()
	partial := p.Parse(content, "https://acme.com", "Acme Corp")

	assert.Equal(t, "info@acme.com", partial.Record.Contact.Email)
	assert.Equal(t, []string{"sales@acme.com"}, partial.Record.Contact.AdditionalEmails)
}

func TestHeuristic_Deterministic(t *testing.T) {
	p := NewHeuristic()
	first := p.Parse(aboutPageHTML, "https://acme.com/about", "Acme Corp")
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, p.Parse(aboutPageHTML, "https://acme.com/about", "Acme Corp"))
	}
}

func TestHeuristic_WebsiteFromPageURL(t *testing.T) {
	p := NewHeuristic()
	partial := p.Parse("Acme Corp "+strings.Repeat("details ", 30), "https://www.acme.com/about", "Acme Corp")

	assert.Equal(t, "https://www.acme.com", partial.Record.Basic.Website)
	assert.Equal(t, "acme.com", partial.Record.Basic.Domain)
}
