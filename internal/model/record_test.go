package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("info@acme.com"))
	assert.True(t, ValidEmail("first.last+tag@sub.acme.io"))
	assert.False(t, ValidEmail("not-an-email"))
	assert.False(t, ValidEmail("@acme.com"))
	assert.False(t, ValidEmail("info@acme"))
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("+1 (555) 123-4567"))
	assert.True(t, ValidPhone("5551234"))
	assert.False(t, ValidPhone("555-123"))
	assert.False(t, ValidPhone("call us"))
}

func TestNormalizeStockSymbol(t *testing.T) {
	assert.Equal(t, "ACME", NormalizeStockSymbol("acme"))
	assert.Equal(t, "BRK.B", NormalizeStockSymbol("brk.b"))
	assert.Equal(t, "", NormalizeStockSymbol("WAYTOOLONGSYMBOL"))
	assert.Equal(t, "", NormalizeStockSymbol("AC ME"))
}

func TestPlatformForHost(t *testing.T) {
	p, ok := PlatformForHost("www.linkedin.com")
	assert.True(t, ok)
	assert.Equal(t, PlatformLinkedIn, p)

	p, ok = PlatformForHost("x.com")
	assert.True(t, ok)
	assert.Equal(t, PlatformTwitter, p)

	_, ok = PlatformForHost("acme.com")
	assert.False(t, ok)
}

func TestDedupSocial_VerifiedSupersedes(t *testing.T) {
	in := []SocialProfile{
		{Platform: PlatformTwitter, URL: "https://twitter.com/acme", Verified: false},
		{Platform: PlatformTwitter, URL: "https://twitter.com/acme_real", Verified: true},
		{Platform: PlatformLinkedIn, URL: "https://linkedin.com/company/acme"},
	}
	out := DedupSocial(in)
	assert.Len(t, out, 2)
	assert.Equal(t, "https://twitter.com/acme_real", out[0].URL)
	assert.True(t, out[0].Verified)
}

func TestDedupSocial_DropsMismatchedHost(t *testing.T) {
	in := []SocialProfile{
		{Platform: PlatformLinkedIn, URL: "https://facebook.com/acme"},
	}
	assert.Empty(t, DedupSocial(in))
}

func TestDedupPersonnel_FirstWriteWins(t *testing.T) {
	in := []Person{
		{Name: "Jane Smith", Title: "CEO"},
		{Name: "jane smith", Title: "Founder"},
		{Name: "Bob Lee", Title: "CTO"},
	}
	out := DedupPersonnel(in)
	assert.Len(t, out, 2)
	assert.Equal(t, "CEO", out[0].Title)
}

func TestNormalize_LocationsExcludeHeadquarters(t *testing.T) {
	r := CompanyRecord{
		Basic: BasicInfo{
			Name:         "Acme",
			Headquarters: "San Francisco, CA",
			Locations:    []string{"San Francisco, CA", "Austin, TX", "austin, tx", "London"},
		},
	}
	r.Normalize()
	assert.Equal(t, []string{"Austin, TX", "London"}, r.Basic.Locations)
}

func TestNormalize_DropsInvalidScalars(t *testing.T) {
	r := CompanyRecord{
		Basic: BasicInfo{
			Name:        "Acme",
			FoundedYear: 1492,
			StockSymbol: "not a ticker",
		},
		Contact: ContactInfo{
			Email: "nope",
			Phone: "123",
		},
	}
	r.Normalize()
	assert.Zero(t, r.Basic.FoundedYear)
	assert.Empty(t, r.Basic.StockSymbol)
	assert.Empty(t, r.Contact.Email)
	assert.Empty(t, r.Contact.Phone)
}

func TestNormalize_SizeFromEmployeeCount(t *testing.T) {
	r := CompanyRecord{Basic: BasicInfo{Name: "Acme", EmployeeCount: 120}}
	r.Normalize()
	assert.Equal(t, SizeMedium, r.Basic.Size)
}
