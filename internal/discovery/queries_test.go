package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/webintel/internal/model"
)

func TestBuildQueries_Basic(t *testing.T) {
	req, err := model.NewRequest("Acme Corp", model.ModeBasic)
	require.NoError(t, err)

	queries := BuildQueries(req)
	assert.Equal(t, []string{`"Acme Corp" company information`}, queries)
}

func TestBuildQueries_DomainAddsSiteQuery(t *testing.T) {
	req, err := model.NewRequest("Acme Corp", model.ModeBasic)
	require.NoError(t, err)
	req.Domain = "acme.com"

	queries := BuildQueries(req)
	assert.Contains(t, queries, `"Acme Corp" site:acme.com`)
}

func TestBuildQueries_ContactFocused(t *testing.T) {
	req, err := model.NewRequest("Acme Corp", model.ModeContactFocused)
	require.NoError(t, err)

	queries := BuildQueries(req)
	assert.Contains(t, queries, `"Acme Corp" contact information`)
	assert.Contains(t, queries, `"Acme Corp" about us`)
	assert.NotContains(t, queries, `"Acme Corp" funding investors`)
}

func TestBuildQueries_ComprehensiveCoversAllGroups(t *testing.T) {
	req, err := model.NewRequest("Acme Corp", model.ModeComprehensive)
	require.NoError(t, err)

	queries := BuildQueries(req)
	assert.Contains(t, queries, `"Acme Corp" contact information`)
	assert.Contains(t, queries, `"Acme Corp" funding investors`)
	assert.Contains(t, queries, `"Acme Corp" linkedin`)
	assert.Contains(t, queries, `"Acme Corp" CEO founder`)
}

func TestBuildQueries_Deterministic(t *testing.T) {
	req, err := model.NewRequest("Acme Corp", model.ModeComprehensive)
	require.NoError(t, err)

	first := BuildQueries(req)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, BuildQueries(req))
	}
}

func TestEmitQueries_Cap(t *testing.T) {
	req, err := model.NewRequest("Acme Corp", model.ModeComprehensive)
	require.NoError(t, err)

	emitted := emitQueries(BuildQueries(req))
	assert.Len(t, emitted, maxQueries)
	assert.Equal(t, `"Acme Corp" company information`, emitted[0])
}
