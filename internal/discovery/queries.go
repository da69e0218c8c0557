package discovery

import (
	"fmt"

	"github.com/sells-group/webintel/internal/model"
)

// maxQueries caps the number of queries sent to the search provider per
// request, bounding search cost.
const maxQueries = 3

// BuildQueries returns the deterministic query set for a request, keyed on
// mode and include flags. Order matters: only the first maxQueries are
// sent to the provider.
func BuildQueries(req model.Request) []string {
	name := req.CompanyName
	queries := []string{fmt.Sprintf("%q company information", name)}

	if req.Domain != "" {
		queries = append(queries, fmt.Sprintf("%q site:%s", name, req.Domain))
	}

	if req.IncludeContact || req.Mode == model.ModeComprehensive {
		queries = append(queries,
			fmt.Sprintf("%q contact information", name),
			fmt.Sprintf("%q address phone email", name),
			fmt.Sprintf("%q about us", name),
		)
	}

	if req.IncludeFinancial || req.Mode == model.ModeComprehensive {
		queries = append(queries,
			fmt.Sprintf("%q funding investors", name),
			fmt.Sprintf("%q revenue valuation", name),
			fmt.Sprintf("%q crunchbase", name),
		)
	}

	if req.IncludeSocial {
		queries = append(queries,
			fmt.Sprintf("%q linkedin", name),
			fmt.Sprintf("%q twitter", name),
			fmt.Sprintf("%q social media", name),
		)
	}

	if req.IncludePersonnel {
		queries = append(queries,
			fmt.Sprintf("%q CEO founder", name),
			fmt.Sprintf("%q leadership team", name),
			fmt.Sprintf("%q executives", name),
		)
	}

	return queries
}

// emitQueries trims the generated set to the provider cap.
func emitQueries(queries []string) []string {
	if len(queries) > maxQueries {
		return queries[:maxQueries]
	}
	return queries
}
