package discovery

import (
	_ "embed"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sells-group/webintel/internal/model"
)

//go:embed scoring.yaml
var scoringYAML []byte

type scoringData struct {
	HighValueDomains []string            `yaml:"high_value_domains"`
	SocialDomains    []string            `yaml:"social_domains"`
	PathTerms        []string            `yaml:"path_terms"`
	GenericTerms     []string            `yaml:"generic_terms"`
	ModeTitleTerms   map[string][]string `yaml:"mode_title_terms"`
}

var scoring = mustLoadScoring()

func mustLoadScoring() scoringData {
	var d scoringData
	if err := yaml.Unmarshal(scoringYAML, &d); err != nil {
		panic("discovery: parse scoring.yaml: " + err.Error())
	}
	return d
}

// Score computes the priority of one organic result against the request.
// Pure function of the inputs; result is clipped to [0, 1].
func Score(req model.Request, rawURL, title, description string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))
	path := strings.ToLower(u.Path)
	titleLower := strings.ToLower(title)
	descLower := strings.ToLower(description)
	nameLower := strings.ToLower(strings.TrimSpace(req.CompanyName))

	score := 0.0

	switch {
	case req.Domain != "" && strings.Contains(host, strings.ToLower(req.Domain)):
		score += 0.4
	case nameInHost(nameLower, host):
		score += 0.3
	}

	if hostContainsAny(host, scoring.HighValueDomains) {
		score += 0.2
	}

	for _, term := range scoring.PathTerms {
		if strings.Contains(path, term) {
			score += 0.15
			break
		}
	}

	if nameLower != "" && strings.Contains(titleLower, nameLower) {
		score += 0.2
	}
	for _, term := range scoring.ModeTitleTerms[string(req.Mode)] {
		if strings.Contains(titleLower, term) {
			score += 0.1
			break
		}
	}

	if nameLower != "" && strings.Contains(descLower, nameLower) {
		score += 0.1
	}
	for _, term := range scoring.GenericTerms {
		if strings.Contains(descLower, term) {
			score += 0.05
			break
		}
	}

	// Social and community hosts are rarely the primary source.
	if hostContainsAny(host, scoring.SocialDomains) {
		score *= 0.7
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// nameInHost reports whether the compacted company name is a substring of
// the host with separators removed.
func nameInHost(nameLower, host string) bool {
	compact := strings.ReplaceAll(nameLower, " ", "")
	if compact == "" {
		return false
	}
	stripped := strings.NewReplacer("-", "", "_", "").Replace(host)
	return strings.Contains(stripped, compact)
}

func hostContainsAny(host string, domains []string) bool {
	for _, d := range domains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}
