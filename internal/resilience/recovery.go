package resilience

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/model"
)

// nameSuffixes are the corporate suffixes stripped when generating name
// variants for a not-found recovery.
var nameSuffixes = []string{"inc", "llc", "corp", "co", "company"}

// Recovery is the modified plan produced when a request exhausts its
// retries with a recoverable failure class. The pipeline applies it at
// most the configured number of recovery passes.
type Recovery struct {
	Request      model.Request
	NameVariants []string
	// DoubleRetryBase asks the caller to double the retry base delay.
	DoubleRetryBase bool
	// HalveConcurrency asks the caller to halve its crawl concurrency.
	HalveConcurrency bool
}

// Recover derives a modified request for the given failure class. Returns
// nil when the class has no recovery strategy.
func Recover(req model.Request, class Class) *Recovery {
	log := zap.L().With(
		zap.String("company", req.CompanyName),
		zap.String("class", string(class)),
	)

	switch class {
	case ClassTimeout:
		r := req
		reduced := int(float64(r.TimeoutSecs) * 0.7)
		if reduced < 10 {
			reduced = 10
		}
		r.TimeoutSecs = reduced
		r.MaxPages = max(1, r.MaxPages/2)
		r.Mode = model.ModeBasic
		log.Info("recovery: reduced scope after timeouts",
			zap.Int("timeout_secs", r.TimeoutSecs),
			zap.Int("max_pages", r.MaxPages),
		)
		return &Recovery{Request: r}

	case ClassRateLimit:
		log.Info("recovery: backing off after rate limiting")
		return &Recovery{
			Request:          req,
			DoubleRetryBase:  true,
			HalveConcurrency: true,
		}

	case ClassDataQuality:
		r := req
		r.Mode = model.ModeComprehensive
		r.IncludeSocial = true
		r.IncludePersonnel = true
		r.MaxPages = min(10, r.MaxPages+2)
		log.Info("recovery: widened scope after low-quality parses",
			zap.Int("max_pages", r.MaxPages),
		)
		return &Recovery{Request: r}

	case ClassNotFound:
		r := req
		r.Domain = ""
		variants := NameVariants(req.CompanyName)
		log.Info("recovery: retrying with name variants",
			zap.Strings("variants", variants),
		)
		return &Recovery{Request: r, NameVariants: variants}

	default:
		return nil
	}
}

// NameVariants strips common corporate suffixes from a company name.
// The original name is not included; variants are ordered from most to
// least specific.
func NameVariants(name string) []string {
	trimmed := strings.TrimSpace(name)
	var variants []string
	seen := map[string]bool{strings.ToLower(trimmed): true}

	for _, suffix := range nameSuffixes {
		lower := strings.ToLower(trimmed)
		for _, form := range []string{" " + suffix + ".", " " + suffix + ",", " " + suffix} {
			if strings.HasSuffix(lower, form) {
				v := strings.TrimSpace(trimmed[:len(trimmed)-len(form)])
				v = strings.TrimRight(v, ",")
				key := strings.ToLower(v)
				if v != "" && !seen[key] {
					seen[key] = true
					variants = append(variants, v)
				}
			}
		}
	}
	return variants
}
