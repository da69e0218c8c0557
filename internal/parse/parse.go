// Package parse turns fetched page content into partial company records.
// Parsing is pure: no I/O, no clock, deterministic for a given input.
package parse

import (
	"github.com/sells-group/webintel/internal/model"
)

// Parser is the page-to-facts collaborator. Implementations return a
// partial record and self-assessed metrics; the aggregator discards
// outputs with confidence at or below 0.1 and recomputes all final
// scores.
type Parser interface {
	Parse(content, pageURL, expectedName string) model.PartialRecord
}

// Func adapts a function to the Parser interface.
type Func func(content, pageURL, expectedName string) model.PartialRecord

func (f Func) Parse(content, pageURL, expectedName string) model.PartialRecord {
	return f(content, pageURL, expectedName)
}
