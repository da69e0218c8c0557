package model

import (
	"strings"
	"time"
)

// MinContentChars is the minimum cleaned-content length for a fetch to
// count as succeeded. Pages below the threshold are discarded with an
// insufficient-content error.
const MinContentChars = 100

// FetchedPage is one successfully crawled page.
type FetchedPage struct {
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	CleanedText    string    `json:"cleaned_text"`
	Markdown       string    `json:"markdown"`
	FetchedAt      time.Time `json:"fetched_at"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	WordCount      int       `json:"word_count"`
	SourcePriority float64   `json:"source_priority"`
}

// HasSufficientContent reports whether the cleaned text clears the
// non-whitespace threshold.
func (p *FetchedPage) HasSufficientContent() bool {
	n := 0
	for _, r := range p.CleanedText {
		if !isSpace(r) {
			n++
			if n >= MinContentChars {
				return true
			}
		}
	}
	return false
}

// CountWords fills WordCount from the cleaned text.
func (p *FetchedPage) CountWords() {
	p.WordCount = len(strings.Fields(p.CleanedText))
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// ExtractionMetadata summarizes what the pipeline did for one request.
type ExtractionMetadata struct {
	PagesAttempted int            `json:"pages_attempted"`
	PagesCrawled   int            `json:"pages_crawled"`
	SourcesFound   int            `json:"sources_found"`
	QueriesUsed    []string       `json:"queries_used,omitempty"`
	Sources        []string       `json:"sources,omitempty"`
	Mode           ExtractionMode `json:"mode"`
}

// ExtractionError is one captured per-URL or per-query failure.
type ExtractionError struct {
	Kind    string `json:"kind"`
	Context string `json:"context,omitempty"`
	Message string `json:"message"`
}

// Response is the result of one extract operation. Success means a record
// was produced; absence of a record implies failure even without errors.
type Response struct {
	Success        bool               `json:"success"`
	Record         *CompanyRecord     `json:"record,omitempty"`
	Metadata       ExtractionMetadata `json:"metadata"`
	Errors         []ExtractionError  `json:"errors,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
	ProcessingTime time.Duration      `json:"processing_time"`
}
