// Package serp provides a client for the SERP search provider API.
package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.serp.dev/v1"

// Client defines the search provider operations.
type Client interface {
	// Search runs one query and returns the parsed result page.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// SearchResponse is the parsed provider response.
type SearchResponse struct {
	Query     string          `json:"query"`
	Organic   []OrganicResult `json:"organic"`
	Knowledge *KnowledgePanel `json:"knowledge_graph,omitempty"`
}

// OrganicResult is a single ranked organic hit.
type OrganicResult struct {
	Title       string `json:"title"`
	URL         string `json:"link"`
	Description string `json:"snippet"`
	Position    int    `json:"position"`
}

// KnowledgePanel carries the provider's entity sidebar when present.
type KnowledgePanel struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Website     string `json:"website"`
	Description string `json:"description"`
}

// StatusError reports a non-2xx provider response. Callers inspect Code to
// classify the failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return eris.Errorf("serp: status %d: %s", e.Code, e.Body).Error()
}

// SearchOption configures one search call.
type SearchOption func(*searchOpts)

type searchOpts struct {
	country  string
	language string
	num      int
}

// WithLocale sets the country and language hints for the query.
func WithLocale(country, language string) SearchOption {
	return func(o *searchOpts) {
		o.country = country
		o.language = language
	}
}

// WithNum caps the number of organic results returned.
func WithNum(n int) SearchOption {
	return func(o *searchOpts) {
		o.num = n
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a search provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchRequest struct {
	Query    string `json:"q"`
	Country  string `json:"gl,omitempty"`
	Language string `json:"hl,omitempty"`
	Num      int    `json:"num,omitempty"`
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	body, err := json.Marshal(searchRequest{
		Query:    query,
		Country:  so.country,
		Language: so.language,
		Num:      so.num,
	})
	if err != nil {
		return nil, eris.Wrap(err, "serp: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "serp: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "serp: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serp: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "serp: unmarshal response")
	}

	return &result, nil
}
