// Package tomtom fetches traffic incidents from the TomTom Traffic Incident Details API
// and returns them as a GeoJSON FeatureCollection.
package tomtom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
)

const (
	DefaultBaseURL    = "https://api.tomtom.com"
	DefaultLanguage   = "en-US"
	DefaultCategories = "0,1,2,5,6,10,11"
	apiVersion        = 5
)

// incidentFields selects the incident attributes the matcher and templates use
const incidentFields = `
{
	incidents {
		type,
		geometry {
			type,
			coordinates
		},
		properties {
			id,
			events {
				description,
				code
			},
			startTime,
			endTime,
			from,
			to,
			length,
			delay,
			timeValidity,
			probabilityOfOccurrence
		}
	}
}`

// HTTPDoer executes HTTP requests
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for non-200 responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("incident API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether a later attempt may succeed
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client provides access to the TomTom incident details endpoint
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	categories string
	httpClient HTTPDoer
}

// NewClient creates a TomTom client with a 30s timeout
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, DefaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client against baseURL using doer
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   DefaultLanguage,
		categories: DefaultCategories,
		httpClient: doer,
	}
}

// WithLanguage sets the language of incident descriptions
func (c *Client) WithLanguage(language string) *Client {
	if language != "" {
		c.language = language
	}
	return c
}

// WithCategories sets the comma separated incident category filter
func (c *Client) WithCategories(categories string) *Client {
	if categories != "" {
		c.categories = categories
	}
	return c
}

// FetchIncidents returns the incidents inside bbox (minLon,minLat,maxLon,maxLat) as a
// GeoJSON FeatureCollection
func (c *Client) FetchIncidents(ctx context.Context, bbox string) ([]byte, error) {
	requestURL := c.requestURL(bbox)
	logging.Infow(ctx, "TomTom: requesting incidents", "url", redact(requestURL, c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", redactErr(err, c.apiKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.Errorw(ctx, "TomTom: unexpected response status",
			"status", resp.StatusCode, "body", string(body))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return ToFeatureCollection(body)
}

func (c *Client) requestURL(bbox string) string {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("bbox", bbox)
	params.Set("language", c.language)
	params.Set("fields", compactFields(incidentFields))
	params.Set("categoryFilter", c.categories)

	return fmt.Sprintf("%s/traffic/services/%d/incidentDetails?%s", c.baseURL, apiVersion, params.Encode())
}

// ToFeatureCollection renames the top-level incidents array to features and marks the
// document as a FeatureCollection. Other top-level keys are kept.
func ToFeatureCollection(body []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	incidents, ok := doc["incidents"]
	if !ok || string(incidents) == "null" {
		incidents = json.RawMessage("[]")
	}
	delete(doc, "incidents")
	doc["features"] = incidents
	doc["type"] = json.RawMessage(`"FeatureCollection"`)

	return json.Marshal(doc)
}

func compactFields(query string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, query)
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(secret), "REDACTED")
	return strings.ReplaceAll(s, secret, "REDACTED")
}

// redactedError hides the API key in the message and keeps the cause for errors.Is/As
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// url.Error carries the full request URL including the key
func redactErr(err error, secret string) error {
	msg := redact(err.Error(), secret)
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}
