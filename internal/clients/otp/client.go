// Package otp loads the active transit patterns and their shapes from an
// OpenTripPlanner GraphQL endpoint.
package otp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/machinebox/graphql"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/geo"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// DateLayout is the service date format expected by tripsForDate
const DateLayout = "2006-01-02"

const patternsQuery = `
query PatternsWithShapes($date: String!) {
	patterns {
		headsign
		directionId
		route {
			gtfsId
			shortName
			longName
			mode
			type
		}
		tripsForDate(serviceDate: $date) {
			gtfsId
		}
		patternGeometry {
			points
		}
	}
}`

type patternsResponse struct {
	Patterns []struct {
		Headsign    string `json:"headsign"`
		DirectionID *int   `json:"directionId"`
		Route       struct {
			GtfsID    string `json:"gtfsId"`
			ShortName string `json:"shortName"`
			LongName  string `json:"longName"`
			Mode      string `json:"mode"`
			Type      *int   `json:"type"`
		} `json:"route"`
		TripsForDate []struct {
			GtfsID string `json:"gtfsId"`
		} `json:"tripsForDate"`
		PatternGeometry *struct {
			Points string `json:"points"`
		} `json:"patternGeometry"`
	} `json:"patterns"`
}

// Client queries one OTP GraphQL endpoint
type Client struct {
	endpoint string
	gql      *graphql.Client
	geo      geo.GeoUtils
}

// NewClient creates a client for the GraphQL endpoint with a 30s timeout
func NewClient(endpoint string) *Client {
	return NewClientWithHTTPClient(endpoint, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTPClient creates a client using httpClient
func NewClientWithHTTPClient(endpoint string, httpClient *http.Client) *Client {
	return &Client{
		endpoint: endpoint,
		gql:      graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient)),
		geo:      geo.NewGeoUtils(),
	}
}

// LoadActivePatterns returns the patterns with at least one trip on date and a known
// shape. Route ids are stripped of their feed prefix.
func (c *Client) LoadActivePatterns(ctx context.Context, date time.Time) ([]routing.Pattern, error) {
	serviceDate := date.Format(DateLayout)
	logging.Infow(ctx, "OTP: loading active patterns", "endpoint", c.endpoint, "date", serviceDate)

	req := graphql.NewRequest(patternsQuery)
	req.Var("date", serviceDate)

	var resp patternsResponse
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}

	patterns := make([]routing.Pattern, 0, len(resp.Patterns))
	var inactive, broken int

	for _, p := range resp.Patterns {
		if p.PatternGeometry == nil || len(p.TripsForDate) == 0 {
			inactive++
			continue
		}

		points, err := c.geo.DecodePolyline(p.PatternGeometry.Points)
		if err != nil {
			broken++
			logging.Warnw(ctx, "OTP: skipping pattern with undecodable geometry",
				"route.gtfs_id", p.Route.GtfsID, "headsign", p.Headsign, "error", err)
			continue
		}

		pattern := routing.Pattern{
			Headsign: p.Headsign,
			Route: routing.Route{
				GtfsID:    StripFeedID(p.Route.GtfsID),
				ShortName: p.Route.ShortName,
				LongName:  p.Route.LongName,
				Mode:      p.Route.Mode,
			},
			Shape: geo.Polyline{EncodedPolyline: p.PatternGeometry.Points, Points: points}.LineString(),
		}
		if p.DirectionID != nil {
			pattern.DirectionID = *p.DirectionID
		}
		if p.Route.Type != nil {
			pattern.Route.Type = *p.Route.Type
		}

		patterns = append(patterns, pattern)
	}

	logging.Infow(ctx, "OTP: loaded active patterns",
		"patterns", len(patterns), "inactive", inactive, "broken", broken)

	return patterns, nil
}

// StripFeedID removes everything up to and including the first ':'
func StripFeedID(id string) string {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}
