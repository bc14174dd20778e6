package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// IncidentSource delivers the current incidents as a GeoJSON FeatureCollection
type IncidentSource interface {
	LoadIncidents(ctx context.Context) ([]byte, error)
}

// PatternSource delivers the patterns active on a service date
type PatternSource interface {
	LoadActivePatterns(ctx context.Context, date time.Time) ([]routing.Pattern, error)
}

// IncidentFetcher is implemented by incident provider clients
type IncidentFetcher interface {
	FetchIncidents(ctx context.Context, bbox string) ([]byte, error)
}

// ProviderSource fetches incidents inside a bounding box from a provider
type ProviderSource struct {
	Fetcher IncidentFetcher
	BBox    string
}

// LoadIncidents implements IncidentSource
func (s *ProviderSource) LoadIncidents(ctx context.Context) ([]byte, error) {
	return s.Fetcher.FetchIncidents(ctx, s.BBox)
}

// FileSource reads a previously fetched FeatureCollection
type FileSource struct {
	Path string
}

// LoadIncidents implements IncidentSource
func (s *FileSource) LoadIncidents(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read incidents: %w", err)
	}
	return data, nil
}
