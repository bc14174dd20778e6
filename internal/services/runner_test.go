package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/cache"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/config"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/publish"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// MockIncidentSource is a mock implementation of IncidentSource
type MockIncidentSource struct {
	mock.Mock
}

func (m *MockIncidentSource) LoadIncidents(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// MockPatternSource is a mock implementation of PatternSource
type MockPatternSource struct {
	mock.Mock
}

func (m *MockPatternSource) LoadActivePatterns(ctx context.Context, date time.Time) ([]routing.Pattern, error) {
	args := m.Called(ctx, date)
	patterns, _ := args.Get(0).([]routing.Pattern)
	return patterns, args.Error(1)
}

// MockAlertPublisher is a mock implementation of AlertPublisher
type MockAlertPublisher struct {
	mock.Mock
}

func (m *MockAlertPublisher) Publish(ctx context.Context, current []alerts.Alert) (publish.Result, error) {
	args := m.Called(ctx, current)
	return args.Get(0).(publish.Result), args.Error(1)
}

type statusError struct{ retryable bool }

func (e statusError) Error() string   { return "status error" }
func (e statusError) Retryable() bool { return e.retryable }

var passTime = time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T, incidents IncidentSource, patterns PatternSource) *Runner {
	return &Runner{
		Incidents: incidents,
		Patterns:  patterns,
		Pipeline:  newTestPipeline(t, incident.Passthrough),
		Retry: config.RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxElapsedTime:  200 * time.Millisecond,
		},
		now: func() time.Time { return passTime },
	}
}

func TestRunner_RunOnce(t *testing.T) {
	dir := t.TempDir()
	data := featureCollection(
		lineIncident("closed", "401", nil, 0),
		lineIncident("far", "401", nil, 5000),
	)

	incidents := &MockIncidentSource{}
	incidents.On("LoadIncidents", mock.Anything).Return(data, nil)
	patterns := &MockPatternSource{}
	patterns.On("LoadActivePatterns", mock.Anything, passTime).Return(testPatterns(), nil)
	publisher := &MockAlertPublisher{}
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(list []alerts.Alert) bool {
		return len(list) == 1 && list[0].ID == "closed"
	})).Return(publish.Result{Upserted: []string{"closed"}}, nil)

	snapshots := cache.NewCache()
	runner := newTestRunner(t, incidents, patterns)
	runner.OutputPath = filepath.Join(dir, "alerts.pbf")
	runner.KMLPath = filepath.Join(dir, "matches.kml")
	runner.Publisher = publisher
	runner.Snapshots = snapshots
	runner.SnapshotTTL = time.Minute

	report, err := runner.RunOnce(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Incidents)
	assert.Equal(t, 4, report.Patterns)
	assert.Equal(t, 1, report.Alerts)
	require.NotNil(t, report.Published)
	assert.Equal(t, []string{"closed"}, report.Published.Upserted)

	raw, err := os.ReadFile(runner.OutputPath)
	require.NoError(t, err)
	msg := new(gtfs.FeedMessage)
	require.NoError(t, proto.Unmarshal(raw, msg))
	assert.Equal(t, gtfs.FeedHeader_FULL_DATASET, msg.Header.GetIncrementality())
	assert.Equal(t, uint64(passTime.Unix()), msg.Header.GetTimestamp())
	require.Len(t, msg.Entity, 1)
	assert.Equal(t, "closed", msg.Entity[0].GetId())

	kml, err := os.ReadFile(runner.KMLPath)
	require.NoError(t, err)
	assert.Contains(t, string(kml), "<name>closed</name>")

	var cached gtfs.FeedMessage
	_, found, err := snapshots.GetWithMetadata(SnapshotKey, &cached)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, cached.Entity, 1)

	incidents.AssertExpectations(t)
	patterns.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestRunner_SourceFailureAbortsPass(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "alerts.json")

	incidents := &MockIncidentSource{}
	incidents.On("LoadIncidents", mock.Anything).Return(nil, statusError{retryable: false}).Once()
	patterns := &MockPatternSource{}
	publisher := &MockAlertPublisher{}

	runner := newTestRunner(t, incidents, patterns)
	runner.OutputPath = output
	runner.Publisher = publisher

	_, err := runner.RunOnce(testContext(t))
	require.Error(t, err)

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "no output is written when the source fails")
	incidents.AssertNumberOfCalls(t, "LoadIncidents", 1)
	patterns.AssertNotCalled(t, "LoadActivePatterns", mock.Anything, mock.Anything)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRunner_RetriesTransientFailures(t *testing.T) {
	incidents := &MockIncidentSource{}
	incidents.On("LoadIncidents", mock.Anything).Return(nil, statusError{retryable: true}).Twice()
	incidents.On("LoadIncidents", mock.Anything).Return(featureCollection(), nil).Once()
	patterns := &MockPatternSource{}
	patterns.On("LoadActivePatterns", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset")).Once()
	patterns.On("LoadActivePatterns", mock.Anything, mock.Anything).Return([]routing.Pattern{}, nil).Once()

	report, err := newTestRunner(t, incidents, patterns).RunOnce(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Alerts)
	incidents.AssertNumberOfCalls(t, "LoadIncidents", 3)
	patterns.AssertNumberOfCalls(t, "LoadActivePatterns", 2)
}

func TestRunner_NoRetryWhenDisabled(t *testing.T) {
	incidents := &MockIncidentSource{}
	incidents.On("LoadIncidents", mock.Anything).Return(nil, errors.New("timeout"))

	runner := newTestRunner(t, incidents, &MockPatternSource{})
	runner.Retry = config.RetryConfig{}

	_, err := runner.RunOnce(testContext(t))
	require.Error(t, err)
	incidents.AssertNumberOfCalls(t, "LoadIncidents", 1)
}

func TestRunner_OutputFailuresDoNotStopOtherOutputs(t *testing.T) {
	incidents := &MockIncidentSource{}
	incidents.On("LoadIncidents", mock.Anything).Return(featureCollection(lineIncident("closed", "401", nil, 0)), nil)
	patterns := &MockPatternSource{}
	patterns.On("LoadActivePatterns", mock.Anything, mock.Anything).Return(testPatterns(), nil)
	publisher := &MockAlertPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(publish.Result{}, errors.New("broker down"))

	snapshots := cache.NewCache()
	runner := newTestRunner(t, incidents, patterns)
	runner.OutputPath = filepath.Join(t.TempDir(), "missing", "alerts.pbf")
	runner.Publisher = publisher
	runner.Snapshots = snapshots
	runner.SnapshotTTL = time.Minute

	report, err := runner.RunOnce(testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write feed")
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1, report.Alerts)
	assert.False(t, snapshots.IsStale(SnapshotKey), "snapshot is stored despite output failures")
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.geojson")
	require.NoError(t, os.WriteFile(path, featureCollection(), 0o644))

	data, err := (&FileSource{Path: path}).LoadIncidents(testContext(t))
	require.NoError(t, err)
	assert.Contains(t, string(data), "FeatureCollection")

	_, err = (&FileSource{Path: path + ".missing"}).LoadIncidents(testContext(t))
	assert.Error(t, err)
}
