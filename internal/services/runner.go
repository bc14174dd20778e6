package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dpup/prefab/logging"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/cache"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/config"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/feed"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/publish"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

// SnapshotKey is the cache key of the latest assembled feed
const SnapshotKey = "feed:alerts"

// AlertPublisher runs one differential publish cycle
type AlertPublisher interface {
	Publish(ctx context.Context, current []alerts.Alert) (publish.Result, error)
}

// Runner executes complete passes: load incidents and patterns, match, write outputs
type Runner struct {
	Incidents IncidentSource
	Patterns  PatternSource
	Pipeline  *Pipeline

	OutputPath string
	KMLPath    string
	Publisher  AlertPublisher // optional

	Snapshots   *cache.Cache // optional
	SnapshotTTL time.Duration

	Retry config.RetryConfig

	now func() time.Time
}

// Report summarizes one pass
type Report struct {
	Incidents int
	Skipped   int
	Patterns  int
	Alerts    int
	Published *publish.Result
}

// RunOnce executes one pass. Failing to load incidents or patterns aborts the pass before
// any output is touched. Output failures are collected; every output is attempted.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	now := time.Now()
	if r.now != nil {
		now = r.now()
	}

	var data []byte
	err := r.retry(ctx, "incidents", func() error {
		var err error
		data, err = r.Incidents.LoadIncidents(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load incidents: %w", err)
	}

	incidents, skipped, err := incident.ParseFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse incidents: %w", err)
	}

	var patterns []routing.Pattern
	err = r.retry(ctx, "patterns", func() error {
		var err error
		patterns, err = r.Patterns.LoadActivePatterns(ctx, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	list, matches := r.Pipeline.Match(ctx, incidents, patterns)
	msg := feed.Assemble(list, now)

	report := &Report{
		Incidents: len(incidents),
		Skipped:   skipped,
		Patterns:  len(patterns),
		Alerts:    len(list),
	}

	var errs []error

	if r.OutputPath != "" {
		if err := feed.WriteFile(r.OutputPath, msg); err != nil {
			errs = append(errs, fmt.Errorf("failed to write feed: %w", err))
		} else {
			logging.Infow(ctx, "Runner: feed written", "path", r.OutputPath, "alerts", len(list))
		}
	}

	if r.KMLPath != "" {
		if err := feed.WriteMatchesKMLFile(r.KMLPath, matches); err != nil {
			errs = append(errs, fmt.Errorf("failed to write KML: %w", err))
		}
	}

	if r.Publisher != nil {
		result, err := r.Publisher.Publish(ctx, list)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to publish alerts: %w", err))
		} else {
			report.Published = &result
			logging.Infow(ctx, "Runner: alerts published",
				"upserted", len(result.Upserted), "retracted", len(result.Retracted),
				"unchanged", result.Unchanged, "failed", result.Failed)
		}
	}

	if r.Snapshots != nil {
		if err := r.Snapshots.Set(SnapshotKey, msg, r.SnapshotTTL, "runner"); err != nil {
			errs = append(errs, fmt.Errorf("failed to cache feed: %w", err))
		}
	}

	logging.Infow(ctx, "Runner: pass completed",
		"incidents", report.Incidents, "skipped", report.Skipped,
		"patterns", report.Patterns, "alerts", report.Alerts)

	return report, errors.Join(errs...)
}

// retryable is implemented by errors that know whether a later attempt may succeed
type retryable interface {
	Retryable() bool
}

func (r *Runner) retry(ctx context.Context, what string, op func() error) error {
	var b backoff.BackOff = &backoff.StopBackOff{}
	if r.Retry.MaxElapsedTime > 0 {
		exp := backoff.NewExponentialBackOff()
		if r.Retry.InitialInterval > 0 {
			exp.InitialInterval = r.Retry.InitialInterval
		}
		if r.Retry.MaxInterval > 0 {
			exp.MaxInterval = r.Retry.MaxInterval
		}
		exp.MaxElapsedTime = r.Retry.MaxElapsedTime
		b = exp
	}

	operation := func() error {
		err := op()
		var re retryable
		if err != nil && errors.As(err, &re) && !re.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logging.Warnw(ctx, "Runner: retrying", "source", what, "wait", wait.String(), "error", err)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}
