package main

import (
	"context"
	"fmt"

	"github.com/dpup/prefab/logging"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/cache"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/clients/mqtt"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/clients/otp"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/clients/tomtom"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/config"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/services"
)

// app holds the wired runner and the resources it owns
type app struct {
	runner *services.Runner
	mirror cache.MirrorStore
}

// newApp wires sources, pipeline and outputs from cfg. Template and matcher problems are
// configuration errors and fail here, before any pass runs.
func newApp(ctx context.Context, cfg *config.Config, snapshots *cache.Cache) (*app, error) {
	templates, err := alerts.LoadTemplates(cfg.Templates.Path)
	if err != nil {
		return nil, err
	}
	logging.Infow(ctx, "Templates loaded", "path", cfg.Templates.Path, "templates", len(templates))

	matcher, err := routing.NewRouteMatcher(cfg.Matching)
	if err != nil {
		return nil, err
	}

	identity, err := incident.NewAlertIdentity(cfg.Identity.Strategy)
	if err != nil {
		return nil, err
	}

	var source services.IncidentSource
	switch cfg.Source.Type {
	case "file":
		source = &services.FileSource{Path: cfg.Source.Input}
	case "tomtom":
		client := tomtom.NewClient(cfg.Source.APIKey).
			WithLanguage(cfg.Source.Language).
			WithCategories(cfg.Source.Categories)
		source = &services.ProviderSource{Fetcher: client, BBox: cfg.Source.BBox}
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}

	a := &app{
		runner: &services.Runner{
			Incidents:   source,
			Patterns:    otp.NewClient(cfg.OTP.URL),
			Pipeline:    services.NewPipeline(templates, matcher, identity),
			OutputPath:  cfg.Output.Path,
			KMLPath:     cfg.Output.KMLPath,
			Snapshots:   snapshots,
			SnapshotTTL: cfg.Schedule.Interval,
			Retry:       cfg.Retry,
		},
	}

	if cfg.MQTT.URI != "" {
		a.mirror, err = cache.OpenMirror(ctx, cfg.Mirror.Driver, cfg.Mirror.Path)
		if err != nil {
			return nil, err
		}

		publisher, err := services.NewMQTTPublisher(cfg.MQTT.URI, mqtt.Options{
			ClientID:   cfg.MQTT.ClientID,
			KeepAlive:  cfg.MQTT.KeepAlive,
			Expiration: cfg.MQTT.Expiration,
		}, a.mirror)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.runner.Publisher = publisher
	}

	return a, nil
}

// Close releases the mirror store
func (a *app) Close(ctx context.Context) {
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			logging.Warnw(ctx, "Failed to close mirror store", "error", err)
		}
	}
}
