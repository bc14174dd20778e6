package services

import (
	"context"

	"github.com/dpup/prefab/logging"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/clients/mqtt"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/publish"
)

// MQTTPublisher connects to the broker for every cycle and runs the differential
// publisher against the mirror store. When the broker is unreachable the mirror is left
// untouched, so the next cycle still retracts what was published before.
type MQTTPublisher struct {
	uri   mqtt.BrokerURI
	opts  mqtt.Options
	store publish.MirrorStore
}

// NewMQTTPublisher parses rawURI; its path is the topic template
func NewMQTTPublisher(rawURI string, opts mqtt.Options, store publish.MirrorStore) (*MQTTPublisher, error) {
	uri, err := mqtt.ParseURI(rawURI)
	if err != nil {
		return nil, err
	}
	return &MQTTPublisher{uri: uri, opts: opts, store: store}, nil
}

// Publish implements AlertPublisher
func (m *MQTTPublisher) Publish(ctx context.Context, current []alerts.Alert) (publish.Result, error) {
	client, err := mqtt.Dial(ctx, m.uri, m.opts)
	if err != nil {
		return publish.Result{}, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logging.Warnw(ctx, "MQTT: disconnect failed", "error", err)
		}
	}()

	return publish.NewPublisher(m.store, client, m.uri.Topic).Publish(ctx, current)
}
