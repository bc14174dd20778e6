// Package publish keeps subscribers of a publish/subscribe transport in sync with the
// current alert set by sending upserts and retractions against a persisted mirror.
package publish

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	"google.golang.org/protobuf/proto"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/feed"
)

// AlertIDPlaceholder is replaced by the alert id in topic templates
const AlertIDPlaceholder = "[alertId]"

// Mirror maps alert id to the last published alert body
type Mirror map[string]alerts.Alert

// MirrorStore persists the mirror between cycles
type MirrorStore interface {
	// Load returns the persisted mirror; missing state is an empty mirror
	Load(ctx context.Context) (Mirror, error)
	// Save replaces the persisted mirror
	Save(ctx context.Context, mirror Mirror) error
}

// Transport delivers one payload to one topic
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Result summarizes one publish cycle
type Result struct {
	Upserted  []string
	Retracted []string // successfully sent retractions
	Unchanged int // upserts whose body equals the mirrored one
	Failed    int
}

// Publisher runs differential publish cycles
type Publisher struct {
	store         MirrorStore
	transport     Transport
	topicTemplate string
	now           func() time.Time
}

// NewPublisher creates a Publisher. topicTemplate may contain AlertIDPlaceholder.
func NewPublisher(store MirrorStore, transport Transport, topicTemplate string) *Publisher {
	return &Publisher{
		store:         store,
		transport:     transport,
		topicTemplate: topicTemplate,
		now:           time.Now,
	}
}

// Publish upserts every current alert, retracts mirrored alerts that are gone and
// persists the new mirror. The mirror is saved even when single publishes fail, those
// are counted in the result. The returned error reports a failed Save.
func (p *Publisher) Publish(ctx context.Context, current []alerts.Alert) (Result, error) {
	var result Result

	mirror, err := p.store.Load(ctx)
	if err != nil {
		logging.Warnw(ctx, "Mirror: failed to load, starting empty", "error", err)
		mirror = nil
	}
	if mirror == nil {
		mirror = Mirror{}
	}

	now := p.now()
	live := make(map[string]bool, len(current))

	for _, alert := range current {
		live[alert.ID] = true

		if previous, ok := mirror[alert.ID]; ok && alerts.Fingerprint(previous) == alerts.Fingerprint(alert) {
			result.Unchanged++
		}

		if err := p.send(ctx, alert, false, now); err != nil {
			result.Failed++
			logging.Errorw(ctx, "Publish: upsert failed", "alert.id", alert.ID, "error", err)
		} else {
			result.Upserted = append(result.Upserted, alert.ID)
		}
		mirror[alert.ID] = alert
	}

	stale := make([]string, 0)
	for id := range mirror {
		if !live[id] {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)

	// a failed retraction still leaves the mirror, the next cycle will not retry it
	for _, id := range stale {
		body := mirror[id]
		body.ID = id
		if err := p.send(ctx, body, true, now); err != nil {
			result.Failed++
			logging.Errorw(ctx, "Publish: retraction failed", "alert.id", id, "error", err)
		} else {
			result.Retracted = append(result.Retracted, id)
			logging.Infow(ctx, "Publish: alert retracted", "alert.id", id)
		}
		delete(mirror, id)
	}

	if err := p.store.Save(ctx, mirror); err != nil {
		return result, fmt.Errorf("failed to save mirror: %w", err)
	}

	return result, nil
}

func (p *Publisher) send(ctx context.Context, alert alerts.Alert, deleted bool, now time.Time) error {
	if alert.ID == "" {
		return fmt.Errorf("alert without id")
	}

	payload, err := proto.Marshal(feed.Differential(alert, deleted, now))
	if err != nil {
		return fmt.Errorf("failed to marshal feed message: %w", err)
	}

	topic := Topic(p.topicTemplate, alert.ID)
	logging.Debugw(ctx, "Publish: sending", "alert.id", alert.ID, "topic", topic, "deleted", deleted)

	return p.transport.Publish(ctx, topic, payload)
}

var topicSanitizer = strings.NewReplacer("+", "_", "#", "_", "$", "_")

// Topic substitutes the alert id and neutralizes MQTT wildcard and system characters
func Topic(template, alertID string) string {
	topic := strings.ReplaceAll(template, AlertIDPlaceholder, alertID)
	return topicSanitizer.Replace(topic)
}
