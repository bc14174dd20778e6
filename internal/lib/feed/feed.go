// Package feed turns built alerts into GTFS-Realtime feed messages and serializes them.
package feed

import (
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/alerts"
)

// Version is the GTFS-Realtime protocol version written into every header
const Version = "2.0"

// Assemble builds a full dataset snapshot with one entity per alert, in the given order
func Assemble(list []alerts.Alert, now time.Time) *gtfs.FeedMessage {
	msg := &gtfs.FeedMessage{
		Header: header(gtfs.FeedHeader_FULL_DATASET, now),
		Entity: make([]*gtfs.FeedEntity, 0, len(list)),
	}
	for i := range list {
		msg.Entity = append(msg.Entity, AsEntity(list[i]))
	}
	return msg
}

// Differential builds a single entity incremental message. Deleted marks a retraction.
func Differential(alert alerts.Alert, deleted bool, now time.Time) *gtfs.FeedMessage {
	entity := AsEntity(alert)
	if deleted {
		entity.IsDeleted = ptr(true)
	}
	return &gtfs.FeedMessage{
		Header: header(gtfs.FeedHeader_DIFFERENTIAL, now),
		Entity: []*gtfs.FeedEntity{entity},
	}
}

// AsEntity converts an alert into a feed entity
func AsEntity(a alerts.Alert) *gtfs.FeedEntity {
	g := new(gtfs.FeedEntity)
	g.Id = ptr(a.ID)
	g.Alert = new(gtfs.Alert)

	g.Alert.Cause = ptr(Cause(a.Cause))
	g.Alert.Effect = ptr(Effect(a.Effect))

	g.Alert.InformedEntity = make([]*gtfs.EntitySelector, len(a.InformedEntity))
	for i, e := range a.InformedEntity {
		g.Alert.InformedEntity[i] = &gtfs.EntitySelector{RouteId: ptr(e.RouteID)}
	}

	g.Alert.Url = translatedString(a.URL)
	g.Alert.HeaderText = translatedString(a.HeaderText)
	g.Alert.DescriptionText = translatedString(a.DescriptionText)

	return g
}

// Cause maps an enum name onto the GTFS-Realtime cause, UNKNOWN_CAUSE when unknown
func Cause(name string) gtfs.Alert_Cause {
	if v, ok := gtfs.Alert_Cause_value[name]; ok {
		return gtfs.Alert_Cause(v)
	}
	return gtfs.Alert_UNKNOWN_CAUSE
}

// Effect maps an enum name onto the GTFS-Realtime effect, UNKNOWN_EFFECT when unknown
func Effect(name string) gtfs.Alert_Effect {
	if v, ok := gtfs.Alert_Effect_value[name]; ok {
		return gtfs.Alert_Effect(v)
	}
	return gtfs.Alert_UNKNOWN_EFFECT
}

func header(incrementality gtfs.FeedHeader_Incrementality, now time.Time) *gtfs.FeedHeader {
	return &gtfs.FeedHeader{
		GtfsRealtimeVersion: ptr(Version),
		Incrementality:      ptr(incrementality),
		Timestamp:           ptr(uint64(now.Unix())),
	}
}

func translatedString(s alerts.TranslatedString) *gtfs.TranslatedString {
	ts := &gtfs.TranslatedString{
		Translation: make([]*gtfs.TranslatedString_Translation, len(s.Translation)),
	}
	for i, t := range s.Translation {
		ts.Translation[i] = &gtfs.TranslatedString_Translation{
			Text:     ptr(t.Text),
			Language: ptr(t.Language),
		}
	}
	return ts
}

func ptr[T any](thing T) *T {
	return &thing
}
