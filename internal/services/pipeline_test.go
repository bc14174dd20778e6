package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
)

func TestPipeline_Match(t *testing.T) {
	pipeline := newTestPipeline(t, incident.Passthrough)

	incidents := []incident.Incident{
		lineIncident("closed", "401", nil, 0),
		lineIncident("unknown-code", "999", nil, 0),
		lineIncident("far-away", "401", nil, 5000),
		lineIncident("jam-vetoed", "108", float(50), 0),
		lineIncident("jam", "108", float(150), 0),
	}

	list, matches := pipeline.Match(testContext(t), incidents, testPatterns())
	require.Len(t, list, 2)

	closed := list[0]
	assert.Equal(t, "closed", closed.ID)
	assert.Equal(t, "CONSTRUCTION", closed.Cause)
	assert.Equal(t, "DETOUR", closed.Effect)
	require.Len(t, closed.InformedEntity, 2, "S1 appears once although two patterns match")
	assert.Equal(t, "S1", closed.InformedEntity[0].RouteID)
	assert.Equal(t, "S10", closed.InformedEntity[1].RouteID)
	assert.Equal(t, "Closure A - B", closed.HeaderText.Translation[0].Text)

	jam := list[1]
	assert.Equal(t, "jam", jam.ID)
	assert.Equal(t, "Lines S1, S10", jam.HeaderText.Translation[0].Text)

	require.Len(t, matches, 2)
	assert.Equal(t, "closure", matches[0].Template)
	assert.Len(t, matches[0].Shape, 2)
}

func TestPipeline_UUID5Identity(t *testing.T) {
	pipeline := newTestPipeline(t, incident.UUID5)

	list, _ := pipeline.Match(testContext(t), []incident.Incident{lineIncident("E1", "401", nil, 0)}, testPatterns())
	require.Len(t, list, 1)
	assert.Equal(t, "f51f0cd1-5dfa-5305-980a-3765d8729efd", list[0].ID)
}

func TestPipeline_DuplicateIDsLastWins(t *testing.T) {
	pipeline := newTestPipeline(t, incident.Passthrough)

	first := lineIncident("dup", "401", nil, 0)
	other := lineIncident("other", "401", nil, 0)
	second := lineIncident("dup", "401", nil, 0)
	second.From = "C"

	list, _ := pipeline.Match(testContext(t), []incident.Incident{first, other, second}, testPatterns())
	require.Len(t, list, 2)
	assert.Equal(t, "dup", list[0].ID, "position of the first occurrence")
	assert.Equal(t, "Closure C - B", list[0].HeaderText.Translation[0].Text, "content of the last occurrence")
	assert.Equal(t, "other", list[1].ID)
}

func TestPipeline_NoPatterns(t *testing.T) {
	pipeline := newTestPipeline(t, incident.Passthrough)

	list, matches := pipeline.Match(testContext(t), []incident.Incident{lineIncident("a", "401", nil, 0)}, nil)
	assert.Empty(t, list)
	assert.Empty(t, matches)
}
