package otp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContext carries a logger for code that logs through the context
func testContext(t *testing.T) context.Context {
	return logging.EnsureLogger(t.Context())
}

const patternsFixture = `{
	"data": {
		"patterns": [
			{
				"headsign": "Bruchsal",
				"directionId": 0,
				"route": {"gtfsId": "kvv:S31:x", "shortName": "S31", "longName": "Odenwald", "mode": "RAIL", "type": 109},
				"tripsForDate": [{"gtfsId": "kvv:T1"}],
				"patternGeometry": {"points": "_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@"}
			},
			{
				"headsign": "No trips today",
				"directionId": 1,
				"route": {"gtfsId": "kvv:S32", "shortName": "S32", "longName": "", "mode": "RAIL", "type": 109},
				"tripsForDate": [],
				"patternGeometry": {"points": "_p~iF~ps|U_ulLnnqC"}
			},
			{
				"headsign": "No shape",
				"directionId": 0,
				"route": {"gtfsId": "kvv:S33", "shortName": "S33", "longName": "", "mode": "RAIL", "type": 109},
				"tripsForDate": [{"gtfsId": "kvv:T2"}],
				"patternGeometry": null
			},
			{
				"headsign": "Broken shape",
				"directionId": null,
				"route": {"gtfsId": "S34", "shortName": "S34", "longName": "", "mode": "BUS", "type": null},
				"tripsForDate": [{"gtfsId": "kvv:T3"}],
				"patternGeometry": {"points": ""}
			}
		]
	}
}`

func newTestServer(t *testing.T, response string, seenDate *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Query, "PatternsWithShapes")
		if seenDate != nil {
			*seenDate, _ = body.Variables["date"].(string)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
}

func TestLoadActivePatterns(t *testing.T) {
	var seenDate string
	server := newTestServer(t, patternsFixture, &seenDate)
	defer server.Close()

	client := NewClient(server.URL)
	patterns, err := client.LoadActivePatterns(testContext(t), time.Date(2024, 5, 17, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "2024-05-17", seenDate)
	require.Len(t, patterns, 1, "inactive, shapeless and undecodable patterns are dropped")

	p := patterns[0]
	assert.Equal(t, "Bruchsal", p.Headsign)
	assert.Equal(t, "S31:x", p.Route.GtfsID, "only the feed prefix is stripped")
	assert.Equal(t, "S31", p.Route.ShortName)
	assert.Equal(t, 109, p.Route.Type)
	require.Len(t, p.Shape, 3)

	// polyline is (lat, lon), shapes are (lon, lat)
	assert.InDelta(t, -120.2, p.Shape[0][0], 1e-6)
	assert.InDelta(t, 38.5, p.Shape[0][1], 1e-6)
}

func TestLoadActivePatterns_NoPatterns(t *testing.T) {
	server := newTestServer(t, `{"data": {"patterns": null}}`, nil)
	defer server.Close()

	patterns, err := NewClient(server.URL).LoadActivePatterns(testContext(t), time.Now())
	require.NoError(t, err)
	assert.Empty(t, patterns)
	assert.NotNil(t, patterns)
}

func TestLoadActivePatterns_GraphQLError(t *testing.T) {
	server := newTestServer(t, `{"errors": [{"message": "boom"}]}`, nil)
	defer server.Close()

	_, err := NewClient(server.URL).LoadActivePatterns(testContext(t), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestStripFeedID(t *testing.T) {
	assert.Equal(t, "S1", StripFeedID("kvv:S1"))
	assert.Equal(t, "S1:a", StripFeedID("kvv:S1:a"))
	assert.Equal(t, "S1", StripFeedID("S1"))
	assert.Equal(t, "", StripFeedID("kvv:"))
}
