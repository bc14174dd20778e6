package main

import (
	"fmt"
	"log/slog"
	"net/http"
)

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>gtfs-incident-alerts</title>
    <style>
        body { font-family: 'Courier New', Consolas, monospace; padding: 20px; line-height: 1.4; }
        .header { font-weight: bold; }
    </style>
</head>
<body>
<pre>
<span class="header">gtfs-incident-alerts</span>

GTFS-Realtime service alerts generated from road traffic incidents
that affect active transit patterns.

<span class="header">Feed:</span>
  <a href="/alerts.pbf">GET /alerts.pbf</a>    - FULL_DATASET feed, protobuf
  <a href="/alerts.json">GET /alerts.json</a>   - FULL_DATASET feed, JSON with proto field names
  <a href="/status">GET /status</a>        - snapshot age and staleness

<span class="header">gRPC:</span>
  gtfsincidentalerts.v1.FeedService/GetFeed
  gtfsincidentalerts.v1.FeedService/GetFeedBody

Both answer 503 / UNAVAILABLE until the first pass completed.
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
