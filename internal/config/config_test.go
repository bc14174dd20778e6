package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/incident"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/routing"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tomtom", cfg.Source.Type)
	assert.Equal(t, "en-US", cfg.Source.Language)
	assert.Equal(t, routing.BufferIntersection, cfg.Matching.Strategy)
	assert.Equal(t, 5.0, cfg.Matching.BufferRadius)
	assert.Equal(t, 40.0, cfg.Matching.MinIntersectionLength)
	assert.Equal(t, incident.UUID5, cfg.Identity.Strategy)
	assert.Equal(t, uint32(600), cfg.MQTT.Expiration)
	assert.Equal(t, "file", cfg.Mirror.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.Interval)
	assert.Equal(t, time.Minute, cfg.Retry.MaxElapsedTime)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeFile(t, "config.yaml", `
source:
  api_key: from-file
  bbox: "8.3,48.9,8.5,49.1"
otp:
  url: https://otp.example.com/otp/gtfs/v1
matching:
  min_intersection_length: 25
mqtt:
  uri: mqtt://broker/alerts/[alertId]
schedule:
  interval: 2m
`)

	t.Setenv("GIA_SOURCE__API_KEY", "from-env")
	t.Setenv("GIA_MQTT__EXPIRATION", "120")
	t.Setenv("GIA_MIRROR__DRIVER", "sqlite")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Source.APIKey, "environment wins over file")
	assert.Equal(t, "8.3,48.9,8.5,49.1", cfg.Source.BBox)
	assert.Equal(t, 25.0, cfg.Matching.MinIntersectionLength)
	assert.Equal(t, 5.0, cfg.Matching.BufferRadius, "unset keys keep defaults")
	assert.Equal(t, uint32(120), cfg.MQTT.Expiration)
	assert.Equal(t, "sqlite", cfg.Mirror.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Schedule.Interval)

	require.NoError(t, cfg.CheckSource())
	require.NoError(t, cfg.CheckMatch(true))
}

func TestLoad_APIKeyFile(t *testing.T) {
	keyPath := writeFile(t, "key", "  s3cret\n")
	t.Setenv("GIA_SOURCE__API_KEY_FILE", keyPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Source.APIKey)

	t.Setenv("GIA_SOURCE__API_KEY_FILE", filepath.Join(t.TempDir(), "missing"))
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"strategy": "matching:\n  strategy: nearest\n",
		"radius":   "matching:\n  buffer_radius: -1\n",
		"overlap":  "matching:\n  min_intersection_length: 0\n",
		"driver":   "mirror:\n  driver: redis\n",
		"identity": "identity:\n  strategy: sha1\n",
		"interval": "schedule:\n  interval: 0s\n",
		"otp":      "otp:\n  url: not a url\n",
	}

	for name, content := range cases {
		_, err := Load(writeFile(t, "config.yaml", content))
		assert.Error(t, err, name)
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCheckSource(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.CheckSource(), "tomtom needs a key")

	cfg.Source.APIKey = "k"
	assert.Error(t, cfg.CheckSource(), "tomtom needs a bbox")

	cfg.Source.BBox = "0,0,1,1"
	assert.NoError(t, cfg.CheckSource())

	cfg.Source.Type = "file"
	assert.Error(t, cfg.CheckSource())
	cfg.Source.Input = "incidents.geojson"
	assert.NoError(t, cfg.CheckSource())
}

func TestCheckMatch(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.CheckMatch(false), "otp url missing")

	cfg.OTP.URL = "https://otp.example.com"
	assert.NoError(t, cfg.CheckMatch(false))
	assert.Error(t, cfg.CheckMatch(true), "no sink")

	cfg.Output.Path = "alerts.pbf"
	assert.NoError(t, cfg.CheckMatch(true))
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "GIA_TEST_DOTENV=loaded\n")
	t.Cleanup(func() { os.Unsetenv("GIA_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("GIA_TEST_DOTENV"))
}
