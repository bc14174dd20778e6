package alerts

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Fingerprint returns a content hash of the alert body. Two alerts with equal
// fingerprints publish identical payloads apart from the feed timestamp.
func Fingerprint(alert Alert) string {
	// struct field order makes the encoding canonical
	data, err := json.Marshal(alert)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
