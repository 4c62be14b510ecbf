package config

import "os"

// DefaultHostURL is where camclient looks for the host.
const DefaultHostURL = "http://localhost:8090"

// HostURL returns the camera host URL from CAMHOST_URL env var.
// Falls back to the provided default if not set.
func HostURL(defaultURL string) string {
	if url := os.Getenv("CAMHOST_URL"); url != "" {
		return url
	}
	return defaultURL
}
