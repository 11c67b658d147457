// Package api provides the HTTP handlers of the linkshare control plane.
package api

// APIVersion represents the current API version supported by this server.
// This allows clients to auto-detect capabilities and use appropriate endpoints.
//
// Note: API versioning refers to capability levels, not URL prefixes.
// - REST API endpoints are at /api/... (no version prefix)
// - The event stream is at /ws/events
//
// The api_version field in /status indicates what features are available.
const (
	// APIVersion1 is the original API version.
	APIVersion1 = 1

	// CurrentAPIVersion is the highest API version supported by this server.
	CurrentAPIVersion = APIVersion1
)

// APICapabilities describes the features available at each API version.
var APICapabilities = map[int][]string{
	APIVersion1: {
		"linked-paths",
		"networks",
		"servers",
		"mode:LocalHost",
		"qr",
		"mirror",
		"events",
	},
}

// StatusResponse is the response from the /status endpoint.
type StatusResponse struct {
	Status         string   `json:"status"`
	Service        string   `json:"service"`
	Version        string   `json:"version,omitempty"`
	APIVersion     int      `json:"api_version"`
	Capabilities   []string `json:"capabilities,omitempty"`
	Storage        string   `json:"storage,omitempty"`
	StorageHealthy bool     `json:"storage_healthy"`
	RunningServers int      `json:"running_servers"`
	Networks       []string `json:"networks"`
}
