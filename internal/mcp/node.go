package mcp

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

const appID = "mcp-core"

// NodeID returns a stable identifier for this host. The machine id is
// hashed with the application id so the raw value never leaves the host.
func NodeID() string {
	if id, err := machineid.ProtectedID(appID); err == nil && id != "" {
		return id[:16]
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
