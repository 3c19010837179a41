// Package runtime adapts the Docker engine for lab container lifecycle.
// The orchestrator talks to the Runtime interface; tests swap in a fake.
package runtime

import (
	"context"
)

// LabSpec describes one container to create. The hardening profile is fixed
// by the adapter; the spec only carries per-type variation.
type LabSpec struct {
	Name  string
	Image string
	Port  int
	Owner string
	Type  string
	Tmpfs map[string]string
}

// LabHandle is the runtime's reference to a created container.
type LabHandle struct {
	ContainerID string
	Address     string
	Port        int
}

// HostStats is aggregate host/container resource usage, returned verbatim
// by serverStats.
type HostStats struct {
	ContainersRunning int    `json:"containers_running"`
	ContainersTotal   int    `json:"containers_total"`
	Images            int    `json:"images"`
	CPUCores          int    `json:"cpu_cores"`
	MemoryTotalBytes  int64  `json:"memory_total_bytes"`
	ServerVersion     string `json:"server_version"`
}

// Runtime is the container runtime contract. Stop and Remove are idempotent:
// acting on an absent container is not an error.
type Runtime interface {
	// CreateLab creates and starts a hardened container, returning its
	// network address on the isolated bridge.
	CreateLab(ctx context.Context, spec LabSpec) (LabHandle, error)
	// StopAndRemove stops the container (if running) and removes it.
	StopAndRemove(ctx context.Context, containerID string) error
	// Stats reports aggregate host resource usage.
	Stats(ctx context.Context) (HostStats, error)
	// Close releases the underlying client.
	Close() error
}
