// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SideHealth contains the health of the ingestion loop of one chain side.
type SideHealth struct {
	Side        string       `json:"side"`
	Status      SystemStatus `json:"status"`
	Running     bool         `json:"running"`
	LeaseHeld   bool         `json:"lease_held"`
	Failures    int          `json:"consecutive_failures"`
	LastError   string       `json:"last_error,omitempty"`
	LastBatchAt *time.Time   `json:"last_batch_at,omitempty"`
	Batches     uint64       `json:"batches"`
	Records     uint64       `json:"records"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus          `json:"system_status"`
	Storage      SystemStatus          `json:"storage"`
	StorageError string                `json:"storage_error,omitempty"`
	Sides        map[string]SideHealth `json:"sides"`
}

// worse returns the more severe of a and b.
func worse(a, b SystemStatus) SystemStatus {
	rank := func(s SystemStatus) int {
		switch s {
		case StatusCritical:
			return 2
		case StatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
