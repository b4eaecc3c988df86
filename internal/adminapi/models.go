package adminapi

import "time"

// StatusResponse is returned by /healthz.
type StatusResponse struct {
	Status string `json:"status"`
}

// WorkerStats reports one worker's last known occupancy.
type WorkerStats struct {
	ID   int    `json:"id"`
	Host string `json:"host"`
	Used uint8  `json:"used"`
}

// CPUStats mirrors the host's current CPU load.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats mirrors the host's current memory load.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// RelayStats is the relay byte/connection counters, copied from
// stats.Snapshot so this package doesn't leak internal/stats types
// into the HTTP contract.
type RelayStats struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsClosed   uint64 `json:"connections_closed"`
	PickFailures        uint64 `json:"pick_failures"`
	BytesClientToUp     uint64 `json:"bytes_client_to_upstream"`
	BytesUpToClient     uint64 `json:"bytes_upstream_to_client"`
}

// StatsResponse is returned by /stats.
type StatsResponse struct {
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     time.Time     `json:"start_time"`
	CPU           CPUStats      `json:"cpu"`
	Memory        MemoryStats   `json:"memory"`
	Relay         RelayStats    `json:"relay"`
	Workers       []WorkerStats `json:"workers"`
}
