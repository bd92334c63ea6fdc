package domain

import (
	"time"
)

// WorkerStatus represents the status of a worker process
type WorkerStatus string

const (
	WorkerStatusOnline  WorkerStatus = "online"
	WorkerStatusOffline WorkerStatus = "offline"
)

// Worker is a process serving one or more queue pools
type Worker struct {
	ID          string         `json:"id"`
	Hostname    string         `json:"hostname"`
	Status      WorkerStatus   `json:"status"`
	Pools       []string       `json:"pools"`
	Concurrency map[string]int `json:"concurrency"`

	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsOnline returns true if the worker has sent a heartbeat recently
func (w *Worker) IsOnline(timeout time.Duration) bool {
	return time.Since(w.LastHeartbeat) < timeout
}

// WorkerStats contains aggregated worker statistics
type WorkerStats struct {
	TotalWorkers   int            `json:"total_workers"`
	OnlineWorkers  int            `json:"online_workers"`
	OfflineWorkers int            `json:"offline_workers"`
	PoolWorkers    map[string]int `json:"pool_workers"`
}

// HeartbeatTimeout is the duration after which a worker is considered offline
const HeartbeatTimeout = 30 * time.Second

// HeartbeatInterval is how often workers send heartbeats
const HeartbeatInterval = 10 * time.Second

// SessionStaleAfter is how long a session may sit in queued/scraping without progress
const SessionStaleAfter = 15 * time.Minute
