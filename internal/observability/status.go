package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle     Role = "IDLE"
	RoleExecutor Role = "EXECUTOR"
	RoleWorker   Role = "WORKER"
	RoleRouter   Role = "ROUTER"
)

// SystemStatus is what the live dashboard shows.
type SystemStatus struct {
	mu          sync.RWMutex
	CurrentRole Role
	ActivePlan  string
	ActiveTask  string
	UpdatedAt   time.Time
}

var globalStatus = &SystemStatus{
	CurrentRole: RoleIdle,
	UpdatedAt:   time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(role Role, planID, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = role
	globalStatus.ActivePlan = planID
	globalStatus.ActiveTask = task
	globalStatus.UpdatedAt = time.Now()
}

// ClearStatus goes back to idle, unless another plan has taken over the
// status since planID set it.
func ClearStatus(planID string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	if globalStatus.ActivePlan != planID {
		return
	}
	globalStatus.CurrentRole = RoleIdle
	globalStatus.ActivePlan = ""
	globalStatus.ActiveTask = ""
	globalStatus.UpdatedAt = time.Now()
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Role, string, string, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentRole, globalStatus.ActivePlan, globalStatus.ActiveTask, globalStatus.UpdatedAt
}
