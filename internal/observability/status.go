package observability

import (
	"sync"
	"time"
)

type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhasePlanning    Phase = "PLANNING"
	PhaseResearching Phase = "RESEARCHING"
	PhaseReporting   Phase = "REPORTING"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentPhase  Phase
	ActiveTask    string
	ActiveRuns    int
	CompletedRuns int
	LastHeartbeat time.Time
}

// Snapshot is a copy of the status safe to serialize.
type Snapshot struct {
	Phase         Phase     `json:"phase"`
	ActiveTask    string    `json:"active_task,omitempty"`
	ActiveRuns    int       `json:"active_runs"`
	CompletedRuns int       `json:"completed_runs"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Uptime        string    `json:"uptime"`
}

var globalStatus = &SystemStatus{
	CurrentPhase:  PhaseIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(phase Phase, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentPhase = phase
	globalStatus.ActiveTask = task
}

// BeginRun marks a research run as started.
func BeginRun(question string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.ActiveRuns++
	globalStatus.CurrentPhase = PhasePlanning
	globalStatus.ActiveTask = question
}

// EndRun marks a research run as finished and goes idle when none remain.
func EndRun() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	if globalStatus.ActiveRuns > 0 {
		globalStatus.ActiveRuns--
	}
	globalStatus.CompletedRuns++
	if globalStatus.ActiveRuns == 0 {
		globalStatus.CurrentPhase = PhaseIdle
		globalStatus.ActiveTask = ""
	}
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Phase, string, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentPhase, globalStatus.ActiveTask, globalStatus.LastHeartbeat
}

func GetSnapshot() Snapshot {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return Snapshot{
		Phase:         globalStatus.CurrentPhase,
		ActiveTask:    globalStatus.ActiveTask,
		ActiveRuns:    globalStatus.ActiveRuns,
		CompletedRuns: globalStatus.CompletedRuns,
		LastHeartbeat: globalStatus.LastHeartbeat,
		Uptime:        time.Since(startTime).Round(time.Second).String(),
	}
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
