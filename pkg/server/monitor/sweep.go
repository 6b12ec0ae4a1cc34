// Package monitor tracks background sweep health for health checks.
package monitor

import (
	"sync"
	"time"
)

// SweepMonitor tracks the health and failures of one background sweep
// (lifecycle pass, offline demotion, GC).
type SweepMonitor struct {
	// HealthyWindow is how long without a success before the sweep is
	// considered unhealthy. Zero falls back to two hours.
	HealthyWindow time.Duration

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// RecordSuccess records a successful sweep.
func (m *SweepMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSuccess = time.Now()
	m.lastAttempt = time.Now()
	m.consecutiveErrors = 0
	m.lastError = ""
}

// RecordFailure records a failed sweep.
func (m *SweepMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy returns true if the sweep is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within the healthy window
//   - More than 3 consecutive failures
func (m *SweepMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

// healthyLocked evaluates health. Callers hold mu; acquiring it again
// here could deadlock against a queued writer.
func (m *SweepMonitor) healthyLocked() bool {
	window := m.HealthyWindow
	if window == 0 {
		window = 2 * time.Hour
	}
	if m.lastSuccess.IsZero() {
		return false
	}
	if time.Since(m.lastSuccess) > window {
		return false
	}
	if m.consecutiveErrors > 3 {
		return false
	}
	return true
}

// SweepStatus is the sweep state reported by health checks.
type SweepStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current sweep status for health checks.
func (m *SweepMonitor) Status() SweepStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := SweepStatus{
		Healthy: m.healthyLocked(),
	}
	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(m.lastSuccess).String()
	}
	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}
	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}
	return status
}
