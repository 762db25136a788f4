package monitor

import (
	"sync"
	"time"
)

// GCMonitor tracks value-log garbage collection of the persistent cache.
type GCMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// RecordSuccess records a completed GC pass, including passes with nothing to rewrite.
func (gm *GCMonitor) RecordSuccess() {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	now := time.Now()
	gm.lastSuccess = now
	gm.lastAttempt = now
	gm.consecutiveErrors = 0
	gm.lastError = ""
}

// RecordFailure records a failed GC pass.
func (gm *GCMonitor) RecordFailure(err error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	gm.lastAttempt = time.Now()
	gm.consecutiveErrors++
	if err != nil {
		gm.lastError = err.Error()
	}
}

// IsHealthy is false after more than 3 consecutive failures.
// A store that has not run GC yet is healthy.
func (gm *GCMonitor) IsHealthy() bool {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	return gm.consecutiveErrors <= 3
}

// GCStatus is reported by the health endpoint.
type GCStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

func (gm *GCMonitor) Status() GCStatus {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	status := GCStatus{Healthy: gm.consecutiveErrors <= 3}
	if !gm.lastSuccess.IsZero() {
		status.LastSuccess = gm.lastSuccess.Format(time.RFC3339)
	}
	if !gm.lastAttempt.IsZero() {
		status.LastAttempt = gm.lastAttempt.Format(time.RFC3339)
	}
	if gm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = gm.consecutiveErrors
		status.LastError = gm.lastError
	}
	return status
}
