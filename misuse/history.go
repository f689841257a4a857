// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package misuse

import (
	"sync"
	"time"
)

// History retention constants
const (
	// HistoryWindow is how far back tool calls are kept per session.
	HistoryWindow = 5 * time.Minute

	// MaxHistorySize caps the number of retained calls per session.
	MaxHistorySize = 100
)

// CallRecord is a single observed tool call.
type CallRecord struct {
	ToolName     string                 `json:"tool_name"`
	Args         map[string]interface{} `json:"args"`
	Timestamp    time.Time              `json:"timestamp"`
	Success      bool                   `json:"success"`
	EnterpriseID string                 `json:"enterprise_id"`
	WorkspaceID  string                 `json:"workspace_id,omitempty"`
}

// HistoryStore keeps recent tool calls per session for pattern analysis.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append records a call and prunes expired or excess entries.
	Append(sessionID string, rec CallRecord)

	// Recent returns the retained calls for a session in arrival order.
	Recent(sessionID string) []CallRecord

	// Clear drops all history for a session.
	Clear(sessionID string)
}

// MemoryHistory is a bounded in-memory history store.
// Entries older than HistoryWindow are pruned on every append, and the
// newest MaxHistorySize entries win when a session is busy.
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]CallRecord
	now      func() time.Time
}

// NewMemoryHistory creates an in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return NewMemoryHistoryWithClock(time.Now)
}

// NewMemoryHistoryWithClock creates a store with an injected time source.
// Used in tests to make pruning deterministic.
func NewMemoryHistoryWithClock(now func() time.Time) *MemoryHistory {
	return &MemoryHistory{
		sessions: make(map[string][]CallRecord),
		now:      now,
	}
}

// Append implements HistoryStore.
func (h *MemoryHistory) Append(sessionID string, rec CallRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	history := append(h.sessions[sessionID], rec)

	cutoff := h.now().Add(-HistoryWindow)
	pruned := history[:0]
	for _, r := range history {
		if r.Timestamp.After(cutoff) {
			pruned = append(pruned, r)
		}
	}

	if len(pruned) > MaxHistorySize {
		pruned = pruned[len(pruned)-MaxHistorySize:]
	}

	h.sessions[sessionID] = pruned
}

// Recent implements HistoryStore.
func (h *MemoryHistory) Recent(sessionID string) []CallRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	history := h.sessions[sessionID]
	out := make([]CallRecord, len(history))
	copy(out, history)
	return out
}

// Clear implements HistoryStore.
func (h *MemoryHistory) Clear(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}
