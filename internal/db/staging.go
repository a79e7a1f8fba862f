package db

import (
	"sync"

	"github.com/ldi/tend/internal/lifecycle"
)

// StagingManager holds task trees that are being assembled across several
// calls, keyed by session, until they are committed together.
type StagingManager struct {
	mu     sync.RWMutex
	staged map[string][]lifecycle.NewTask
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		staged: make(map[string][]lifecycle.NewTask),
	}
}

func (sm *StagingManager) AddTask(sessionID string, item lifecycle.NewTask) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.staged[sessionID] = append(sm.staged[sessionID], item)
	return len(sm.staged[sessionID])
}

func (sm *StagingManager) GetAndClear(sessionID string) []lifecycle.NewTask {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	items := sm.staged[sessionID]
	delete(sm.staged, sessionID)
	return items
}

func (sm *StagingManager) Peek(sessionID string) []lifecycle.NewTask {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return append([]lifecycle.NewTask(nil), sm.staged[sessionID]...)
}
