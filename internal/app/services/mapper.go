package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kkkqkx123/open-agent-sub006/internal/app/dto"
	"github.com/kkkqkx123/open-agent-sub006/internal/core/thread"
)

// SessionThreadMapper is the bidirectional index between external session
// identifiers and thread identifiers. The relationship is strictly
// one-to-one; both directions mutate atomically under one lock, so the
// forward and reverse maps can never disagree.
type SessionThreadMapper struct {
	manager *ThreadManager

	mu              sync.RWMutex
	sessionToThread map[string]string
	threadToSession map[string]string
}

// NewSessionThreadMapper wires a mapper over a thread manager.
func NewSessionThreadMapper(manager *ThreadManager) *SessionThreadMapper {
	return &SessionThreadMapper{
		manager:         manager,
		sessionToThread: make(map[string]string),
		threadToSession: make(map[string]string),
	}
}

// CreateSessionWithThread creates a fresh thread and binds a new session
// identifier to it.
func (sm *SessionThreadMapper) CreateSessionWithThread(ctx context.Context, graphID string, metadata map[string]interface{}) (sessionID, threadID string, err error) {
	t, err := sm.manager.CreateThread(ctx, &dto.CreateThreadRequest{
		GraphID:       graphID,
		InitialValues: map[string]interface{}{},
		Metadata:      metadata,
	})
	if err != nil {
		return "", "", err
	}

	sessionID = uuid.New().String()
	sm.mu.Lock()
	sm.sessionToThread[sessionID] = t.ID
	sm.threadToSession[t.ID] = sessionID
	sm.mu.Unlock()
	return sessionID, t.ID, nil
}

// GetThreadForSession resolves the thread bound to a session.
func (sm *SessionThreadMapper) GetThreadForSession(sessionID string) (string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	threadID, ok := sm.sessionToThread[sessionID]
	if !ok {
		return "", fmt.Errorf("%w: no thread for session %s", thread.ErrNotFound, sessionID)
	}
	return threadID, nil
}

// GetSessionForThread resolves the session bound to a thread.
func (sm *SessionThreadMapper) GetSessionForThread(threadID string) (string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sessionID, ok := sm.threadToSession[threadID]
	if !ok {
		return "", fmt.Errorf("%w: no session for thread %s", thread.ErrNotFound, threadID)
	}
	return sessionID, nil
}

// DeleteMapping unbinds a session from its thread, removing both
// directions atomically. The thread itself survives.
func (sm *SessionThreadMapper) DeleteMapping(sessionID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	threadID, ok := sm.sessionToThread[sessionID]
	if !ok {
		return false
	}
	delete(sm.sessionToThread, sessionID)
	delete(sm.threadToSession, threadID)
	return true
}
