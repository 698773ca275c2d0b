package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kkkqkx123/open-agent-sub006/internal/app/dto"
	"github.com/kkkqkx123/open-agent-sub006/internal/core/thread"
)

// Checkpoint value keys the synchronizer projects. These are the only keys
// the engine writes with meaning attached; everything else in a values map
// stays opaque.
const (
	valueKeyMessages        = "messages"
	valueKeyStep            = "step"
	valueKeySessionID       = "session_id"
	valueKeySessionMetadata = "session_metadata"
)

// StateSynchronizer projects an external flat session representation onto
// thread checkpoint values and back. When both sides changed concurrently,
// last-writer-wins by UpdatedAt; on an exact tie the thread side wins
// (arbitrary but fixed).
type StateSynchronizer struct {
	manager *ThreadManager
	mapper  *SessionThreadMapper
	logger  *slog.Logger
}

// NewStateSynchronizer wires a synchronizer. The mapper may be nil when
// session IDs are managed elsewhere.
func NewStateSynchronizer(manager *ThreadManager, mapper *SessionThreadMapper, logger *slog.Logger) *StateSynchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateSynchronizer{manager: manager, mapper: mapper, logger: logger}
}

// SyncSessionToThread writes the session projection into the thread as a
// new checkpoint. Returns the new checkpoint ID, or an empty string when
// the thread side is newer (or tied) and wins. A CAS conflict from a
// concurrent writer is retried once against the fresh latest pointer.
func (s *StateSynchronizer) SyncSessionToThread(ctx context.Context, session *dto.SessionData, threadID string) (string, error) {
	t, err := s.manager.GetThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	if !session.UpdatedAt.After(t.UpdatedAt) {
		s.logger.Debug("session projection skipped, thread side wins",
			"thread_id", threadID,
			"session_updated_at", session.UpdatedAt,
			"thread_updated_at", t.UpdatedAt)
		return "", nil
	}

	values := map[string]interface{}{
		valueKeyStep: session.Step,
	}
	if session.SessionID != "" {
		values[valueKeySessionID] = session.SessionID
	}
	if session.Messages != nil {
		values[valueKeyMessages] = session.Messages
	}
	if session.Metadata != nil {
		values[valueKeySessionMetadata] = session.Metadata
	}

	req := &dto.UpdateStateRequest{
		ThreadID:                 threadID,
		Values:                   values,
		ExpectedBaseCheckpointID: t.LatestCheckpointID,
	}
	id, err := s.manager.UpdateState(ctx, req)
	if errors.Is(err, thread.ErrConflict) {
		// A concurrent writer advanced the pointer between our read and
		// the commit. Rebase once on the fresh latest.
		fresh, gerr := s.manager.GetThread(ctx, threadID)
		if gerr != nil {
			return "", gerr
		}
		req.ExpectedBaseCheckpointID = fresh.LatestCheckpointID
		id, err = s.manager.UpdateState(ctx, req)
	}
	return id, err
}

// SyncThreadToSession builds the flat session representation from the
// thread's latest checkpoint.
func (s *StateSynchronizer) SyncThreadToSession(ctx context.Context, threadID string) (*dto.SessionData, error) {
	t, err := s.manager.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	cp, err := s.manager.LatestCheckpoint(ctx, threadID)
	if err != nil {
		return nil, err
	}

	session := &dto.SessionData{UpdatedAt: t.UpdatedAt}
	if s.mapper != nil {
		if id, err := s.mapper.GetSessionForThread(threadID); err == nil {
			session.SessionID = id
		}
	}
	if session.SessionID == "" {
		if id, ok := cp.Values[valueKeySessionID].(string); ok {
			session.SessionID = id
		}
	}
	session.Step = asInt(cp.Values[valueKeyStep])
	session.Messages = asMessageList(cp.Values[valueKeyMessages])
	if metadata, ok := cp.Values[valueKeySessionMetadata].(map[string]interface{}); ok {
		session.Metadata = metadata
	}
	return session, nil
}

// asInt tolerates the numeric types produced by the different codecs:
// in-memory writes keep int, JSON decodes to float64, msgpack to sized ints.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// asMessageList tolerates both the in-memory representation and the
// decoded forms the codecs produce.
func asMessageList(v interface{}) []map[string]interface{} {
	switch list := v.(type) {
	case []map[string]interface{}:
		return list
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
