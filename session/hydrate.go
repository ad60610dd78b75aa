package session

import (
	"context"
	"encoding/json"

	"github.com/subluminal-labs/acpcore/canonical"
)

// Hydrate loads every durably persisted session (and its history, where
// available) into memory. It runs at most once per Store; later calls are
// no-ops. Intended for process start-up, so a restart doesn't lose sessions
// a client hasn't re-attached to yet.
func (s *Store) Hydrate(ctx context.Context) error {
	var hydrateErr error
	s.hydrated.Do(func() {
		hydrateErr = s.hydrate(ctx)
	})
	return hydrateErr
}

func (s *Store) hydrate(ctx context.Context) error {
	recs, err := s.persist.ListSessions(ctx, "")
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if s.get(rec.ID) != nil {
			continue
		}
		s.Upsert(NewSessionInput{
			ID:                 rec.ID,
			WorkspaceID:        rec.WorkspaceID,
			Cwd:                rec.Cwd,
			Provider:           rec.Provider,
			Role:               Role(rec.Role),
			PresetID:           rec.PresetID,
			ParentSessionID:    rec.ParentSessionID,
			SystemPromptHeader: rec.SystemPromptHeader,
			CreatedAt:          rec.CreatedAt,
		})
		if rec.FirstPromptSent {
			s.MarkFirstPromptSent(ctx, rec.ID)
		}
		s.hydrateHistory(ctx, rec.ID)
	}
	return nil
}

func (s *Store) hydrateHistory(ctx context.Context, sessionID string) {
	histRecs, err := s.persist.LoadHistory(ctx, sessionID)
	if err != nil {
		s.logger.Warn(ctx, "session: load history failed during hydration", "session_id", sessionID, "error", err)
		return
	}
	e := s.get(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, hr := range histRecs {
		var u canonical.Update
		if err := json.Unmarshal(hr.UpdateRaw, &u); err != nil {
			s.logger.Warn(ctx, "session: skipping unreadable history entry", "session_id", sessionID, "error", err)
			continue
		}
		e.appendHistoryLocked(u, s.tunables.HistorySoftCap)
		if hr.Sequence > e.historySeq {
			e.historySeq = hr.Sequence
		}
	}
}
