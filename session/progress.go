package session

import (
	"context"

	"github.com/subluminal-labs/acpcore/canonical"
)

// ProgressSink is notified of every canonical update published for any
// session, so a task-bound session's progress counters (tool-call count,
// cumulative token totals, current activity, last-activity timestamp) can
// be kept current without the session store knowing anything about
// background tasks itself. A session with no bound task is expected to
// return quickly with no error.
type ProgressSink interface {
	ReportProgress(ctx context.Context, sessionID string, u canonical.Update) error
}

// SetProgressSink installs sink as the process-wide progress reporter.
// Passing nil disables progress reporting.
func (s *Store) SetProgressSink(sink ProgressSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = sink
}

func (s *Store) progressSink() ProgressSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// reportProgress best-effort forwards u to the installed ProgressSink.
// Failure is logged and swallowed; it must never affect the publish path.
func (s *Store) reportProgress(ctx context.Context, u canonical.Update) {
	sink := s.progressSink()
	if sink == nil {
		return
	}
	if err := sink.ReportProgress(ctx, u.SessionID, u); err != nil {
		s.logger.Warn(ctx, "session: progress report failed", "session_id", u.SessionID, "error", err)
	}
}
