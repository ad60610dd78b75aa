package session

import (
	"context"
	"time"

	"github.com/subluminal-labs/acpcore/canonical"
	"github.com/subluminal-labs/acpcore/supervisor"
)

// Drive pumps a supervisor handle's decoded notifications into sessionID as
// they arrive, and translates an unexpected process exit into a canonical
// error update so history/trace/bridge always see a definite end to the
// turn, even when the upstream process dies without sending one. It returns
// immediately; the pumping runs in background goroutines for the life of
// the handle.
func (s *Store) Drive(ctx context.Context, sessionID string, h *supervisor.Handle) {
	go func() {
		for raw := range h.Notifications() {
			s.PushNotification(ctx, sessionID, raw)
		}
	}()
	go func() {
		info := <-h.Exited()
		if info.Err == nil {
			return
		}
		e := s.get(sessionID)
		if e == nil {
			return
		}
		u := canonical.Update{
			SessionID: sessionID,
			Kind:      canonical.KindError,
			Timestamp: time.Now().UTC(),
			Error: &canonical.ErrorPayload{
				Kind:    canonical.ErrorKindUpstreamExited,
				Message: info.Err.Error(),
			},
		}
		s.publish(ctx, e, u)
	}()
}
