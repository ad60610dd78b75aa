package session

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/time/rate"

	"github.com/subluminal-labs/acpcore/bridge"
	"github.com/subluminal-labs/acpcore/canonical"
	"github.com/subluminal-labs/acpcore/store"
)

// sseListener is the one active SSE attachment a session may hold at a
// time. Frames are written through a rate limiter so a slow consumer is
// detached instead of blocking the normalisation path.
type sseListener struct {
	ch      chan canonical.Update
	limiter *rate.Limiter
	closed  bool
}

func newSSEListener(cap int, ratePerSec float64, burst int) *sseListener {
	if ratePerSec <= 0 {
		ratePerSec = 1000
	}
	if burst <= 0 {
		burst = int(ratePerSec)
	}
	return &sseListener{
		ch:      make(chan canonical.Update, cap),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

func (l *sseListener) close() {
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}

// send attempts a non-blocking, rate-limited delivery. It returns false if
// the listener is backpressured (rate exhausted or buffer full), in which
// case the caller detaches it.
func (l *sseListener) send(u canonical.Update) bool {
	if l.closed || !l.limiter.Allow() {
		return false
	}
	select {
	case l.ch <- u:
		return true
	default:
		return false
	}
}

// AttachSSE registers a writable stream for sessionID: buffered updates
// are returned immediately so the caller can replay them, and the returned
// channel receives every subsequent update. Attaching again replaces any
// previous attachment, closing its channel.
func (s *Store) AttachSSE(sessionID string) (buffered []canonical.Update, live <-chan canonical.Update, ok bool) {
	e := s.get(sessionID)
	if e == nil {
		return nil, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sse != nil {
		e.sse.close()
	}
	e.sse = newSSEListener(s.tunables.PendingBufferCap, s.tunables.SSERateLimit, s.tunables.SSEBurst)
	buffered = append(buffered, e.pending...)
	e.pending = nil
	return buffered, e.sse.ch, true
}

// DetachSSE unregisters sessionID's SSE listener, if any; subsequent
// updates are buffered instead.
func (s *Store) DetachSSE(sessionID string) {
	e := s.get(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sse != nil {
		e.sse.close()
		e.sse = nil
	}
}

// Subscribe registers handler to receive every semantic event the bridge
// produces for sessionID. The returned function unsubscribes. Handler
// errors (panics aside) must not break the pipeline; callers are expected
// to recover internally if they can fail.
func (s *Store) Subscribe(sessionID string, handler func(bridge.Event)) (unsubscribe func(), ok bool) {
	e := s.get(sessionID)
	if e == nil {
		return func() {}, false
	}
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	if e.subs == nil {
		e.subs = make(map[int]func(bridge.Event))
	}
	e.subs[id] = handler
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}, true
}

// PushUserMessage appends a synthetic user_message update to history and
// feeds it to the trace recorder. It does not fan out over SSE: the user
// already has their own prompt locally.
func (s *Store) PushUserMessage(ctx context.Context, sessionID, text string) {
	e := s.get(sessionID)
	if e == nil {
		return
	}
	u := canonical.Update{
		SessionID: sessionID,
		Kind:      canonical.KindUserMessage,
		Timestamp: time.Now().UTC(),
		Message:   &canonical.MessagePayload{Text: text},
	}
	e.mu.Lock()
	e.appendHistoryLocked(u, s.tunables.HistorySoftCap)
	e.lastActivity = u.Timestamp
	e.mu.Unlock()

	s.persistHistory(ctx, e, u)

	if err := s.recorder.Ingest(ctx, u); err != nil {
		s.logger.Warn(ctx, "session: trace ingest failed for user message", "session_id", sessionID, "error", err)
	}
}

// PushNotification normalises one raw wire notification via the provider
// adapter registry, appends each resulting canonical update to history,
// forwards it to the trace recorder and event bridge, then fans it out on
// SSE unless the session is in streaming mode.
func (s *Store) PushNotification(ctx context.Context, sessionID string, raw json.RawMessage) {
	e := s.get(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	providerID := e.rec.Provider
	e.mu.Unlock()

	updates := s.providers.Normalize(providerID, sessionID, raw)
	for _, u := range updates {
		s.publish(ctx, e, u)
	}
}

// publish is the single choke point every inbound update passes through:
// append to history, emit trace, dispatch semantic events, then (last)
// enqueue to SSE — streaming-mode suppression applies only at this final
// step, so history/trace/bridge state never depends on whether a client is
// attached.
func (s *Store) publish(ctx context.Context, e *entry, u canonical.Update) {
	e.mu.Lock()
	e.appendHistoryLocked(u, s.tunables.HistorySoftCap)
	e.lastActivity = u.Timestamp
	streaming := e.streamingMode
	listener := e.sse
	e.mu.Unlock()

	s.persistHistory(ctx, e, u)

	if err := s.recorder.Ingest(ctx, u); err != nil {
		s.logger.Warn(ctx, "session: trace ingest failed", "session_id", u.SessionID, "error", err)
	}

	for _, ev := range e.bridge.Ingest(u) {
		s.dispatch(e, ev)
	}

	s.reportProgress(ctx, u)

	if streaming {
		return
	}
	s.enqueueSSE(e, listener, u)
}

// persistHistory best-effort durably appends u so a restart can rehydrate
// it; failures are logged, never surfaced to the caller.
func (s *Store) persistHistory(ctx context.Context, e *entry, u canonical.Update) {
	raw, err := json.Marshal(u)
	if err != nil {
		s.logger.Warn(ctx, "session: marshal history entry failed", "session_id", u.SessionID, "error", err)
		return
	}
	e.mu.Lock()
	e.historySeq++
	seq := e.historySeq
	e.mu.Unlock()

	rec := store.HistoryRecord{SessionID: u.SessionID, Sequence: seq, UpdateRaw: raw, CreatedAt: u.Timestamp}
	if err := s.persist.SaveHistory(ctx, rec); err != nil {
		s.logger.Warn(ctx, "session: save history entry failed", "session_id", u.SessionID, "error", err)
	}
}

func (s *Store) dispatch(e *entry, ev bridge.Event) {
	e.mu.Lock()
	handlers := make([]func(bridge.Event), 0, len(e.subs))
	for _, h := range e.subs {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		s.invokeSubscriber(h, ev)
	}
}

func (s *Store) invokeSubscriber(h func(bridge.Event), ev bridge.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(context.Background(), "session: subscriber panicked", "session_id", ev.SessionID, "panic", r)
		}
	}()
	h(ev)
}

func (s *Store) enqueueSSE(e *entry, listener *sseListener, u canonical.Update) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sse == nil || e.sse != listener {
		// No attachment (or it changed since we decided to publish): buffer.
		e.pending = appendBounded(e.pending, u, s.tunables.PendingBufferCap)
		return
	}
	if !e.sse.send(u) {
		e.sse.close()
		e.sse = nil
		s.logger.Warn(context.Background(), "session: SSE listener backpressured, detaching", "session_id", u.SessionID)
	}
}

// FlushAgentBuffer drains the trace recorder's streamed message/thought
// buffers for sessionID. Called at end-of-prompt or end-of-session.
func (s *Store) FlushAgentBuffer(ctx context.Context, sessionID string) {
	e := s.get(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	providerID := e.rec.Provider
	e.mu.Unlock()
	if err := s.recorder.FlushSession(ctx, sessionID, providerID); err != nil {
		s.logger.Warn(ctx, "session: flush agent buffer failed", "session_id", sessionID, "error", err)
	}
}

// GetHistory returns sessionID's history, raw or consolidated.
func (s *Store) GetHistory(sessionID string, consolidated bool) ([]canonical.Update, bool) {
	e := s.get(sessionID)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]canonical.Update, len(e.history))
	copy(out, e.history)
	if consolidated {
		return Consolidate(out), true
	}
	return out, true
}

func (e *entry) appendHistoryLocked(u canonical.Update, limit int) {
	e.history = appendBounded(e.history, u, limit)
}

func appendBounded(slice []canonical.Update, u canonical.Update, limit int) []canonical.Update {
	slice = append(slice, u)
	if limit > 0 && len(slice) > limit {
		slice = slice[len(slice)-limit:]
	}
	return slice
}
