package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/subluminal-labs/acpcore/bridge"
	"github.com/subluminal-labs/acpcore/config"
	"github.com/subluminal-labs/acpcore/provider"
	"github.com/subluminal-labs/acpcore/store"
	"github.com/subluminal-labs/acpcore/store/memstore"
	"github.com/subluminal-labs/acpcore/trace"
)

func newTestStore(t *testing.T) (*Store, *memstore.Store) {
	t.Helper()
	tunables := config.Defaults()
	persist := memstore.New()
	providers := provider.NewRegistry()
	recorder := trace.NewRecorder(trace.NewMemoryJournal(0), nil, 5, time.Second)
	return New(tunables, persist, providers, recorder, nil, nil, nil), persist
}

func toolCallEnvelope(toolCallID, toolName string) []byte {
	return []byte(`{"params":{"sessionId":"s1","update":{"type":"tool_call","tool_call_id":"` + toolCallID + `","tool_name":"` + toolName + `"}}}`)
}

func messageEnvelope(role, text string) []byte {
	return []byte(`{"params":{"sessionId":"s1","update":{"type":"message","role":"` + role + `","text":"` + text + `"}}}`)
}

func TestUpsert_ExistingSession_UpdatesRecordWithoutReemittingAgentStarted(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	var got []bridge.Event
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic"})
	unsub, ok := s.Subscribe("s1", func(ev bridge.Event) { got = append(got, ev) })
	require.True(t, ok)
	defer unsub()

	// A second Upsert on the same ID must not re-emit agent_started.
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic", SystemPromptHeader: "renamed"})
	require.Empty(t, got)

	rec, ok := s.Get("s1")
	require.True(t, ok)
	require.Equal(t, "renamed", rec.SystemPromptHeader)
}

func TestUpsert_FirstCall_LateSubscriberDoesNotReceiveAgentStarted(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	var got []bridge.Event
	unsub, ok := s.Subscribe("never-created", func(ev bridge.Event) { got = append(got, ev) })
	require.False(t, ok)
	_ = unsub

	s.Upsert(NewSessionInput{ID: "s2", Provider: "generic"})
	unsub2, ok := s.Subscribe("s2", func(ev bridge.Event) { got = append(got, ev) })
	require.True(t, ok)
	defer unsub2()
	require.Empty(t, got)
}

func TestPushNotification_AppendsHistoryAndFansOutBridgeEvents(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic"})

	var events []bridge.Event
	unsub, _ := s.Subscribe("s1", func(ev bridge.Event) { events = append(events, ev) })
	defer unsub()

	s.PushNotification(context.Background(), "s1", messageEnvelope("assistant", "hi"))

	hist, ok := s.GetHistory("s1", false)
	require.True(t, ok)
	require.Len(t, hist, 1)
	require.Equal(t, "hi", hist[0].Message.Text)

	require.Len(t, events, 1)
	require.Equal(t, bridge.EventMessageBlock, events[0].Kind)
}

func TestPushNotification_StreamingMode_SuppressesSSEButNotHistory(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic"})
	_, live, ok := s.AttachSSE("s1")
	require.True(t, ok)

	s.UpdateMode("s1", true)
	s.PushNotification(context.Background(), "s1", messageEnvelope("assistant", "hi"))

	select {
	case <-live:
		t.Fatal("expected no SSE frame while streaming mode is on")
	case <-time.After(50 * time.Millisecond):
	}

	hist, _ := s.GetHistory("s1", false)
	require.Len(t, hist, 1)
}

func TestAttachSSE_ReplacesPreviousAttachment(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic"})

	_, first, ok := s.AttachSSE("s1")
	require.True(t, ok)
	_, second, ok := s.AttachSSE("s1")
	require.True(t, ok)

	_, stillOpen := <-first
	require.False(t, stillOpen, "first listener's channel should be closed on replacement")

	s.PushNotification(context.Background(), "s1", messageEnvelope("assistant", "hi"))
	select {
	case u := <-second:
		require.Equal(t, "hi", u.Message.Text)
	case <-time.After(time.Second):
		t.Fatal("expected the replacement listener to receive the frame")
	}
}

func TestAttachSSE_FlushesPendingBuffer(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic"})

	s.PushNotification(context.Background(), "s1", messageEnvelope("assistant", "buffered"))

	buffered, _, ok := s.AttachSSE("s1")
	require.True(t, ok)
	require.Len(t, buffered, 1)
	require.Equal(t, "buffered", buffered[0].Message.Text)
}

func TestGetHistory_Consolidated_MergesChunkRun(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Upsert(NewSessionInput{ID: "s1", Provider: "claude"})

	for _, c := range []string{"a", "b", "c", "d", "e"} {
		s.PushNotification(context.Background(), "s1", []byte(`{"params":{"sessionId":"s1","update":{"sessionUpdate":"agent_message_chunk","content":{"text":"`+c+`"}}}}`))
	}

	raw, _ := s.GetHistory("s1", false)
	require.Len(t, raw, 5)

	consolidated, _ := s.GetHistory("s1", true)
	require.Len(t, consolidated, 1)
	require.Equal(t, "abcde", consolidated[0].Message.Text)
}

func TestHistorySoftCap_TrimsOldestEntries(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.tunables.HistorySoftCap = 3
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic"})

	for i := 0; i < 5; i++ {
		s.PushNotification(context.Background(), "s1", toolCallEnvelope("t", "read_file"))
	}

	hist, _ := s.GetHistory("s1", false)
	require.Len(t, hist, 3)
}

func TestDeleteSession_TearsDownBridgeAndSubscribers(t *testing.T) {
	t.Parallel()
	s, persist := newTestStore(t)
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic", WorkspaceID: "w1"})
	_ = persist.SaveSession(context.Background(), store.SessionRecord{ID: "s1", WorkspaceID: "w1"})

	s.DeleteSession(context.Background(), "s1")

	_, ok := s.Get("s1")
	require.False(t, ok)
	_, found, err := persist.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, found)

	_, ok = s.Subscribe("s1", func(bridge.Event) {})
	require.False(t, ok)
}

func TestSweep_RemovesOnlyIdleSessionsWithoutSSE(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.tunables.IdleThreshold = time.Millisecond

	for i := 0; i < 9; i++ {
		s.Upsert(NewSessionInput{ID: "idle-" + string(rune('a'+i)), Provider: "generic"})
	}
	s.Upsert(NewSessionInput{ID: "active", Provider: "generic"})
	_, _, ok := s.AttachSSE("active")
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	removed := s.Sweep(false)
	require.Len(t, removed, 9)

	_, ok = s.Get("active")
	require.True(t, ok)
}

func TestMemoryStats_CountsActiveSSEAndStreamingMode(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic"})
	s.Upsert(NewSessionInput{ID: "s2", Provider: "generic"})
	_, _, _ = s.AttachSSE("s1")
	s.UpdateMode("s2", true)

	stats := s.MemoryStats()
	require.Equal(t, 2, stats.Sessions)
	require.Equal(t, 1, stats.ActiveSSE)
	require.Equal(t, 1, stats.StreamingMode)
}

func TestHydrate_LoadsPersistedSessionsAndHistory(t *testing.T) {
	t.Parallel()
	s, persist := newTestStore(t)
	require.NoError(t, persist.SaveSession(context.Background(), store.SessionRecord{
		ID: "hydrated-1", WorkspaceID: "w1", Provider: "generic", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, persist.SaveHistory(context.Background(), store.HistoryRecord{
		SessionID: "hydrated-1", Sequence: 1, UpdateRaw: []byte(`{"SessionID":"hydrated-1","Kind":"user_message","Message":{"Text":"hi"}}`),
	}))

	require.NoError(t, s.Hydrate(context.Background()))

	rec, ok := s.Get("hydrated-1")
	require.True(t, ok)
	require.Equal(t, "w1", rec.WorkspaceID)

	hist, ok := s.GetHistory("hydrated-1", false)
	require.True(t, ok)
	require.Len(t, hist, 1)
	require.Equal(t, "hi", hist[0].Message.Text)
}

func TestSubscribe_PanicInHandlerDoesNotBreakPipeline(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Upsert(NewSessionInput{ID: "s1", Provider: "generic"})

	unsub, ok := s.Subscribe("s1", func(bridge.Event) { panic("boom") })
	require.True(t, ok)
	defer unsub()

	require.NotPanics(t, func() {
		s.PushNotification(context.Background(), "s1", messageEnvelope("assistant", "hi"))
	})

	hist, _ := s.GetHistory("s1", false)
	require.Len(t, hist, 1)
}
