package session

import "github.com/subluminal-labs/acpcore/canonical"

// Consolidate merges every maximal run of same-kind chunked agent_message
// or agent_thought updates into a single non-chunk update carrying their
// concatenated text, preserving the order of everything else. Input order
// is assumed to already be chronological.
func Consolidate(history []canonical.Update) []canonical.Update {
	out := make([]canonical.Update, 0, len(history))

	var run []canonical.Update
	flush := func() {
		if len(run) == 0 {
			return
		}
		out = append(out, mergeRun(run))
		run = nil
	}

	for _, u := range history {
		if !isChunkable(u) {
			flush()
			out = append(out, u)
			continue
		}
		if len(run) > 0 && run[0].Kind != u.Kind {
			flush()
		}
		run = append(run, u)
	}
	flush()

	return out
}

func isChunkable(u canonical.Update) bool {
	return (u.Kind == canonical.KindAgentMessage || u.Kind == canonical.KindAgentThought) && u.Message != nil && u.Message.IsChunk
}

func mergeRun(run []canonical.Update) canonical.Update {
	merged := run[0]
	var text string
	for _, u := range run {
		text += u.Message.Text
	}
	merged.Message = &canonical.MessagePayload{Text: text, IsChunk: false}
	merged.Timestamp = run[len(run)-1].Timestamp
	return merged
}
