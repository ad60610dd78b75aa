package trace

import (
	"context"
	"testing"
	"time"
)

func TestSnapshotVCS_NeverBlocksOnTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An already-cancelled context must yield nil, not hang or panic.
	got := snapshotVCS(ctx, time.Second)
	if got != nil {
		t.Fatalf("expected nil snapshot for a cancelled context, got %+v", got)
	}
}
