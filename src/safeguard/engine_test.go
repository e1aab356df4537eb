package safeguard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/storage"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*Engine, *clock.Fake, storage.BlobStore) {
	t.Helper()
	fake := clock.NewFake(epoch)
	store := storage.NewFileStore(afero.NewMemMapFs(), "/state")
	e, err := New(Config{
		LocalID:             "nanobot",
		Cooldown:            DefaultCooldown,
		MaxTurns:            DefaultMaxTurns,
		ConversationTimeout: DefaultConversationTimeout,
		Store:               store,
		Clock:               fake,
	})
	require.NoError(t, err)
	return e, fake, store
}

func TestEvaluateAdmitsFreshConversation(t *testing.T) {
	e, _, _ := newEngine(t)

	d := e.Evaluate(context.Background(), "c1", "argus")
	assert.True(t, d.Admit)
	assert.Equal(t, "OK", d.Reason)
	assert.Equal(t, RuleOK, d.Rule)
}

func TestCooldownWindow(t *testing.T) {
	ctx := context.Background()
	e, fake, _ := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))

	fake.Advance(30 * time.Second)
	d := e.Evaluate(ctx, "other", "argus")
	assert.False(t, d.Admit)
	assert.Equal(t, RuleCooldown, d.Rule)

	fake.Advance(31 * time.Second)
	d = e.Evaluate(ctx, "other", "argus")
	assert.True(t, d.Admit, d.Reason)
}

func TestMaxTurnsBoundary(t *testing.T) {
	ctx := context.Background()
	e, fake, _ := newEngine(t)

	for i := 0; i < DefaultMaxTurns-1; i++ {
		require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))
		fake.Advance(61 * time.Second)
	}
	// turns = max-1, still inside the conversation timeout
	d := e.Evaluate(ctx, "c1", "argus")
	assert.True(t, d.Admit, d.Reason)

	require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))
	fake.Advance(61 * time.Second)
	d = e.Evaluate(ctx, "c1", "argus")
	assert.False(t, d.Admit)
	assert.Equal(t, RuleMaxTurns, d.Rule)

	// exhausted budget wins over expiry
	fake.Advance(time.Hour)
	d = e.Evaluate(ctx, "c1", "argus")
	assert.Equal(t, RuleMaxTurns, d.Rule)
}

func TestRuleOrder(t *testing.T) {
	ctx := context.Background()
	e, fake, _ := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "done", "argus"))
	require.NoError(t, e.EndConversation(ctx, "done", "finished"))

	// cooldown shadows everything else, including self-origin
	d := e.Evaluate(ctx, "done", "nanobot")
	assert.Equal(t, RuleCooldown, d.Rule)

	fake.Advance(2 * time.Minute)
	d = e.Evaluate(ctx, "done", "nanobot")
	assert.Equal(t, RuleCompleted, d.Rule)

	require.NoError(t, e.RecordTurn(ctx, "stale", "argus"))
	fake.Advance(6 * time.Minute)
	d = e.Evaluate(ctx, "stale", "argus")
	assert.Equal(t, RuleExpired, d.Rule)

	d = e.Evaluate(ctx, "brand-new", "nanobot")
	assert.Equal(t, RuleSelfOrigin, d.Rule)
	assert.False(t, d.Admit)
}

func TestEvaluateIsPure(t *testing.T) {
	ctx := context.Background()
	e, fake, store := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))
	fake.Advance(2 * time.Minute)

	before, err := store.Load(ctx, storage.KeyConversations)
	require.NoError(t, err)

	first := e.Evaluate(ctx, "c1", "argus")
	second := e.Evaluate(ctx, "c1", "argus")
	assert.Equal(t, first, second)

	after, err := store.Load(ctx, storage.KeyConversations)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestNoTurnsAfterCompletion(t *testing.T) {
	ctx := context.Background()
	e, fake, _ := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))
	require.NoError(t, e.EndConversation(ctx, "c1", "done"))

	fake.Advance(time.Minute)
	require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))

	rec, ok := e.Conversation(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Turns)
	assert.True(t, rec.Completed)

	// ending twice overwrites the reason only
	require.NoError(t, e.EndConversation(ctx, "c1", "again"))
	rec, _ = e.Conversation(ctx, "c1")
	assert.Equal(t, "again", rec.EndReason)
	assert.Equal(t, 1, rec.Turns)
}

func TestTurnsNeverDecrease(t *testing.T) {
	ctx := context.Background()
	e, fake, _ := newEngine(t)

	last := 0
	for i := 0; i < 6; i++ {
		require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))
		if i == 3 {
			require.NoError(t, e.EndConversation(ctx, "c1", "stop"))
		}
		fake.Advance(time.Second)

		rec, ok := e.Conversation(ctx, "c1")
		require.True(t, ok)
		assert.GreaterOrEqual(t, rec.Turns, last)
		last = rec.Turns
	}
	assert.Equal(t, 4, last)
}

func TestRecordTurnCreatesRecord(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "unknown", "argus"))
	rec, ok := e.Conversation(ctx, "unknown")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Turns)
	assert.Equal(t, "argus", rec.Source)
	assert.Equal(t, epoch, rec.StartedAt)
}

func TestGlobalRateStateNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	e, fake, _ := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))
	fake.Set(epoch.Add(-time.Hour))
	require.NoError(t, e.RecordTurn(ctx, "c2", "argus"))

	_, global := e.Snapshot(ctx)
	assert.Equal(t, epoch, global.LastResponseAt)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	e, fake, _ := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "old", "argus"))
	fake.Advance(2 * time.Hour)
	require.NoError(t, e.RecordTurn(ctx, "young", "argus"))
	fake.Advance(23 * time.Hour)

	// old started 25h ago, young 23h ago
	removed, err := e.SweepExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := e.Conversation(ctx, "old")
	assert.False(t, ok)
	_, ok = e.Conversation(ctx, "young")
	assert.True(t, ok)

	removed, err = e.SweepExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestContainsDoneSignal(t *testing.T) {
	e, _, _ := newEngine(t)

	tests := []struct {
		text string
		want bool
	}{
		{"Alles erledigt, fertig.", true},
		{"done", true},
		{"Analyse ABGESCHLOSSEN", true},
		{"Ich schaue mir das an", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ContainsDoneSignal(tt.text))
		})
	}
}

func TestCorruptStateLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	e, _, store := newEngine(t)

	require.NoError(t, store.Save(ctx, storage.KeyConversations, []byte("{{{")))

	d := e.Evaluate(ctx, "c1", "argus")
	assert.True(t, d.Admit)

	// the next write heals the blob
	require.NoError(t, e.RecordTurn(ctx, "c1", "argus"))
	rec, ok := e.Conversation(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Turns)
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, fake, store := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "a", "argus"))
	fake.Advance(90 * time.Second)
	require.NoError(t, e.RecordTurn(ctx, "b", "argus"))
	require.NoError(t, e.EndConversation(ctx, "a", "DONE signal"))

	first, firstGlobal := e.Snapshot(ctx)

	reopened, err := New(Config{LocalID: "nanobot", Store: store, Clock: fake})
	require.NoError(t, err)
	second, secondGlobal := reopened.Snapshot(ctx)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("records differ after reload (-want +got):\n%s", diff)
	}
	assert.True(t, firstGlobal.LastResponseAt.Equal(secondGlobal.LastResponseAt))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	require.NoError(t, e.RecordTurn(ctx, "a", "argus"))
	require.NoError(t, e.Clear(ctx))

	records, global := e.Snapshot(ctx)
	assert.Empty(t, records)
	assert.True(t, global.LastResponseAt.IsZero())
}

func TestConcurrentRecordTurn(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.RecordTurn(ctx, "c1", "argus")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, ok := e.Conversation(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, n, rec.Turns)
}

func TestConcurrentRecordTurnDistinctConversations(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(t)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, e.RecordTurn(ctx, id, "argus"))
			assert.NoError(t, e.RecordTurn(ctx, id, "argus"))
		}(fmt.Sprintf("c%d", i))
	}
	wg.Wait()

	convs, _ := e.Snapshot(ctx)
	require.Len(t, convs, n)
	for _, c := range convs {
		assert.Equal(t, 2, c.Turns, c.ID)
	}
}
