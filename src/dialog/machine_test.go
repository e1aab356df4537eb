package dialog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/storage"
	"github.com/elee1766/p2prelay/src/tracker"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeTracker struct {
	items    []tracker.Item
	details  map[int]tracker.Detail
	comments map[int][]tracker.Comment

	mu         sync.Mutex
	listCalls  int
	detailHits []int
}

func (f *fakeTracker) ListOpenItems(ctx context.Context, scope string) []tracker.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.items
}

func (f *fakeTracker) ItemDetail(ctx context.Context, scope string, number int) tracker.Detail {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailHits = append(f.detailHits, number)
	return f.details[number]
}

func (f *fakeTracker) ItemComments(ctx context.Context, scope string, number int) []tracker.Comment {
	return f.comments[number]
}

type fakeAsker struct {
	ok      bool
	text    string
	prompts []string
}

func (f *fakeAsker) Ask(ctx context.Context, prompt string, timeout time.Duration) (bool, string) {
	f.prompts = append(f.prompts, prompt)
	return f.ok, f.text
}

func sampleItems(n int) []tracker.Item {
	items := make([]tracker.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, tracker.Item{
			Number:       40 + i,
			Title:        fmt.Sprintf("Issue %d", 40+i),
			Author:       "alice",
			CreatedAt:    epoch.Add(-time.Duration(i) * time.Hour),
			Labels:       []string{"bug"},
			CommentCount: i,
		})
	}
	return items
}

type harness struct {
	m       *Machine
	tracker *fakeTracker
	asker   *fakeAsker
	store   storage.BlobStore
	clock   *clock.Fake
}

func newHarness(t *testing.T, items []tracker.Item) *harness {
	t.Helper()
	h := &harness{
		tracker: &fakeTracker{
			items:    items,
			details:  map[int]tracker.Detail{},
			comments: map[int][]tracker.Comment{},
		},
		asker: &fakeAsker{ok: true, text: "Patch the nil check."},
		store: storage.NewFileStore(afero.NewMemMapFs(), "/state"),
		clock: clock.NewFake(epoch),
	}
	m, err := New(Config{
		Scope:   "octo/widgets",
		Tracker: h.tracker,
		Asker:   h.asker,
		Store:   h.store,
		Clock:   h.clock,
	})
	require.NoError(t, err)
	h.m = m
	return h
}

func (h *harness) step(t *testing.T, input string) Result {
	t.Helper()
	h.clock.Advance(time.Second)
	res, err := h.m.Step(context.Background(), "s1", input)
	require.NoError(t, err)
	return res
}

func (h *harness) session(t *testing.T) Session {
	t.Helper()
	s, ok := h.m.Session(context.Background(), "s1")
	require.True(t, ok)
	return s
}

func peerMessages(s Session) int {
	n := 0
	for _, msg := range s.Messages {
		if msg.Role == RolePeer {
			n++
		}
	}
	return n
}

func TestEmptyListEndsImmediately(t *testing.T) {
	h := newHarness(t, nil)

	res := h.step(t, "hallo")
	assert.True(t, res.Done)
	assert.Contains(t, res.Response, "Keine offenen Issues")
	assert.Empty(t, res.Options)

	s := h.session(t)
	assert.Equal(t, StatusDone, s.Status)
	assert.Equal(t, 0, peerMessages(s))
	assert.Len(t, s.Messages, 1)
}

func TestFirstContactListsAtMostFiveItems(t *testing.T) {
	h := newHarness(t, sampleItems(8))

	res := h.step(t, "")
	assert.False(t, res.Done)
	assert.Equal(t, WaitItemSelection, res.WaitingFor)
	assert.Equal(t, []string{"#40", "#41", "#42", "#43", "#44", "keins"}, res.Options)
	assert.Contains(t, res.Response, "hat 8 offene Issues")
	assert.NotContains(t, res.Response, "#45")

	s := h.session(t)
	assert.Equal(t, StateListing, s.State)
	assert.Len(t, s.Messages, 1)
	assert.Equal(t, RoleLocal, s.Messages[0].Role)
	// every item is cached even if only five are shown
	assert.Len(t, s.Context.Items, 8)
}

func TestSelectItem(t *testing.T) {
	h := newHarness(t, sampleItems(3))
	h.tracker.details[41] = tracker.Detail{Title: "Issue 41", Body: "<!-- template -->\nIt crashes."}
	h.step(t, "")

	res := h.step(t, "Zeig mir #41 bitte")
	assert.False(t, res.Done)
	assert.Equal(t, WaitActionSelection, res.WaitingFor)
	assert.Contains(t, res.Response, "**Issue #41**")
	assert.Contains(t, res.Response, "It crashes.")
	assert.NotContains(t, res.Response, "template")
	assert.Equal(t, []int{41}, h.tracker.detailHits)

	s := h.session(t)
	assert.Equal(t, StateItemSelected, s.State)
	require.NotNil(t, s.Context.Selection)
	assert.Equal(t, 41, s.Context.Selection.Item.Number)
	assert.False(t, s.Context.Selection.PendingConfirm)

	// first contact appends one message, every later transition two
	require.Len(t, s.Messages, 3)
	assert.Equal(t, RolePeer, s.Messages[1].Role)
	assert.Equal(t, "Zeig mir #41 bitte", s.Messages[1].Content)
	assert.Equal(t, RoleLocal, s.Messages[2].Role)
	assert.Equal(t, len(s.Messages), s.Turn)
}

func TestUnknownItemNumberClarifies(t *testing.T) {
	h := newHarness(t, sampleItems(2)) // #40, #41
	h.step(t, "")

	before := h.session(t)
	res := h.step(t, "42")
	assert.False(t, res.Done)
	assert.Equal(t, WaitClarification, res.WaitingFor)
	assert.Equal(t, []string{"zurück", "fertig"}, res.Options)

	after := h.session(t)
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Context, after.Context)
	assert.Len(t, after.Messages, len(before.Messages)+2)
	assert.Empty(t, h.tracker.detailHits)
}

func TestTerminationWinsInEveryState(t *testing.T) {
	paths := map[State][]string{
		StateListing:       {},
		StateItemSelected:  {"#40"},
		StateComments:      {"#40", "kommentare"},
		StateConfirmAction: {"#40", "analysieren"},
		StatePostAction:    {"#40", "analysieren", "ja"},
	}

	for state, path := range paths {
		t.Run(string(state), func(t *testing.T) {
			h := newHarness(t, sampleItems(2))
			h.step(t, "")
			for _, in := range path {
				h.step(t, in)
			}
			require.Equal(t, state, h.session(t).State)

			// the action words must not shadow the termination word
			res := h.step(t, "kommentare analysieren ja zurück, ach nee: fertig")
			assert.True(t, res.Done)
			assert.Empty(t, res.Options)

			s := h.session(t)
			assert.Equal(t, StatusDone, s.Status)
			assert.Equal(t, StateDone, s.State)
		})
	}
}

func TestConfirmationOnlyHonorsYesOrNo(t *testing.T) {
	h := newHarness(t, sampleItems(2))
	h.step(t, "")
	h.step(t, "#40")

	res := h.step(t, "analysieren")
	assert.Equal(t, WaitConfirmation, res.WaitingFor)
	assert.Equal(t, []string{"ja", "nee"}, res.Options)
	assert.True(t, h.session(t).Context.Selection.PendingConfirm)

	for _, in := range []string{"vielleicht", "#41", "zurück", "kommentare"} {
		res = h.step(t, in)
		assert.Equal(t, WaitConfirmation, res.WaitingFor, in)
		s := h.session(t)
		assert.Equal(t, StateConfirmAction, s.State, in)
		assert.Equal(t, 40, s.Context.Selection.Item.Number, in)
		assert.True(t, s.Context.Selection.PendingConfirm, in)
	}
	assert.Empty(t, h.asker.prompts)

	res = h.step(t, "Ja!")
	assert.False(t, res.Done)
	assert.Equal(t, WaitFollowUp, res.WaitingFor)
	assert.Contains(t, res.Response, "Patch the nil check.")
	require.Len(t, h.asker.prompts, 1)
	assert.Contains(t, h.asker.prompts[0], "Issue #40 aus octo/widgets")

	s := h.session(t)
	assert.Equal(t, StatePostAction, s.State)
	assert.False(t, s.Context.Selection.PendingConfirm)
	assert.Equal(t, StatusActive, s.Status)
}

func TestActionFailureIsSurfaced(t *testing.T) {
	h := newHarness(t, sampleItems(1))
	h.asker.ok = false
	h.asker.text = "Timeout after 90s"
	h.step(t, "")
	h.step(t, "#40")
	h.step(t, "analyse")

	res := h.step(t, "ok")
	assert.False(t, res.Done)
	assert.Contains(t, res.Response, "Timeout after 90s")
	assert.Equal(t, []string{"zurück", "fertig"}, res.Options)
}

func TestDeclineKeepsDialogOpen(t *testing.T) {
	h := newHarness(t, sampleItems(1))
	h.step(t, "")
	h.step(t, "#40")
	h.step(t, "analysieren")

	res := h.step(t, "nee")
	assert.False(t, res.Done)
	assert.Equal(t, []string{"zurück", "fertig"}, res.Options)
	assert.Empty(t, h.asker.prompts)

	s := h.session(t)
	assert.Equal(t, StatePostAction, s.State)
	require.NotNil(t, s.Context.Selection)
	assert.False(t, s.Context.Selection.PendingConfirm)
}

func TestNeinEndsDialogWhileConfirming(t *testing.T) {
	h := newHarness(t, sampleItems(1))
	h.step(t, "")
	h.step(t, "#40")
	h.step(t, "analysieren")

	res := h.step(t, "nein")
	assert.True(t, res.Done)
	assert.Contains(t, res.Response, "DONE")
	assert.Empty(t, h.asker.prompts)

	s := h.session(t)
	assert.Equal(t, StateDone, s.State)
	assert.Equal(t, StatusDone, s.Status)
}

func TestKeywordInsideWordClarifies(t *testing.T) {
	h := newHarness(t, sampleItems(2))
	h.step(t, "")
	h.step(t, "#40")

	for _, in := range []string{"any feedback from the reporter?", "stopwatch", "abandoned"} {
		res := h.step(t, in)
		assert.False(t, res.Done, in)
		assert.Equal(t, WaitClarification, res.WaitingFor, in)

		s := h.session(t)
		assert.Equal(t, StateItemSelected, s.State, in)
		require.NotNil(t, s.Context.Selection, in)
		assert.Equal(t, 40, s.Context.Selection.Item.Number, in)
	}
}

func TestBackRebuildsListFromCache(t *testing.T) {
	h := newHarness(t, sampleItems(3))
	h.step(t, "")
	h.step(t, "#42")
	h.step(t, "analysieren")
	h.step(t, "nee")

	res := h.step(t, "zurück")
	assert.Equal(t, WaitItemSelection, res.WaitingFor)
	assert.Equal(t, []string{"#40", "#41", "#42", "fertig"}, res.Options)
	assert.Contains(t, res.Response, "Zurück zur Issue-Liste")
	assert.Equal(t, 1, h.tracker.listCalls)

	s := h.session(t)
	assert.Equal(t, StateListing, s.State)
	assert.Nil(t, s.Context.Selection)
	assert.Len(t, s.Context.Items, 3)
}

func TestActionsNeedASelection(t *testing.T) {
	h := newHarness(t, sampleItems(2))
	h.step(t, "")

	for _, in := range []string{"kommentare", "analysieren", "ja"} {
		res := h.step(t, in)
		assert.Equal(t, WaitClarification, res.WaitingFor, in)
		assert.Equal(t, StateListing, h.session(t).State, in)
	}
}

func TestComments(t *testing.T) {
	h := newHarness(t, sampleItems(1))
	h.tracker.comments[40] = []tracker.Comment{
		{Author: "bob", Body: strings.Repeat("x", 200), CreatedAt: epoch},
		{Author: "carol", Body: "me too", CreatedAt: epoch},
	}
	h.step(t, "")
	h.step(t, "#40")

	res := h.step(t, "Kommentare?")
	assert.Equal(t, []string{"analysieren", "zurück", "fertig"}, res.Options)
	assert.Contains(t, res.Response, "**bob** (2025-03-01)")
	assert.Contains(t, res.Response, strings.Repeat("x", 150)+"...")
	assert.NotContains(t, res.Response, strings.Repeat("x", 151))
	assert.Contains(t, res.Response, "me too")
	assert.Equal(t, StateComments, h.session(t).State)

	// analysis is still reachable from the comments view
	res = h.step(t, "analysieren")
	assert.Equal(t, WaitConfirmation, res.WaitingFor)
}

func TestAnalysisRating(t *testing.T) {
	items := []tracker.Item{
		{Number: 1, Title: "busy", Labels: []string{"type: Bug"}, CommentCount: 6, CreatedAt: epoch},
		{Number: 2, Title: "quiet", Labels: []string{"enhancement"}, CommentCount: 5},
	}
	h := newHarness(t, items)
	h.step(t, "")

	h.step(t, "#1")
	res := h.step(t, "analysieren")
	assert.Contains(t, res.Response, "Typ: Bug")
	assert.Contains(t, res.Response, "Priorität: Hoch")

	h.step(t, "nee")
	h.step(t, "#2")
	res = h.step(t, "analysieren")
	assert.Contains(t, res.Response, "Typ: Feature/Enhancement")
	assert.Contains(t, res.Response, "Priorität: Normal")
	assert.Contains(t, res.Response, "Alter: unbekannt")
}

func TestDoneSessionIsInert(t *testing.T) {
	h := newHarness(t, sampleItems(1))
	h.step(t, "")
	h.step(t, "fertig")
	before := h.session(t)

	res := h.step(t, "#40")
	assert.True(t, res.Done)
	assert.Contains(t, res.Response, "bereits beendet")
	assert.Empty(t, res.Options)
	assert.Empty(t, h.tracker.detailHits)

	after := h.session(t)
	assert.Len(t, after.Messages, len(before.Messages))
	assert.Equal(t, before.Turn, after.Turn)
}

func TestOfferedOptionsAreUnderstood(t *testing.T) {
	h := newHarness(t, sampleItems(2))
	res := h.step(t, "")

	// walk the dialog by always taking the first option that keeps it open
	seen := map[string]bool{}
	for i := 0; i < 12 && !res.Done; i++ {
		s := h.session(t)
		for _, opt := range res.Options {
			c := classify(h.m.rules, opt, s.Context)
			assert.NotEqual(t, IntentUnknown, c.intent, "option %q in state %s", opt, s.State)
		}
		next := res.Options[0]
		for _, opt := range res.Options {
			if !seen[opt] && opt != "keins" && opt != "fertig" {
				next = opt
				break
			}
		}
		seen[next] = true
		res = h.step(t, next)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	h := newHarness(t, sampleItems(3))
	h.step(t, "")
	h.step(t, "#41")
	h.step(t, "analysieren")
	want := h.session(t)

	reopened, err := New(Config{
		Scope:   "octo/widgets",
		Tracker: h.tracker,
		Store:   h.store,
		Clock:   h.clock,
	})
	require.NoError(t, err)
	got, ok := reopened.Session(context.Background(), "s1")
	require.True(t, ok)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session differs after reload (-want +got):\n%s", diff)
	}
}

func TestCorruptDialogStateLoadsEmpty(t *testing.T) {
	h := newHarness(t, sampleItems(1))
	require.NoError(t, h.store.Save(context.Background(), storage.KeyDialogSessions, []byte("[")))

	res := h.step(t, "")
	assert.Equal(t, WaitItemSelection, res.WaitingFor)
	assert.Equal(t, StateListing, h.session(t).State)
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, sampleItems(2))
	ctx := context.Background()

	_, err := h.m.Step(ctx, "a", "")
	require.NoError(t, err)
	_, err = h.m.Step(ctx, "b", "")
	require.NoError(t, err)
	_, err = h.m.Step(ctx, "a", "fertig")
	require.NoError(t, err)

	a, _ := h.m.Session(ctx, "a")
	b, _ := h.m.Session(ctx, "b")
	assert.True(t, a.Done())
	assert.False(t, b.Done())
	assert.Len(t, h.m.Sessions(ctx), 2)
}

func TestConcurrentSessionsAllSurvive(t *testing.T) {
	h := newHarness(t, sampleItems(2))
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := h.m.Step(ctx, id, ""); err != nil {
				errs <- err
				return
			}
			if _, err := h.m.Step(ctx, id, "#41"); err != nil {
				errs <- err
			}
		}(fmt.Sprintf("peer-%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, h.m.Sessions(ctx), n)
	for i := 0; i < n; i++ {
		s, ok := h.m.Session(ctx, fmt.Sprintf("peer-%d", i))
		require.True(t, ok, i)
		assert.Equal(t, StateItemSelected, s.State, i)
		assert.Len(t, s.Messages, 3, i)
	}
}

func TestConcurrentStepsOnOneSession(t *testing.T) {
	h := newHarness(t, sampleItems(2))
	ctx := context.Background()
	_, err := h.m.Step(ctx, "s1", "")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.m.Step(ctx, "s1", "hmm")
		}()
	}
	wg.Wait()

	s := h.session(t)
	assert.Len(t, s.Messages, 1+2*n)
	assert.Equal(t, len(s.Messages), s.Turn)
}

func TestStepScope(t *testing.T) {
	h := newHarness(t, sampleItems(1))
	ctx := context.Background()

	res, err := h.m.StepScope(ctx, "x", "other/repo", "")
	require.NoError(t, err)
	assert.Contains(t, res.Response, "other/repo")

	s, _ := h.m.Session(ctx, "x")
	assert.Equal(t, "GitHub: other/repo", s.Topic)

	noScope, err := New(Config{Tracker: h.tracker, Store: h.store})
	require.NoError(t, err)
	_, err = noScope.Step(ctx, "y", "")
	assert.Error(t, err)
}

func TestSweepAndClear(t *testing.T) {
	h := newHarness(t, sampleItems(1))
	ctx := context.Background()

	_, err := h.m.Step(ctx, "old", "")
	require.NoError(t, err)
	h.clock.Advance(25 * time.Hour)
	_, err = h.m.Step(ctx, "new", "")
	require.NoError(t, err)

	removed, err := h.m.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := h.m.Session(ctx, "old")
	assert.False(t, ok)

	require.NoError(t, h.m.Clear(ctx))
	assert.Empty(t, h.m.Sessions(ctx))
}
