// Package dialog drives the issue triage conversation: list open items,
// let the peer pick one, show comments or an analysis, and optionally
// hand the item to the prompt executor.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/storage"
	"github.com/elee1766/p2prelay/src/tracker"
)

// Asker runs a follow-up prompt. ok is false when the prompt could not be
// answered; text then explains why and is shown to the peer as is.
type Asker interface {
	Ask(ctx context.Context, prompt string, timeout time.Duration) (ok bool, text string)
}

// Config configures a Machine
type Config struct {
	// Scope is the default owner/name slug for new sessions
	Scope string

	Vocabulary     Vocabulary
	ShownItems     int
	BodyPreview    int
	CommentPreview int
	CommentsShown  int
	BusyThreshold  int
	PromptTimeout  time.Duration

	Tracker tracker.Tracker
	Asker   Asker
	Store   storage.BlobStore
	Clock   clock.Clock
	Logger  *slog.Logger
}

// handler performs one transition and returns the local response
type handler func(ctx context.Context, s *Session, c classified) Result

// Machine runs triage sessions. Sessions persist together in one blob;
// storeMu serializes its load-modify-save cycles while per-session locks
// keep two turns of the same session from interleaving.
type Machine struct {
	scope          string
	shownItems     int
	bodyPreview    int
	commentPreview int
	commentsShown  int
	busyThreshold  int
	promptTimeout  time.Duration

	rules    []rule
	dispatch map[State]map[Intent]handler
	fallback map[State]handler

	tracker tracker.Tracker
	asker   Asker
	store   storage.BlobStore
	clock   clock.Clock
	logger  *slog.Logger

	storeMu sync.Mutex
	locks   sessionLocks
}

// New creates a Machine
func New(cfg Config) (*Machine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("dialog: store is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("dialog: tracker is required")
	}

	vocab := cfg.Vocabulary
	if len(vocab.Terminate) == 0 {
		vocab = DefaultVocabulary()
	}

	m := &Machine{
		scope:          cfg.Scope,
		shownItems:     orDefault(cfg.ShownItems, 5),
		bodyPreview:    orDefault(cfg.BodyPreview, 300),
		commentPreview: orDefault(cfg.CommentPreview, 150),
		commentsShown:  orDefault(cfg.CommentsShown, 3),
		busyThreshold:  orDefault(cfg.BusyThreshold, 5),
		promptTimeout:  cfg.PromptTimeout,
		rules:          vocab.rules(),
		tracker:        cfg.Tracker,
		asker:          cfg.Asker,
		store:          cfg.Store,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}
	if m.promptTimeout <= 0 {
		m.promptTimeout = 90 * time.Second
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "dialog")
	m.locks.locks = map[string]*sessionLock{}

	browse := map[Intent]handler{
		IntentTerminate:  m.terminate,
		IntentSelectItem: m.selectItem,
		IntentComments:   m.showComments,
		IntentAnalyze:    m.analyze,
		IntentBack:       m.back,
	}
	m.dispatch = map[State]map[Intent]handler{
		StateListing: {
			IntentTerminate:  m.terminate,
			IntentSelectItem: m.selectItem,
			IntentBack:       m.back,
		},
		StateItemSelected: browse,
		StateComments:     browse,
		StatePostAction:   browse,
		StateConfirmAction: {
			IntentTerminate: m.terminate,
			IntentConfirm:   m.runAction,
			IntentDecline:   m.decline,
		},
	}
	m.fallback = map[State]handler{
		StateConfirmAction: m.confirmAgain,
	}

	return m, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Step advances session id with the peer's input, starting the session
// in the default scope when it does not exist yet
func (m *Machine) Step(ctx context.Context, id, input string) (Result, error) {
	return m.StepScope(ctx, id, "", input)
}

// StepScope is Step with an explicit scope for a new session. The scope
// of an existing session never changes.
func (m *Machine) StepScope(ctx context.Context, id, scope, input string) (Result, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	sess, ok := m.Session(ctx, id)
	if !ok {
		if scope == "" {
			scope = m.scope
		}
		if scope == "" {
			return Result{}, fmt.Errorf("dialog: no scope for new session %q", id)
		}
		return m.start(ctx, id, scope)
	}

	// a finished session keeps answering Done=true so the caller closes
	// its side too; nothing is recorded
	if sess.Done() {
		return m.renderAlreadyDone(), nil
	}

	c := classify(m.rules, input, sess.Context)
	h, found := m.dispatch[sess.State][c.intent]
	if !found {
		h = m.fallback[sess.State]
	}
	if h == nil {
		h = m.clarify
	}

	m.logger.Debug("dialog step", "session", id, "state", sess.State, "intent", c.intent)

	sess.append(RolePeer, input, m.clock.Now())
	res := h(ctx, &sess, c)
	sess.append(RoleLocal, res.Response, m.clock.Now())

	if err := m.put(ctx, &sess); err != nil {
		return res, err
	}
	return res, nil
}

// start handles first contact: fetch the list and present it. No peer
// message is recorded.
func (m *Machine) start(ctx context.Context, id, scope string) (Result, error) {
	now := m.clock.Now()
	sess := Session{
		ID:        id,
		Topic:     "GitHub: " + scope,
		State:     StateNew,
		Messages:  []Message{},
		Context:   Context{Scope: scope},
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	items := m.tracker.ListOpenItems(ctx, scope)
	sess.Context.Items = items

	var res Result
	if len(items) == 0 {
		res = m.renderEmpty(scope)
		sess.finish()
	} else {
		res = m.renderList(sess.Context)
		sess.State = StateListing
	}
	sess.append(RoleLocal, res.Response, m.clock.Now())

	if err := m.put(ctx, &sess); err != nil {
		return res, err
	}
	return res, nil
}

func (m *Machine) terminate(_ context.Context, s *Session, _ classified) Result {
	s.finish()
	return m.renderTerminated()
}

func (m *Machine) selectItem(ctx context.Context, s *Session, c classified) Result {
	it, _ := s.Context.item(c.item)
	detail := m.tracker.ItemDetail(ctx, s.Context.Scope, it.Number)

	s.Context.Selection = &Selection{Item: it}
	s.State = StateItemSelected
	return m.renderItem(it, detail)
}

func (m *Machine) showComments(ctx context.Context, s *Session, _ classified) Result {
	n := s.Context.Selection.Item.Number
	comments := m.tracker.ItemComments(ctx, s.Context.Scope, n)

	s.State = StateComments
	return m.renderComments(n, comments)
}

func (m *Machine) analyze(_ context.Context, s *Session, _ classified) Result {
	s.Context.Selection.PendingConfirm = true
	s.State = StateConfirmAction
	return m.renderAnalysis(s.Context.Selection.Item)
}

func (m *Machine) confirmAgain(_ context.Context, s *Session, _ classified) Result {
	return m.renderConfirmAgain(s.Context.Selection.Item)
}

// runAction hands the selected item to the asker. The session stays open
// whatever the outcome.
func (m *Machine) runAction(ctx context.Context, s *Session, _ classified) Result {
	sel := s.Context.Selection
	sel.PendingConfirm = false
	s.State = StatePostAction

	if m.asker == nil {
		return m.renderActionResult(sel.Item, false, "kein Executor konfiguriert")
	}

	ok, text := m.asker.Ask(ctx, m.actionPrompt(s.Context.Scope, sel.Item), m.promptTimeout)
	if !ok {
		m.logger.Warn("follow-up prompt failed", "session", s.ID, "item", sel.Item.Number, "reason", text)
	}
	return m.renderActionResult(sel.Item, ok, text)
}

func (m *Machine) decline(_ context.Context, s *Session, _ classified) Result {
	s.Context.Selection.PendingConfirm = false
	s.State = StatePostAction
	return m.renderDeclined()
}

// back drops the selection and lists the cached items again without
// fetching them
func (m *Machine) back(_ context.Context, s *Session, _ classified) Result {
	s.Context.Selection = nil
	s.State = StateListing
	return m.renderBackToList(s.Context)
}

func (m *Machine) clarify(_ context.Context, _ *Session, _ classified) Result {
	return m.renderClarify()
}

// Session returns a copy of session id
func (m *Machine) Session(ctx context.Context, id string) (Session, bool) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	s, ok := m.load(ctx)[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns every session, newest activity first
func (m *Machine) Sessions(ctx context.Context) []Session {
	m.storeMu.Lock()
	all := m.load(ctx)
	m.storeMu.Unlock()

	out := make([]Session, 0, len(all))
	for _, s := range all {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Sweep removes sessions created more than maxAge ago and returns how
// many were removed
func (m *Machine) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	all := m.load(ctx)
	cutoff := m.clock.Now().Add(-maxAge)
	removed := 0
	for id, s := range all {
		if s.CreatedAt.Before(cutoff) {
			delete(all, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, m.save(ctx, all)
}

// Clear drops every session
func (m *Machine) Clear(ctx context.Context) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.save(ctx, map[string]*Session{})
}

// put stores s, reloading the blob first so concurrent saves of other
// sessions are kept
func (m *Machine) put(ctx context.Context, s *Session) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	all := m.load(ctx)
	all[s.ID] = s
	return m.save(ctx, all)
}

// load reads all sessions. Missing or unreadable state is empty.
func (m *Machine) load(ctx context.Context) map[string]*Session {
	all := map[string]*Session{}
	if _, err := storage.LoadJSON(ctx, m.store, storage.KeyDialogSessions, &all); err != nil {
		m.logger.Warn("discarding unreadable dialog state", "error", err)
		return map[string]*Session{}
	}
	if all == nil {
		all = map[string]*Session{}
	}
	return all
}

func (m *Machine) save(ctx context.Context, all map[string]*Session) error {
	if err := storage.SaveJSON(ctx, m.store, storage.KeyDialogSessions, all); err != nil {
		return fmt.Errorf("failed to save dialog state: %w", err)
	}
	return nil
}

// sessionLocks hands out one mutex per session id and forgets it once
// nobody holds or waits for it
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
