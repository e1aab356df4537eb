// Package safeguard decides whether an inbound peer message may be
// answered, and keeps the per-conversation turn accounting that backs
// that decision.
package safeguard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/storage"
)

// Defaults applied by callers that build a Config by hand. New fills in
// MaxTurns and ConversationTimeout when they are zero; a zero Cooldown
// disables the cooldown.
const (
	DefaultCooldown            = 60 * time.Second
	DefaultMaxTurns            = 3
	DefaultConversationTimeout = 5 * time.Minute
	DefaultCleanupHorizon      = 24 * time.Hour
)

// DefaultDoneSignals closes a conversation when found in a response
var DefaultDoneSignals = []string{"DONE", "END", "FERTIG", "ABGESCHLOSSEN"}

// Config configures an Engine
type Config struct {
	// LocalID is this agent's peer id; messages claiming it are refused
	LocalID string

	Cooldown            time.Duration
	MaxTurns            int
	ConversationTimeout time.Duration
	DoneSignals         []string

	Store  storage.BlobStore
	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine evaluates admission and records turns. All state lives in one
// blob; the engine's mutex serializes every load-modify-save cycle.
type Engine struct {
	localID     string
	cooldown    time.Duration
	maxTurns    int
	timeout     time.Duration
	doneSignals []string

	store  storage.BlobStore
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex
}

// New creates an Engine
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("safeguard: store is required")
	}
	if cfg.LocalID == "" {
		return nil, fmt.Errorf("safeguard: local id is required")
	}

	e := &Engine{
		localID:     cfg.LocalID,
		cooldown:    cfg.Cooldown,
		maxTurns:    cfg.MaxTurns,
		timeout:     cfg.ConversationTimeout,
		doneSignals: cfg.DoneSignals,
		store:       cfg.Store,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if e.maxTurns <= 0 {
		e.maxTurns = DefaultMaxTurns
	}
	if e.timeout <= 0 {
		e.timeout = DefaultConversationTimeout
	}
	if e.cooldown < 0 {
		e.cooldown = 0
	}
	if len(e.doneSignals) == 0 {
		e.doneSignals = DefaultDoneSignals
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "safeguard")

	return e, nil
}

// Evaluate decides whether a message from source in conversation id may
// be answered now. The first matching rule wins. Evaluate never changes
// state.
func (e *Engine) Evaluate(ctx context.Context, id, source string) Decision {
	e.mu.Lock()
	state := e.load(ctx)
	e.mu.Unlock()

	now := e.clock.Now()

	if !state.Global.LastResponseAt.IsZero() && now.Sub(state.Global.LastResponseAt) < e.cooldown {
		return deny(RuleCooldown, fmt.Sprintf("Cooldown active (%s)", e.cooldown))
	}

	if rec, ok := state.Conversations[id]; ok {
		if rec.Completed {
			return deny(RuleCompleted, "Conversation already completed")
		}
		if rec.Turns >= e.maxTurns {
			return deny(RuleMaxTurns, fmt.Sprintf("Max turns reached (%d)", e.maxTurns))
		}
		if now.Sub(rec.StartedAt) > e.timeout {
			return deny(RuleExpired, "Conversation timed out")
		}
	}

	if source == e.localID {
		return deny(RuleSelfOrigin, "Won't respond to own messages")
	}

	return Decision{Admit: true, Reason: "OK", Rule: RuleOK}
}

func deny(rule Rule, reason string) Decision {
	return Decision{Admit: false, Reason: reason, Rule: rule}
}

// RecordTurn counts one answered message against conversation id,
// creating the record on first use. Turns are never recorded against a
// completed conversation, but the global rate state still advances.
func (e *Engine) RecordTurn(ctx context.Context, id, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.load(ctx)
	now := e.clock.Now()

	rec, ok := state.Conversations[id]
	if !ok {
		rec = &ConversationRecord{
			ID:            id,
			StartedAt:     now,
			LastMessageAt: now,
			Source:        source,
		}
		state.Conversations[id] = rec
	}
	if !rec.Completed {
		rec.Turns++
		rec.LastMessageAt = now
	}
	if now.After(state.Global.LastResponseAt) {
		state.Global.LastResponseAt = now
	}

	return e.save(ctx, state)
}

// EndConversation marks conversation id completed with reason. Ending an
// ended conversation only replaces the reason. An unknown id is recorded
// as completed so it can never be opened later.
func (e *Engine) EndConversation(ctx context.Context, id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.load(ctx)
	rec, ok := state.Conversations[id]
	if !ok {
		now := e.clock.Now()
		rec = &ConversationRecord{ID: id, StartedAt: now, LastMessageAt: now}
		state.Conversations[id] = rec
	}
	rec.Completed = true
	rec.EndReason = reason

	e.logger.Debug("conversation ended", "id", id, "reason", reason, "turns", rec.Turns)
	return e.save(ctx, state)
}

// ContainsDoneSignal reports whether text contains any done signal,
// ignoring case
func (e *Engine) ContainsDoneSignal(text string) bool {
	return ContainsAny(text, e.doneSignals)
}

// ContainsAny reports whether text contains any of signals, ignoring case
func ContainsAny(text string, signals []string) bool {
	upper := strings.ToUpper(text)
	for _, s := range signals {
		if s != "" && strings.Contains(upper, strings.ToUpper(s)) {
			return true
		}
	}
	return false
}

// SweepExpired removes records started more than maxAge ago and returns
// how many were removed
func (e *Engine) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.load(ctx)
	cutoff := e.clock.Now().Add(-maxAge)

	removed := 0
	for id, rec := range state.Conversations {
		if rec.StartedAt.Before(cutoff) {
			delete(state.Conversations, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}

	if err := e.save(ctx, state); err != nil {
		return 0, err
	}
	e.logger.Debug("swept expired conversations", "removed", removed)
	return removed, nil
}

// Conversation returns a copy of the record for id
func (e *Engine) Conversation(ctx context.Context, id string) (ConversationRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.load(ctx).Conversations[id]
	if !ok {
		return ConversationRecord{}, false
	}
	return *rec, true
}

// Snapshot returns every record, most recently active first, and the
// global rate state
func (e *Engine) Snapshot(ctx context.Context) ([]ConversationRecord, GlobalRateState) {
	e.mu.Lock()
	state := e.load(ctx)
	e.mu.Unlock()

	records := make([]ConversationRecord, 0, len(state.Conversations))
	for _, rec := range state.Conversations {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastMessageAt.Equal(records[j].LastMessageAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].LastMessageAt.After(records[j].LastMessageAt)
	})
	return records, state.Global
}

// Clear drops every record and resets the global rate state
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save(ctx, newState())
}

// load reads the state blob. Missing or unreadable state is empty state.
func (e *Engine) load(ctx context.Context) *State {
	state := newState()
	if _, err := storage.LoadJSON(ctx, e.store, storage.KeyConversations, state); err != nil {
		e.logger.Warn("discarding unreadable safeguard state", "error", err)
		return newState()
	}
	if state.Conversations == nil {
		state.Conversations = map[string]*ConversationRecord{}
	}
	return state
}

func (e *Engine) save(ctx context.Context, state *State) error {
	if err := storage.SaveJSON(ctx, e.store, storage.KeyConversations, state); err != nil {
		return fmt.Errorf("failed to save safeguard state: %w", err)
	}
	return nil
}
