// Package relay answers inbound peer messages. Each message passes the
// safeguard, is answered by the triage dialog or a one-shot prompt, and
// is then recorded as a turn. Expired state is swept after every answered
// turn; there is no background cleanup.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/dialog"
	"github.com/elee1766/p2prelay/src/peer"
	"github.com/elee1766/p2prelay/src/safeguard"
)

// TaskGitHub routes a message to the issue triage dialog
const TaskGitHub = "github"

// End reasons recorded on conversations closed by the relay
const (
	ReasonDialogFinished = "dialog finished"
	ReasonDoneSignal     = "done signal in response"
)

// conversationNamespace seeds derived conversation ids
var conversationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("p2prelay/conversation"))

// Notifier delivers proactive messages to the remote agent
type Notifier interface {
	Notify(ctx context.Context, title, body string, priority peer.Priority) bool
	Report(ctx context.Context, kind, content string) error
}

// Config configures a Relay
type Config struct {
	Safeguard *safeguard.Engine
	Dialog    *dialog.Machine
	Asker     dialog.Asker
	Notifier  Notifier

	// ConversationTimeout sizes the time bucket of derived conversation ids
	ConversationTimeout time.Duration
	CleanupHorizon      time.Duration
	AskTimeout          time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Relay answers inbound messages
type Relay struct {
	guard    *safeguard.Engine
	dialog   *dialog.Machine
	asker    dialog.Asker
	notifier Notifier

	bucket     time.Duration
	horizon    time.Duration
	askTimeout time.Duration

	clock  clock.Clock
	logger *slog.Logger
}

// Inbound is a message from the remote agent
type Inbound struct {
	From string `json:"from" validate:"required"`
	Text string `json:"text"`

	// ConversationID groups messages; derived from Topic when empty
	ConversationID string `json:"conversation_id,omitempty"`
	Topic          string `json:"topic,omitempty"`

	// Task selects the handler; "github" runs the triage dialog
	Task string `json:"task,omitempty"`

	// Scope is the owner/name slug for a new triage dialog
	Scope string `json:"scope,omitempty" validate:"omitempty,repo_slug"`
}

// Reply is the relay's answer. Processed is false when the safeguard
// refused the message; Reason then says why.
type Reply struct {
	Processed      bool           `json:"processed"`
	Reason         string         `json:"reason"`
	Rule           safeguard.Rule `json:"rule"`
	ConversationID string         `json:"conversation_id"`
	Response       string         `json:"response,omitempty"`
	Options        []string       `json:"options,omitempty"`
	WaitingFor     string         `json:"waiting_for,omitempty"`
	Done           bool           `json:"done"`
}

// New creates a Relay
func New(cfg Config) (*Relay, error) {
	if cfg.Safeguard == nil {
		return nil, fmt.Errorf("relay: safeguard is required")
	}

	r := &Relay{
		guard:      cfg.Safeguard,
		dialog:     cfg.Dialog,
		asker:      cfg.Asker,
		notifier:   cfg.Notifier,
		bucket:     cfg.ConversationTimeout,
		horizon:    cfg.CleanupHorizon,
		askTimeout: cfg.AskTimeout,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	if r.bucket <= 0 {
		r.bucket = safeguard.DefaultConversationTimeout
	}
	if r.horizon <= 0 {
		r.horizon = safeguard.DefaultCleanupHorizon
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "relay")
	return r, nil
}

// ConversationID derives a stable id for messages about key within the
// same time bucket
func ConversationID(key string, at time.Time, bucket time.Duration) string {
	slot := at.Truncate(bucket).Unix()
	return uuid.NewSHA1(conversationNamespace, []byte(fmt.Sprintf("%s|%d", key, slot))).String()
}

func (r *Relay) conversationID(in Inbound) string {
	if in.ConversationID != "" {
		return in.ConversationID
	}
	key := in.Topic
	if key == "" {
		key = in.From
	}
	return ConversationID(key, r.clock.Now(), r.bucket)
}

// HandleMessage answers one inbound message. Collaborator failures become
// apologetic response text; the returned error is reserved for a
// cancelled context.
func (r *Relay) HandleMessage(ctx context.Context, in Inbound) (Reply, error) {
	id := r.conversationID(in)
	logger := r.logger.With("conversation", id, "from", in.From, "task", in.Task)

	decision := r.guard.Evaluate(ctx, id, in.From)
	if !decision.Admit {
		logger.Info("message refused", "rule", decision.Rule, "reason", decision.Reason)
		return Reply{
			Processed:      false,
			Reason:         decision.Reason,
			Rule:           decision.Rule,
			ConversationID: id,
		}, nil
	}

	reply := Reply{
		Processed:      true,
		Reason:         decision.Reason,
		Rule:           decision.Rule,
		ConversationID: id,
	}

	// Dialog replies always offer "fertig", so only the dialog's own done
	// flag closes a triage conversation.
	dialogDone := false
	switch in.Task {
	case TaskGitHub:
		res := r.step(ctx, id, in)
		reply.Response = res.Response
		reply.Options = res.Options
		reply.WaitingFor = res.WaitingFor
		dialogDone = res.Done
	default:
		reply.Response = r.ask(ctx, in.Text)
	}

	if err := ctx.Err(); err != nil {
		return reply, err
	}

	if err := r.guard.RecordTurn(ctx, id, in.From); err != nil {
		logger.Error("failed to record turn", "error", err)
	}

	switch {
	case dialogDone:
		reply.Done = true
		r.end(ctx, logger, id, ReasonDialogFinished)
	case in.Task != TaskGitHub && r.guard.ContainsDoneSignal(reply.Response):
		reply.Done = true
		r.end(ctx, logger, id, ReasonDoneSignal)
	}

	r.sweep(ctx, logger)
	logger.Info("message answered", "done", reply.Done, "response_len", len(reply.Response))
	return reply, nil
}

func (r *Relay) step(ctx context.Context, id string, in Inbound) dialog.Result {
	if r.dialog == nil {
		return dialog.Result{Response: "Entschuldigung, der GitHub-Dialog ist nicht eingerichtet."}
	}
	res, err := r.dialog.StepScope(ctx, id, in.Scope, in.Text)
	if err != nil {
		r.logger.Error("dialog step failed", "conversation", id, "error", err)
		if res.Response == "" {
			res.Response = "Entschuldigung, der GitHub-Dialog ist gerade nicht verfügbar. Versuche es später nochmal."
		}
	}
	return res
}

func (r *Relay) ask(ctx context.Context, text string) string {
	if r.asker == nil {
		return "Entschuldigung, ich kann gerade keine Fragen beantworten."
	}
	ok, answer := r.asker.Ask(ctx, text, r.askTimeout)
	if !ok {
		return "Entschuldigung, das hat nicht geklappt: " + answer
	}
	return answer
}

func (r *Relay) end(ctx context.Context, logger *slog.Logger, id, reason string) {
	if err := r.guard.EndConversation(ctx, id, reason); err != nil {
		logger.Error("failed to end conversation", "error", err)
	}
}

func (r *Relay) sweep(ctx context.Context, logger *slog.Logger) {
	if n, err := r.guard.SweepExpired(ctx, r.horizon); err != nil {
		logger.Warn("conversation sweep failed", "error", err)
	} else if n > 0 {
		logger.Debug("swept conversations", "removed", n)
	}

	if r.dialog == nil {
		return
	}
	if n, err := r.dialog.Sweep(ctx, r.horizon); err != nil {
		logger.Warn("dialog sweep failed", "error", err)
	} else if n > 0 {
		logger.Debug("swept dialog sessions", "removed", n)
	}
}
