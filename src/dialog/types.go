package dialog

import (
	"time"

	"github.com/elee1766/p2prelay/src/tracker"
)

// Role identifies who wrote a Message
type Role string

const (
	RolePeer  Role = "peer"
	RoleLocal Role = "local"
)

// Message is one entry of a session transcript
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Status of a session. A done session never changes again.
type Status string

const (
	StatusActive Status = "active"
	StatusDone   Status = "done"
)

// State is the position of a session in the triage flow
type State string

const (
	StateNew           State = "new"
	StateListing       State = "listing"
	StateItemSelected  State = "item_selected"
	StateComments      State = "comments"
	StateConfirmAction State = "confirm_action"
	StatePostAction    State = "post_action"
	StateDone          State = "done"
)

// Selection is the item the peer is looking at. PendingConfirm is set
// while the dialog waits for a yes/no on running the follow-up task, so a
// pending confirmation cannot exist without a selected item.
type Selection struct {
	Item           tracker.Item `json:"item"`
	PendingConfirm bool         `json:"pending_confirm"`
}

// Context is the task state carried between turns
type Context struct {
	Scope     string         `json:"scope"`
	Items     []tracker.Item `json:"items,omitempty"`
	Selection *Selection     `json:"selection,omitempty"`
}

// item returns the cached item with number n
func (c Context) item(n int) (tracker.Item, bool) {
	for _, it := range c.Items {
		if it.Number == n {
			return it, true
		}
	}
	return tracker.Item{}, false
}

// Session is one triage dialog
type Session struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	State     State     `json:"state"`
	Messages  []Message `json:"messages"`
	Context   Context   `json:"context"`
	Turn      int       `json:"turn"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the session has ended
func (s *Session) Done() bool {
	return s.Status == StatusDone
}

func (s *Session) append(role Role, content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: at})
	s.Turn++
	s.UpdatedAt = at
}

func (s *Session) finish() {
	s.Status = StatusDone
	s.State = StateDone
}

// What a Result is waiting for next
const (
	WaitItemSelection   = "item_selection"
	WaitActionSelection = "action_selection"
	WaitConfirmation    = "confirmation"
	WaitFollowUp        = "follow_up"
	WaitClarification   = "clarification"
)

// Result is the answer to one Step
type Result struct {
	Response   string   `json:"response"`
	Options    []string `json:"options"`
	WaitingFor string   `json:"waiting_for,omitempty"`
	Done       bool     `json:"done"`
}
