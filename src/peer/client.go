// Package peer talks to the remote agent: liveness probes, messages,
// notifications and reports. Every outbound message is recorded in the
// exchange journal, whether or not it was delivered.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elee1766/p2prelay/src/journal"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultHealthTimeout = 5 * time.Second
)

// Priority of a notification
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityEmoji = map[Priority]string{
	PriorityNormal:   "ℹ️",
	PriorityHigh:     "⚠️",
	PriorityCritical: "🚨",
}

// ParsePriority parses normal, high or critical. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToLower(s))
	if _, ok := priorityEmoji[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

var reportEmoji = map[string]string{
	"github":    "📊",
	"digest":    "📋",
	"discovery": "🔍",
	"error":     "❌",
	"success":   "✅",
}

// Message is the body of POST /message, in both directions
type Message struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// Reply is the remote agent's answer to a message
type Reply struct {
	Message   string          `json:"message"`
	Context   json.RawMessage `json:"context,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Client is the remote agent client
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	journal    *journal.Journal
}

// NewClient creates a new peer client
func NewClient(config Config) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = defaultHealthTimeout
	}
	if config.RemoteID == "" {
		config.RemoteID = "peer"
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{},
		logger:     logger.With("component", "peer_client", "peer", config.RemoteID),
		journal:    config.Journal,
	}
}

// newRequest creates a new HTTP request with the appropriate headers
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// handleError turns an error response into an *APIError
func (c *Client) handleError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RequestID:  resp.Header.Get("X-Request-ID"),
	}
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			apiErr.Message = payload.Error
		case payload.Detail != "":
			apiErr.Message = payload.Detail
		}
	}
	return apiErr
}

// Health reports whether the remote agent answers GET /health with 200
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Send delivers text to the remote agent as source and returns its reply.
// A failed health probe short-circuits with ErrPeerOffline.
func (c *Client) Send(ctx context.Context, text, source string) (*Reply, error) {
	if source == "" {
		source = c.config.LocalID
	}
	logger := c.logger.With("method", "Send", "source", source)

	if !c.Health(ctx) {
		c.record(text, "ERROR: peer offline")
		logger.Warn("peer offline, message dropped")
		return nil, ErrPeerOffline
	}

	reply, err := c.post(ctx, Message{From: source, Text: text})
	if err != nil {
		c.record(text, "ERROR: "+errorSummary(err))
		logger.Warn("message delivery failed", "error", err)
		return nil, err
	}

	c.record(text, reply.Message)
	logger.Info("message delivered", "reply_len", len(reply.Message))
	return reply, nil
}

func (c *Client) post(ctx context.Context, msg Message) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/message", body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleError(resp)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return &reply, nil
}

func errorSummary(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("HTTP %d", apiErr.StatusCode)
	default:
		return err.Error()
	}
}

// record writes one exchange line. Question and answer are clipped so a
// line stays readable.
func (c *Client) record(text, answer string) {
	route := fmt.Sprintf("%s → %s", c.config.LocalID, c.config.RemoteID)
	var err error
	if answer == "" {
		err = c.journal.Append("OUT", route, journal.Clip(text, 150))
	} else {
		err = c.journal.Append("OUT", route, "Q: "+journal.Clip(text, 80), "A: "+journal.Clip(answer, 80))
	}
	if err != nil {
		c.logger.Warn("failed to write exchange journal", "error", err)
	}
}

// Notify sends a titled notification. Delivery is best effort.
func (c *Client) Notify(ctx context.Context, title, body string, priority Priority) bool {
	emoji, ok := priorityEmoji[priority]
	if !ok {
		emoji = priorityEmoji[PriorityNormal]
	}
	text := fmt.Sprintf("%s **%s**\n\n%s", emoji, title, body)
	_, err := c.Send(ctx, text, c.config.LocalID+"-notify")
	return err == nil
}

// Ask sends a question and returns the remote agent's answer
func (c *Client) Ask(ctx context.Context, question string) (string, bool) {
	reply, err := c.Send(ctx, "❓ "+question, c.config.LocalID+"-ask")
	if err != nil {
		return "", false
	}
	return reply.Message, true
}

// Report sends a report of kind (github, digest, discovery, error, success)
func (c *Client) Report(ctx context.Context, kind, content string) error {
	emoji, ok := reportEmoji[kind]
	if !ok {
		emoji = "📝"
	}
	text := fmt.Sprintf("%s **%s Report**\n\n%s", emoji, strings.ToUpper(kind), content)
	_, err := c.Send(ctx, text, c.config.LocalID+"-"+kind)
	return err
}
