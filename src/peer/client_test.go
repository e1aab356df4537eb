package peer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/journal"
)

type remote struct {
	mu       sync.Mutex
	healthy  bool
	status   int
	messages []Message
}

func (r *remote) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, req *http.Request) {
		var msg Message
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.messages = append(r.messages, msg)
		status := r.status
		r.mu.Unlock()

		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"busy"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message":   "ack: " + msg.Text,
			"context":   []string{"a"},
			"timestamp": "2025-03-01T09:00:00Z",
		})
	})
	return mux
}

func newClient(t *testing.T, r *remote) (*Client, afero.Fs) {
	t.Helper()
	srv := httptest.NewServer(r.handler())
	t.Cleanup(srv.Close)

	fs := afero.NewMemMapFs()
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewClient(Config{
		BaseURL:  srv.URL + "/",
		LocalID:  "nanobot",
		RemoteID: "argus",
		Timeout:  2 * time.Second,
		Journal:  journal.New(fs, "/p2p.log", clk),
	}), fs
}

func journalLines(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	data, err := afero.ReadFile(fs, "/p2p.log")
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestSend(t *testing.T) {
	r := &remote{healthy: true}
	c, fs := newClient(t, r)

	reply, err := c.Send(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, "ack: hello", reply.Message)
	assert.JSONEq(t, `["a"]`, string(reply.Context))

	require.Len(t, r.messages, 1)
	assert.Equal(t, Message{From: "nanobot", Text: "hello"}, r.messages[0])

	assert.Equal(t, []string{
		"2025-03-01 09:00:00 | OUT | nanobot → argus | Q: hello | A: ack: hello",
	}, journalLines(t, fs))
}

func TestSendOffline(t *testing.T) {
	r := &remote{healthy: false}
	c, fs := newClient(t, r)

	_, err := c.Send(context.Background(), "hello", "")
	assert.True(t, errors.Is(err, ErrPeerOffline))
	assert.Empty(t, r.messages)
	assert.Contains(t, journalLines(t, fs)[0], "A: ERROR: peer offline")
}

func TestSendHTTPError(t *testing.T) {
	r := &remote{healthy: true, status: http.StatusTooManyRequests}
	c, fs := newClient(t, r)

	_, err := c.Send(context.Background(), "hello", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "busy", apiErr.Message)
	assert.Contains(t, journalLines(t, fs)[0], "A: ERROR: HTTP 429")
}

func TestUnreachablePeer(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", LocalID: "nanobot", HealthTimeout: 200 * time.Millisecond})
	assert.False(t, c.Health(context.Background()))
	assert.False(t, c.Notify(context.Background(), "t", "b", PriorityHigh))
}

func TestNotifyAskReport(t *testing.T) {
	r := &remote{healthy: true}
	c, _ := newClient(t, r)
	ctx := context.Background()

	assert.True(t, c.Notify(ctx, "Neue Issues", "body", PriorityHigh))
	assert.True(t, c.Notify(ctx, "Info", "body", Priority("bogus")))

	answer, ok := c.Ask(ctx, "status?")
	assert.True(t, ok)
	assert.Equal(t, "ack: ❓ status?", answer)

	require.NoError(t, c.Report(ctx, "github", "report body"))
	require.NoError(t, c.Report(ctx, "weekly", "x"))

	require.Len(t, r.messages, 5)
	assert.Equal(t, Message{From: "nanobot-notify", Text: "⚠️ **Neue Issues**\n\nbody"}, r.messages[0])
	assert.Equal(t, "ℹ️ **Info**\n\nbody", r.messages[1].Text)
	assert.Equal(t, "nanobot-ask", r.messages[2].From)
	assert.Equal(t, Message{From: "nanobot-github", Text: "📊 **GITHUB Report**\n\nreport body"}, r.messages[3])
	assert.Equal(t, "📝 **WEEKLY Report**\n\nx", r.messages[4].Text)
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"normal", PriorityNormal, false},
		{"HIGH", PriorityHigh, false},
		{"critical", PriorityCritical, false},
		{"urgent", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrInvalidPriority), tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
