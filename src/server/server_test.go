package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/dialog"
	"github.com/elee1766/p2prelay/src/executor"
	"github.com/elee1766/p2prelay/src/peer"
	"github.com/elee1766/p2prelay/src/relay"
	"github.com/elee1766/p2prelay/src/report"
	"github.com/elee1766/p2prelay/src/safeguard"
	"github.com/elee1766/p2prelay/src/storage"
	"github.com/elee1766/p2prelay/src/tracker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeExecutor struct {
	status  string
	ok      bool
	answer  string
	prompts []string
	skills  []executor.Skill
	skillFn func(name, args string) (bool, string, error)
}

func (f *fakeExecutor) Status(context.Context) string { return f.status }

func (f *fakeExecutor) Ask(_ context.Context, prompt string, _ time.Duration) (bool, string) {
	f.prompts = append(f.prompts, prompt)
	return f.ok, f.answer
}

func (f *fakeExecutor) Skills() ([]executor.Skill, error) { return f.skills, nil }

func (f *fakeExecutor) RunSkill(_ context.Context, name, args string) (bool, string, error) {
	return f.skillFn(name, args)
}

func (f *fakeExecutor) DefaultTimeout() time.Duration { return time.Minute }

type fakeTracker struct{}

func (fakeTracker) ListOpenItems(context.Context, string) []tracker.Item {
	return []tracker.Item{{Number: 7, Title: "Crash on start", Author: "alice"}}
}

func (fakeTracker) ItemDetail(context.Context, string, int) tracker.Detail {
	return tracker.Detail{Title: "Crash on start", Body: "It crashes."}
}

func (fakeTracker) ItemComments(context.Context, string, int) []tracker.Comment { return nil }

type fakeNotifier struct {
	titles []string
	prios  []peer.Priority
}

func (f *fakeNotifier) Notify(_ context.Context, title, _ string, p peer.Priority) bool {
	f.titles = append(f.titles, title)
	f.prios = append(f.prios, p)
	return true
}

func (f *fakeNotifier) Report(context.Context, string, string) error { return nil }

type harness struct {
	handler  http.Handler
	exec     *fakeExecutor
	notifier *fakeNotifier
	clock    *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		exec:     &fakeExecutor{status: executor.StatusRunning, ok: true, answer: "42"},
		notifier: &fakeNotifier{},
		clock:    clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	store := storage.NewFileStore(afero.NewMemMapFs(), "/state")

	guard, err := safeguard.New(safeguard.Config{
		LocalID:  "nanobot",
		Cooldown: safeguard.DefaultCooldown,
		MaxTurns: 10,
		Store:    store,
		Clock:    h.clock,
	})
	require.NoError(t, err)

	dlg, err := dialog.New(dialog.Config{
		Scope:   "octo/widgets",
		Tracker: fakeTracker{},
		Asker:   h.exec,
		Store:   store,
		Clock:   h.clock,
	})
	require.NoError(t, err)

	rl, err := relay.New(relay.Config{
		Safeguard: guard,
		Dialog:    dlg,
		Asker:     h.exec,
		Notifier:  h.notifier,
		Clock:     h.clock,
	})
	require.NoError(t, err)

	srv := New(Config{
		Version:   "test",
		Relay:     rl,
		Dialog:    dlg,
		Safeguard: guard,
		Executor:  h.exec,
		Host: func(context.Context) (report.HostStatus, error) {
			return report.HostStatus{Hostname: "box"}, nil
		},
	})
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body == "" {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestHealthAndRoot(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = h.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "test", body["version"])

	code, _ = h.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.exec.skills = []executor.Skill{{Name: "github"}}

	code, body := h.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["executor_session"])

	services := body["services"].(map[string]any)
	assert.Equal(t, "available", services["skills"])
	assert.Equal(t, "box", body["host"].(map[string]any)["hostname"])
}

func TestAsk(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/ask", `{"prompt":"meaning?"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "42", body["response"])
	assert.Equal(t, []string{"meaning?"}, h.exec.prompts)
}

func TestAskValidation(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/ask", `{"timeout":5}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "prompt")

	code, _ = h.do(t, http.MethodPost, "/ask", `{"prompt":"x","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/ask", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, h.exec.prompts)
}

func TestAskWhenSessionStopped(t *testing.T) {
	h := newHarness(t)
	h.exec.status = executor.StatusStopped

	code, _ := h.do(t, http.MethodPost, "/ask", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Empty(t, h.exec.prompts)
}

func TestAskFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.exec.ok = false
	h.exec.answer = "Request timed out"

	code, body := h.do(t, http.MethodPost, "/ask", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Request timed out", body["error"])
}

func TestMessage(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/message", `{"from":"argus","text":"ping"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["processed"])
	assert.Equal(t, "42", body["message"])
	assert.Equal(t, "42", body["response"])
	assert.NotEmpty(t, body["conversation_id"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestMessageCooldown(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/message", `{"from":"argus","text":"ping"}`)

	code, body := h.do(t, http.MethodPost, "/message", `{"from":"argus","text":"ping"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["processed"])
	assert.Equal(t, string(safeguard.RuleCooldown), body["rule"])
}

func TestMessageSelfOrigin(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(t, http.MethodPost, "/message", `{"from":"nanobot","text":"ping"}`)
	assert.Equal(t, false, body["processed"])
	assert.Equal(t, string(safeguard.RuleSelfOrigin), body["rule"])
}

func TestMessageRequiresSender(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodPost, "/message", `{"text":"ping"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/message", `{"from":"argus","text":"x","scope":"no slug"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDialog(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/dialog/github", `{"id":"d1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "d1", body["id"])
	assert.Contains(t, body["response"], "#7")
	assert.Equal(t, dialog.WaitItemSelection, body["waiting_for"])

	code, body = h.do(t, http.MethodPost, "/dialog/github", `{"id":"d1","input":"fertig"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["done"])

	code, body = h.do(t, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["sessions"], 1)
	assert.Len(t, body["conversations"], 0)
}

func TestDialogRequiresID(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodPost, "/dialog/github", `{"input":"1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSkills(t *testing.T) {
	h := newHarness(t)
	h.exec.skills = []executor.Skill{{Name: "github", Path: "/skills/github"}}
	h.exec.skillFn = func(name, args string) (bool, string, error) {
		switch name {
		case "github":
			return true, "ran " + args, nil
		case "broken":
			return false, "", fmt.Errorf("%w: broken", executor.ErrSkillNoManifest)
		default:
			return false, "", fmt.Errorf("%w: %s", executor.ErrSkillNotFound, name)
		}
	}

	code, body := h.do(t, http.MethodGet, "/skills", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["skills"], 1)

	code, body = h.do(t, http.MethodPost, "/skill/github", `{"args":"octo/widgets"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "github", body["skill"])
	assert.Equal(t, "ran octo/widgets", body["response"])

	code, _ = h.do(t, http.MethodPost, "/skill/github", "")
	assert.Equal(t, http.StatusOK, code)

	code, body = h.do(t, http.MethodPost, "/skill/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Skill not found: missing", body["error"])

	code, _ = h.do(t, http.MethodPost, "/skill/broken", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestNotify(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/notify", `{"title":"Disk","body":"full","priority":"critical"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["delivered"])
	assert.Equal(t, []string{"Disk"}, h.notifier.titles)
	assert.Equal(t, []peer.Priority{peer.PriorityCritical}, h.notifier.prios)

	code, _ = h.do(t, http.MethodPost, "/notify", `{"title":"Disk","priority":"urgent"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/notify", `{"body":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodGet, "/ask", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, HTTPConfig{ShutdownTimeout: time.Second}) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	http.DefaultClient.CloseIdleConnections()
}
