package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/elee1766/p2prelay/src/dialog"
	"github.com/elee1766/p2prelay/src/executor"
	"github.com/elee1766/p2prelay/src/peer"
	"github.com/elee1766/p2prelay/src/relay"
	"github.com/elee1766/p2prelay/src/report"
	"github.com/elee1766/p2prelay/src/safeguard"
)

const maxBody = 1 << 20

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "p2prelay",
		"version": s.config.Version,
		"endpoints": []string{
			"/health", "/status", "/ask", "/message", "/dialog/github",
			"/conversations", "/skills", "/skill/{name}", "/notify",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Status          string             `json:"status"`
	ExecutorSession string             `json:"executor_session"`
	Services        map[string]string  `json:"services"`
	Host            *report.HostStatus `json:"host,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:   "ok",
		Services: map[string]string{"api": "running"},
	}

	if s.config.Executor != nil {
		resp.ExecutorSession = s.config.Executor.Status(r.Context())
		resp.Services["executor"] = resp.ExecutorSession

		skills, err := s.config.Executor.Skills()
		if err == nil && len(skills) > 0 {
			resp.Services["skills"] = "available"
		} else {
			resp.Services["skills"] = "missing"
		}
	}

	if s.config.Host != nil {
		if st, err := s.config.Host(r.Context()); err == nil {
			resp.Host = &st
		} else {
			s.logger.Debug("host probe failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type askRequest struct {
	Prompt  string `json:"prompt" validate:"required"`
	Timeout int    `json:"timeout" validate:"min=0,max=600"`
}

type promptResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newPromptResponse(ok bool, text string) promptResponse {
	if ok {
		return promptResponse{Success: true, Response: text}
	}
	return promptResponse{Error: text}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.config.Executor == nil {
		writeErrorString(w, http.StatusServiceUnavailable, "no executor configured")
		return
	}

	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}

	if s.config.Executor.Status(r.Context()) == executor.StatusStopped {
		writeError(w, http.StatusServiceUnavailable, executor.ErrSessionStopped)
		return
	}

	timeout := time.Duration(req.Timeout) * time.Second
	ok, text := s.config.Executor.Ask(r.Context(), req.Prompt, timeout)
	writeJSON(w, http.StatusOK, newPromptResponse(ok, text))
}

// messageResponse is a relay.Reply with the message and timestamp fields
// of peer.Reply
type messageResponse struct {
	relay.Reply
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.config.Relay == nil {
		writeErrorString(w, http.StatusServiceUnavailable, "relay not configured")
		return
	}

	var in relay.Inbound
	if !s.decode(w, r, &in) {
		return
	}

	reply, err := s.config.Relay.HandleMessage(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Reply:     reply,
		Message:   reply.Response,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type dialogRequest struct {
	ID    string `json:"id" validate:"required"`
	Scope string `json:"scope" validate:"omitempty,repo_slug"`
	Input string `json:"input"`
}

type dialogResponse struct {
	ID string `json:"id"`
	dialog.Result
}

func (s *Server) handleDialog(w http.ResponseWriter, r *http.Request) {
	if s.config.Dialog == nil {
		writeErrorString(w, http.StatusServiceUnavailable, "dialog not configured")
		return
	}

	var req dialogRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.config.Dialog.StepScope(r.Context(), req.ID, req.Scope, req.Input)
	if err != nil && res.Response == "" {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.logger.Error("dialog step failed", "id", req.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, dialogResponse{ID: req.ID, Result: res})
}

type conversationsResponse struct {
	Conversations []safeguard.ConversationRecord `json:"conversations"`
	Global        safeguard.GlobalRateState      `json:"global"`
	Sessions      []dialog.Session               `json:"sessions"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	resp := conversationsResponse{
		Conversations: []safeguard.ConversationRecord{},
		Sessions:      []dialog.Session{},
	}
	if s.config.Safeguard != nil {
		resp.Conversations, resp.Global = s.config.Safeguard.Snapshot(r.Context())
	}
	if s.config.Dialog != nil {
		resp.Sessions = s.config.Dialog.Sessions(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSkills(w http.ResponseWriter, _ *http.Request) {
	skills := []executor.Skill{}
	if s.config.Executor != nil {
		var err error
		skills, err = s.config.Executor.Skills()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

type skillRequest struct {
	Args string `json:"args"`
}

func (s *Server) handleSkill(w http.ResponseWriter, r *http.Request) {
	if s.config.Executor == nil {
		writeErrorString(w, http.StatusServiceUnavailable, "no executor configured")
		return
	}

	name := r.PathValue("name")
	var req skillRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	ok, text, err := s.config.Executor.RunSkill(r.Context(), name, req.Args)
	switch {
	case errors.Is(err, executor.ErrSkillNotFound):
		writeErrorString(w, http.StatusNotFound, "Skill not found: "+name)
		return
	case errors.Is(err, executor.ErrSkillNoManifest):
		writeErrorString(w, http.StatusInternalServerError, fmt.Sprintf("Skill %s has no SKILL.md", name))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Skill string `json:"skill"`
		promptResponse
	}{Skill: name, promptResponse: newPromptResponse(ok, text)})
}

type notifyRequest struct {
	Title    string `json:"title" validate:"required"`
	Body     string `json:"body"`
	Priority string `json:"priority" validate:"omitempty,oneof=normal high critical"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if s.config.Relay == nil {
		writeErrorString(w, http.StatusServiceUnavailable, "relay not configured")
		return
	}

	var req notifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	priority, err := peer.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	delivered := s.config.Relay.Notify(r.Context(), req.Title, req.Body, priority)
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": delivered})
}

// decode reads and validates a JSON body, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxBody), dest); err != nil {
		writeErrorString(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dest); err != nil {
		writeErrorString(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", strings.ToLower(e.Field()), e.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeErrorString(w, status, err.Error())
}

func writeErrorString(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}
