// Package executor hands prompts to a language model session running in
// tmux. The session is driven by an ask script that types the prompt and
// prints the model's answer; answer lines start with "●".
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/afero"

	"github.com/elee1766/p2prelay/src/shell"
)

const (
	defaultTimeout = 60 * time.Second
	defaultGrace   = 10 * time.Second
	probeTimeout   = 5 * time.Second

	answerMarker = "●"
)

// Session states reported by Status. A status script may report others.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// ServiceConfig holds configuration for creating a new Service
type ServiceConfig struct {
	ScriptsDir   string
	AskScript    string
	StatusScript string
	SkillsDir    string
	TmuxSession  string

	DefaultTimeout time.Duration
	Grace          time.Duration

	Runner shell.Runner
	Fs     afero.Fs
	Logger *slog.Logger
}

// Service runs prompts through the ask script
type Service struct {
	config ServiceConfig
	runner shell.Runner
	fs     afero.Fs
	logger *slog.Logger
}

// NewService creates a new prompt service
func NewService(config ServiceConfig) *Service {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaultTimeout
	}
	if config.Grace <= 0 {
		config.Grace = defaultGrace
	}
	if config.TmuxSession == "" {
		config.TmuxSession = "claude"
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := config.Runner
	if runner == nil {
		runner = shell.Exec{Logger: logger}
	}
	fs := config.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Service{
		config: config,
		runner: runner,
		fs:     fs,
		logger: logger.With("component", "executor"),
	}
}

// DefaultTimeout is the timeout used when a caller passes none
func (s *Service) DefaultTimeout() time.Duration {
	return s.config.DefaultTimeout
}

func (s *Service) scriptPath(name string) string {
	return filepath.Join(s.config.ScriptsDir, name)
}

func (s *Service) exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := s.fs.Stat(path)
	return err == nil
}

// Ask sends prompt to the model and waits up to timeout for the answer.
// The script is killed after timeout plus the grace period. On failure ok
// is false and text says why in words fit for the peer.
func (s *Service) Ask(ctx context.Context, prompt string, timeout time.Duration) (ok bool, text string) {
	answer, err := s.AskErr(ctx, prompt, timeout)
	if err != nil {
		return false, failureText(err)
	}
	return true, answer
}

// AskErr is Ask with a typed error
func (s *Service) AskErr(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}

	script := s.scriptPath(s.config.AskScript)
	if !s.exists(script) {
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, script)
	}

	logger := s.logger.With("method", "Ask", "timeout", timeout)
	logger.Debug("sending prompt", "prompt_len", len(prompt))

	res, err := s.runner.Run(ctx, shell.Command{
		Name:    script,
		Args:    []string{prompt, strconv.Itoa(int(timeout.Seconds()))},
		Timeout: timeout + s.config.Grace,
	})
	if err != nil {
		logger.Warn("prompt failed", "error", err)
		return "", err
	}
	if !res.OK() {
		msg := strings.TrimSpace(ansi.Strip(res.Error))
		if msg == "" {
			msg = "Unknown error"
		}
		logger.Warn("ask script failed", "exit_code", res.ExitCode, "stderr", msg)
		return "", &ScriptError{ExitCode: res.ExitCode, Message: msg}
	}

	return ExtractAnswer(res.Output), nil
}

// ScriptError is a non-zero exit of the ask script
type ScriptError struct {
	ExitCode int
	Message  string
}

func (e *ScriptError) Error() string {
	return e.Message
}

func failureText(err error) string {
	var scriptErr *ScriptError
	switch {
	case errors.Is(err, shell.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	case errors.Is(err, ErrScriptNotFound):
		return "Script not found: " + strings.TrimPrefix(err.Error(), ErrScriptNotFound.Error()+": ")
	case errors.As(err, &scriptErr):
		return scriptErr.Message
	default:
		return err.Error()
	}
}

// ExtractAnswer keeps the "●" lines of the script output with the marker
// removed. Output without any marker line is returned whole.
func ExtractAnswer(output string) string {
	output = ansi.Strip(output)

	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if rest, ok := strings.CutPrefix(line, answerMarker); ok {
			lines = append(lines, strings.TrimSpace(rest))
		}
	}
	if len(lines) == 0 {
		return output
	}
	return strings.Join(lines, "\n")
}

// Status probes the tmux session. A running session is described by the
// status script when one is configured.
func (s *Service) Status(ctx context.Context) string {
	res, err := s.runner.Run(ctx, shell.Command{
		Name:    "tmux",
		Args:    []string{"has-session", "-t", s.config.TmuxSession},
		Timeout: probeTimeout,
	})
	if err != nil {
		s.logger.Debug("tmux probe failed", "error", err)
		return StatusError
	}
	if !res.OK() {
		return StatusStopped
	}

	script := s.scriptPath(s.config.StatusScript)
	if s.config.StatusScript == "" || !s.exists(script) {
		return StatusRunning
	}
	res, err = s.runner.Run(ctx, shell.Command{Name: script, Timeout: probeTimeout})
	if err != nil {
		s.logger.Debug("status script failed", "error", err)
		return StatusError
	}
	if out := strings.TrimSpace(ansi.Strip(res.Output)); out != "" {
		return out
	}
	return StatusRunning
}

// Skill is a directory under the skills directory holding a SKILL.md
type Skill struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

const skillManifest = "SKILL.md"

// Skills lists the available skills sorted by name. A missing skills
// directory has no skills.
func (s *Service) Skills() ([]Skill, error) {
	if s.config.SkillsDir == "" {
		return []Skill{}, nil
	}
	entries, err := afero.ReadDir(s.fs, s.config.SkillsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Skill{}, nil
		}
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}

	skills := []Skill{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.config.SkillsDir, e.Name())
		if s.exists(filepath.Join(path, skillManifest)) {
			skills = append(skills, Skill{Name: e.Name(), Path: path})
		}
	}
	return skills, nil
}

// RunSkill asks the model to use a skill, with optional arguments
func (s *Service) RunSkill(ctx context.Context, name, args string) (ok bool, text string, err error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return false, "", fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	path := filepath.Join(s.config.SkillsDir, name)
	if s.config.SkillsDir == "" || !s.exists(path) {
		return false, "", fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	if !s.exists(filepath.Join(path, skillManifest)) {
		return false, "", fmt.Errorf("%w: %s", ErrSkillNoManifest, name)
	}

	prompt := fmt.Sprintf("Use the %s skill", name)
	if args != "" {
		prompt += ": " + args
	}
	ok, text = s.Ask(ctx, prompt, s.config.DefaultTimeout)
	return ok, text, nil
}
