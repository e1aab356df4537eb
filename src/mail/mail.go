// Package mail sends email through mutt
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/elee1766/p2prelay/src/journal"
	"github.com/elee1766/p2prelay/src/shell"
)

var (
	// ErrNoRecipient means neither the message nor the config names one
	ErrNoRecipient = errors.New("no recipient")

	// ErrFileNotFound is returned by SendFile for a missing attachment
	ErrFileNotFound = errors.New("file not found")
)

// Config configures a Mailer
type Config struct {
	Command  string
	To       string // default recipient for Notify and SendFile
	FromName string
	Timeout  time.Duration

	Runner  shell.Runner
	Fs      afero.Fs
	Journal *journal.Journal
	Logger  *slog.Logger
}

// Message is one email. Attachments that do not exist are skipped.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []string
}

// Result describes a sent email
type Result struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Attachments int    `json:"attachments"`
}

// Mailer sends email with mutt
type Mailer struct {
	config Config
	runner shell.Runner
	fs     afero.Fs
	logger *slog.Logger
}

// New creates a Mailer
func New(config Config) *Mailer {
	if config.Command == "" {
		config.Command = "mutt"
	}
	if config.FromName == "" {
		config.FromName = "Nanobot"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
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
	return &Mailer{
		config: config,
		runner: runner,
		fs:     fs,
		logger: logger.With("component", "mail"),
	}
}

// Send mails msg. The body gets a signature line naming the sender.
func (m *Mailer) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, ErrNoRecipient
	}

	args := []string{"-s", msg.Subject}
	attached := 0
	if len(msg.Attachments) > 0 {
		for _, path := range msg.Attachments {
			if _, err := m.fs.Stat(path); err != nil {
				m.logger.Warn("skipping missing attachment", "path", path)
				continue
			}
			args = append(args, "-a", path)
			attached++
		}
		args = append(args, "--")
	}
	args = append(args, msg.To)

	body := fmt.Sprintf("%s\n\n--\nGesendet von %s via Mutt", msg.Body, m.config.FromName)
	res, err := m.runner.Run(ctx, shell.Command{
		Name:    m.config.Command,
		Args:    args,
		Stdin:   body,
		Timeout: m.config.Timeout,
	})
	if err != nil {
		if errors.Is(err, shell.ErrTimeout) {
			return Result{}, fmt.Errorf("timeout sending email: %w", err)
		}
		return Result{}, err
	}
	if !res.OK() {
		return Result{}, fmt.Errorf("%s exited with %d: %s", m.config.Command, res.ExitCode, strings.TrimSpace(res.Error))
	}

	tag := "📧 EMAIL"
	if attached > 0 {
		tag += "+📎"
	}
	if err := m.config.Journal.Append(tag, msg.To, msg.Subject); err != nil {
		m.logger.Warn("failed to write exchange journal", "error", err)
	}
	m.logger.Info("email sent", "to", msg.To, "attachments", attached)

	return Result{To: msg.To, Subject: msg.Subject, Attachments: attached}, nil
}

func (m *Mailer) subject(s string) string {
	return fmt.Sprintf("[%s] %s", m.config.FromName, s)
}

// Notify mails the default recipient
func (m *Mailer) Notify(ctx context.Context, subject, body string) (Result, error) {
	return m.Send(ctx, Message{To: m.config.To, Subject: m.subject(subject), Body: body})
}

// SendFile mails one file, such as a rendered diagram, to the default
// recipient
func (m *Mailer) SendFile(ctx context.Context, path, title string) (Result, error) {
	if _, err := m.fs.Stat(path); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if title == "" {
		title = "Diagram"
	}
	body := fmt.Sprintf("Hier ist das Diagramm: %s\n\nDatei: %s", title, filepath.Base(path))
	return m.Send(ctx, Message{
		To:          m.config.To,
		Subject:     m.subject(title),
		Body:        body,
		Attachments: []string{path},
	})
}
