package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/config"
	"github.com/elee1766/p2prelay/src/dialog"
	"github.com/elee1766/p2prelay/src/executor"
	"github.com/elee1766/p2prelay/src/journal"
	"github.com/elee1766/p2prelay/src/mail"
	"github.com/elee1766/p2prelay/src/peer"
	"github.com/elee1766/p2prelay/src/relay"
	"github.com/elee1766/p2prelay/src/report"
	"github.com/elee1766/p2prelay/src/safeguard"
	"github.com/elee1766/p2prelay/src/storage"
	"github.com/elee1766/p2prelay/src/tracker"
)

// app is every component built from one configuration
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store    storage.BlobStore
	journal  *journal.Journal
	tracker  tracker.Reporter
	executor *executor.Service
	peer     *peer.Client
	mailer   *mail.Mailer
	guard    *safeguard.Engine
	dialog   *dialog.Machine
	relay    *relay.Relay
}

// loadConfig loads the layered configuration
func loadConfig(cli *CLI) (*config.Config, error) {
	m, err := config.NewManager(cli.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	return m.GetConfig(), nil
}

// newApp loads the configuration and wires the components. Close must be
// called to release the store.
func newApp(cli *CLI) (*app, error) {
	cfg, err := loadConfig(cli)
	if err != nil {
		return nil, err
	}
	logger := newLogger(os.Stderr, cfg.Logging, cli)
	slog.SetDefault(logger)

	return buildApp(cfg, afero.NewOsFs(), clock.Real(), logger)
}

// buildApp wires every component from cfg
func buildApp(cfg *config.Config, fs afero.Fs, clk clock.Clock, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := openStore(cfg, fs)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.journal = journal.New(fs, cfg.Peer.ExchangeLog, clk)
	a.tracker = newTracker(cfg.Tracker, clk, logger)

	a.executor = executor.NewService(executor.ServiceConfig{
		ScriptsDir:     cfg.Executor.ScriptsDir,
		AskScript:      cfg.Executor.AskScript,
		StatusScript:   cfg.Executor.StatusScript,
		SkillsDir:      cfg.Executor.SkillsDir,
		TmuxSession:    cfg.Executor.TmuxSession,
		DefaultTimeout: cfg.Executor.DefaultTimeout.Std(),
		Grace:          cfg.Executor.Grace.Std(),
		Fs:             fs,
		Logger:         logger,
	})

	a.peer = peer.NewClient(peer.Config{
		BaseURL:       cfg.Peer.RemoteURL,
		LocalID:       cfg.Peer.LocalID,
		RemoteID:      cfg.Peer.RemoteID,
		Timeout:       cfg.Peer.Timeout.Std(),
		HealthTimeout: cfg.Peer.HealthTimeout.Std(),
		Journal:       a.journal,
		Logger:        logger,
	})

	a.mailer = mail.New(mail.Config{
		Command:  cfg.Mail.Command,
		To:       cfg.Mail.To,
		FromName: cfg.Mail.FromName,
		Timeout:  cfg.Mail.Timeout.Std(),
		Fs:       fs,
		Journal:  a.journal,
		Logger:   logger,
	})

	a.guard, err = safeguard.New(safeguard.Config{
		LocalID:             cfg.Peer.LocalID,
		Cooldown:            cfg.Safeguard.Cooldown.Std(),
		MaxTurns:            cfg.Safeguard.MaxTurns,
		ConversationTimeout: cfg.Safeguard.ConversationTimeout.Std(),
		DoneSignals:         cfg.Safeguard.DoneSignals,
		Store:               store,
		Clock:               clk,
		Logger:              logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	a.dialog, err = dialog.New(dialog.Config{
		Scope:          cfg.Dialog.Repo,
		Vocabulary:     vocabulary(cfg.Dialog.Vocabulary),
		ShownItems:     cfg.Dialog.ShownItems,
		BodyPreview:    cfg.Dialog.BodyPreview,
		CommentPreview: cfg.Dialog.CommentPreview,
		CommentsShown:  cfg.Dialog.CommentsShown,
		BusyThreshold:  cfg.Dialog.BusyThreshold,
		PromptTimeout:  cfg.Dialog.PromptTimeout.Std(),
		Tracker:        a.tracker,
		Asker:          a.executor,
		Store:          store,
		Clock:          clk,
		Logger:         logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	a.relay, err = relay.New(relay.Config{
		Safeguard:           a.guard,
		Dialog:              a.dialog,
		Asker:               a.executor,
		Notifier:            a.peer,
		ConversationTimeout: cfg.Safeguard.ConversationTimeout.Std(),
		CleanupHorizon:      cfg.Safeguard.CleanupHorizon.Std(),
		AskTimeout:          cfg.Executor.DefaultTimeout.Std(),
		Clock:               clk,
		Logger:              logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return a, nil
}

// Close releases the store
func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) digester() *report.Digester {
	return report.NewDigester(report.DigestConfig{
		ReposDir: a.cfg.Report.ReposDir,
		Services: a.cfg.Report.Services,
		Journal:  a.journal,
		Logger:   a.logger,
	})
}

// openStore opens the configured backend. The json backend goes through
// fs; sqlite and bolt always use the real filesystem.
func openStore(cfg *config.Config, fs afero.Fs) (storage.BlobStore, error) {
	backend := cfg.Storage.Backend
	dir := cfg.StatePath("")
	if backend == "" || backend == config.BackendJSON {
		return storage.NewFileStore(fs, dir), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := storage.Open(backend, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", backend, err)
	}
	return store, nil
}

func newTracker(cfg config.TrackerConfig, clk clock.Clock, logger *slog.Logger) tracker.Reporter {
	if cfg.Backend == config.TrackerREST {
		return tracker.NewREST(tracker.RESTConfig{
			BaseURL:   cfg.BaseURL,
			Token:     cfg.Token,
			Timeout:   cfg.Timeout.Std(),
			ListLimit: cfg.ListLimit,
			Clock:     clk,
			Logger:    logger,
		})
	}
	return tracker.NewGHCLI(tracker.GHConfig{
		GHPath:    cfg.GHPath,
		Timeout:   cfg.Timeout.Std(),
		ListLimit: cfg.ListLimit,
		Clock:     clk,
		Logger:    logger,
	})
}

func vocabulary(v config.VocabularyConfig) dialog.Vocabulary {
	return dialog.Vocabulary{
		Terminate: v.Terminate,
		Comments:  v.Comments,
		Analyze:   v.Analyze,
		Confirm:   v.Confirm,
		Decline:   v.Decline,
		Back:      v.Back,
	}
}
