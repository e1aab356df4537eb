package main

import (
	"context"
	"fmt"
	"time"

	"github.com/elee1766/p2prelay/src/report"
)

// ReportCmd groups the report commands
type ReportCmd struct {
	Github ReportGithubCmd `cmd:"" name:"github" help:"Repository status report"`
	Digest ReportDigestCmd `cmd:"" help:"Daily digest"`
}

// ReportGithubCmd renders the repository status report
type ReportGithubCmd struct {
	Repo   string `help:"owner/name (defaults to dialog.repo)"`
	Days   int    `help:"Activity window in days (defaults to report.activity_days)"`
	Notify bool   `help:"Send the report to the remote peer"`
	Mail   bool   `help:"Mail the report to mail.to"`
}

// Run executes the report github command
func (c *ReportGithubCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	repo := c.Repo
	if repo == "" {
		repo = a.cfg.Dialog.Repo
	}
	if repo == "" {
		return fmt.Errorf("%w: no repository given and dialog.repo is empty", errUsage)
	}
	days := c.Days
	if days <= 0 {
		days = a.cfg.Report.ActivityDays
	}

	w := report.WatchRepo(ctx, a.tracker, repo, days, time.Now())
	fmt.Println(w.Report)

	if c.Notify && !a.relay.OnWatchComplete(ctx, w.Repo, w.Report, w.NewActivity) {
		a.logger.Warn("report not delivered to peer", "repo", repo)
	}
	if c.Mail {
		if _, err := a.mailer.Notify(ctx, "GitHub Report "+repo, w.Report); err != nil {
			return err
		}
	}
	return nil
}

// ReportDigestCmd renders the daily digest
type ReportDigestCmd struct {
	Notify bool `help:"Send the digest to the remote peer"`
	Mail   bool `help:"Mail the digest to mail.to"`
}

// Run executes the report digest command
func (c *ReportDigestCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	digest := a.digester().Build(ctx)
	fmt.Println(digest)

	if c.Notify && !a.relay.Report(ctx, "digest", digest) {
		a.logger.Warn("digest not delivered to peer")
	}
	if c.Mail {
		subject := "Daily Digest " + time.Now().Format("2006-01-02")
		if _, err := a.mailer.Notify(ctx, subject, digest); err != nil {
			return err
		}
	}
	return nil
}
