package main

import (
	"context"
	"fmt"
	"os"

	"github.com/elee1766/p2prelay/src/mail"
)

// MailCmd sends email through the configured mutt
type MailCmd struct {
	Send MailSendCmd `cmd:"" help:"Send a message"`
	File MailFileCmd `cmd:"" help:"Send a file as attachment"`
}

// MailSendCmd sends one message
type MailSendCmd struct {
	Subject string   `arg:"" help:"Subject"`
	Body    string   `arg:"" help:"Body; '-' reads stdin"`
	To      string   `help:"Recipient (defaults to mail.to)"`
	Attach  []string `short:"a" type:"path" help:"Files to attach"`
}

// Run executes the mail send command
func (c *MailSendCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	body, err := argOrStdin(c.Body, os.Stdin)
	if err != nil {
		return err
	}

	to := c.To
	if to == "" {
		to = a.cfg.Mail.To
	}
	res, err := a.mailer.Send(ctx, mail.Message{
		To:          to,
		Subject:     c.Subject,
		Body:        body,
		Attachments: c.Attach,
	})
	if err != nil {
		return err
	}
	fmt.Printf("sent to %s (%d attachments)\n", res.To, res.Attachments)
	return nil
}

// MailFileCmd mails a single file
type MailFileCmd struct {
	Path  string `arg:"" type:"path" help:"File to send"`
	Title string `help:"Title used in the subject"`
}

// Run executes the mail file command
func (c *MailFileCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.mailer.SendFile(ctx, c.Path, c.Title)
	if err != nil {
		return err
	}
	fmt.Printf("sent %s to %s\n", c.Path, res.To)
	return nil
}
