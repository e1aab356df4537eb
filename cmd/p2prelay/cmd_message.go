package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/elee1766/p2prelay/src/dialog"
	"github.com/elee1766/p2prelay/src/peer"
	"github.com/elee1766/p2prelay/src/relay"
)

// MessageCmd runs one inbound message through the relay as if the peer
// had posted it
type MessageCmd struct {
	Text           string `arg:"" help:"Message text"`
	From           string `help:"Sender id (defaults to the configured remote id)"`
	Topic          string `help:"Conversation topic"`
	ConversationID string `name:"id" help:"Explicit conversation id"`
	Task           string `help:"Task; 'github' runs the triage dialog"`
	Scope          string `help:"owner/name for a new triage dialog"`
	JSON           bool   `help:"Print the reply as JSON"`
}

// Run executes the message command
func (c *MessageCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	from := c.From
	if from == "" {
		from = a.cfg.Peer.RemoteID
	}

	reply, err := a.relay.HandleMessage(ctx, relay.Inbound{
		From:           from,
		Text:           c.Text,
		ConversationID: c.ConversationID,
		Topic:          c.Topic,
		Task:           c.Task,
		Scope:          c.Scope,
	})
	if err != nil {
		return err
	}

	if c.JSON {
		return printJSON(os.Stdout, reply)
	}
	if !reply.Processed {
		fmt.Printf("refused (%s): %s\n", reply.Rule, reply.Reason)
		return nil
	}
	printResponse(os.Stdout, reply.Response, reply.Options)
	if reply.Done {
		fmt.Println("(conversation closed)")
	}
	return nil
}

// DialogCmd steps a triage dialog directly, without the safeguard
type DialogCmd struct {
	ID    string `arg:"" help:"Dialog session id"`
	Input string `arg:"" optional:"" help:"Peer input; empty starts the session"`
	Scope string `help:"owner/name for a new session"`
	JSON  bool   `help:"Print the result as JSON"`
}

// Run executes the dialog command
func (c *DialogCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.dialog.StepScope(ctx, c.ID, c.Scope, c.Input)
	if err != nil && res.Response == "" {
		return err
	}
	if err != nil {
		a.logger.Warn("dialog state not saved", "error", err)
	}

	if c.JSON {
		return printJSON(os.Stdout, struct {
			ID string `json:"id"`
			dialog.Result
		}{c.ID, res})
	}
	printResponse(os.Stdout, res.Response, res.Options)
	return nil
}

// AskCmd sends a prompt straight to the executor
type AskCmd struct {
	Prompt  string        `arg:"" help:"Prompt text; '-' reads stdin"`
	Timeout time.Duration `help:"Executor timeout (defaults to the config)"`
}

// Run executes the ask command
func (c *AskCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	prompt, err := argOrStdin(c.Prompt, os.Stdin)
	if err != nil {
		return err
	}

	text, err := a.executor.AskErr(ctx, prompt, c.Timeout)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// SendCmd sends a message to the remote peer and prints its answer
type SendCmd struct {
	Text   string `arg:"" help:"Message text; '-' reads stdin"`
	Source string `help:"Sender id (defaults to the configured local id)"`
}

// Run executes the send command
func (c *SendCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := argOrStdin(c.Text, os.Stdin)
	if err != nil {
		return err
	}

	reply, err := a.peer.Send(ctx, text, c.Source)
	if err != nil {
		return err
	}
	fmt.Println(reply.Message)
	return nil
}

// NotifyCmd sends a notification to the remote peer
type NotifyCmd struct {
	Title    string `arg:"" help:"Notification title"`
	Body     string `arg:"" optional:"" help:"Notification body"`
	Priority  string `short:"p" enum:"normal,high,critical" default:"normal" help:"Priority (normal, high, critical)"`
	Discovery bool   `help:"Send as a discovery report instead of a notification"`
}

// Run executes the notify command
func (c *NotifyCmd) Run(ctx context.Context, cli *CLI) error {
	priority, err := peer.ParsePriority(c.Priority)
	if err != nil {
		return err
	}

	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	var delivered bool
	if c.Discovery {
		delivered = a.relay.OnDiscovery(ctx, c.Title, c.Body)
	} else {
		delivered = a.relay.Notify(ctx, c.Title, c.Body, priority)
	}
	if !delivered {
		return fmt.Errorf("%w: notification not delivered", peer.ErrPeerOffline)
	}
	fmt.Println("delivered")
	return nil
}

// argOrStdin returns s, or all of r when s is "-"
func argOrStdin(s string, r io.Reader) (string, error) {
	if s != "-" {
		return s, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%w: empty input on stdin", errUsage)
	}
	return text, nil
}

func printResponse(w io.Writer, response string, options []string) {
	fmt.Fprintln(w, response)
	if len(options) > 0 {
		fmt.Fprintf(w, "\noptions: %s\n", strings.Join(options, " | "))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
