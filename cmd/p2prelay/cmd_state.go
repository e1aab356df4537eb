package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/elee1766/p2prelay/src/dialog"
	"github.com/elee1766/p2prelay/src/safeguard"
	"github.com/elee1766/p2prelay/src/theme"
)

// StateCmd prints safeguard records and dialog sessions
type StateCmd struct {
	JSON bool `help:"Print the state as JSON"`
}

// Run executes the state command
func (c *StateCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	records, global := a.guard.Snapshot(ctx)
	sessions := a.dialog.Sessions(ctx)

	if c.JSON {
		return printJSON(os.Stdout, struct {
			Conversations []safeguard.ConversationRecord `json:"conversations"`
			Global        safeguard.GlobalRateState      `json:"global"`
			Sessions      []dialog.Session               `json:"sessions"`
		}{records, global, sessions})
	}

	now := time.Now()
	renderState(os.Stdout, records, global, sessions, now)
	if path := a.journal.Path(); path != "" {
		n, err := a.journal.CountOn(now)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s (%d today)\n", theme.Header().Render("Exchange log:"), path, n)
	}
	return nil
}

func renderState(w io.Writer, records []safeguard.ConversationRecord, global safeguard.GlobalRateState, sessions []dialog.Session, now time.Time) {
	last := "never"
	if !global.LastResponseAt.IsZero() {
		last = humanize.RelTime(global.LastResponseAt, now, "ago", "from now")
	}
	fmt.Fprintf(w, "%s %s\n\n", theme.Header().Render("Last response:"), last)

	fmt.Fprintln(w, theme.Header().Render(fmt.Sprintf("Conversations (%d)", len(records))))
	if len(records) == 0 {
		fmt.Fprintln(w, theme.Muted().Render("none"))
	} else {
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			state := theme.Status(!r.Completed).Render(conversationState(r))
			rows = append(rows, []string{
				r.ID,
				r.Source,
				strconv.Itoa(r.Turns),
				state,
				humanize.RelTime(r.LastMessageAt, now, "ago", "from now"),
			})
		}
		fmt.Fprintln(w, renderTable([]string{"ID", "SOURCE", "TURNS", "STATE", "LAST MESSAGE"}, rows))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, theme.Header().Render(fmt.Sprintf("Dialog sessions (%d)", len(sessions))))
	if len(sessions) == 0 {
		fmt.Fprintln(w, theme.Muted().Render("none"))
		return
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		selected := "-"
		if s.Context.Selection != nil {
			selected = "#" + strconv.Itoa(s.Context.Selection.Item.Number)
		}
		rows = append(rows, []string{
			s.ID,
			s.Context.Scope,
			theme.Status(!s.Done()).Render(string(s.State)),
			selected,
			strconv.Itoa(s.Turn),
			humanize.RelTime(s.UpdatedAt, now, "ago", "from now"),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "SCOPE", "STATE", "ITEM", "TURNS", "UPDATED"}, rows))
}

func conversationState(r safeguard.ConversationRecord) string {
	if !r.Completed {
		return "active"
	}
	if r.EndReason != "" {
		return "done: " + r.EndReason
	}
	return "done"
}

func renderTable(headers []string, rows [][]string) string {
	header := theme.Header().Padding(0, 1)
	cell := theme.Cell()
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.Muted()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// SweepCmd removes stale safeguard records and dialog sessions
type SweepCmd struct {
	Horizon time.Duration `help:"Maximum age to keep (defaults to the cleanup horizon)"`
	All     bool          `help:"Drop all state, not just stale entries"`
}

// Run executes the sweep command
func (c *SweepCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.All {
		if err := a.guard.Clear(ctx); err != nil {
			return err
		}
		if err := a.dialog.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("state cleared")
		return nil
	}

	horizon := c.Horizon
	if horizon <= 0 {
		horizon = a.cfg.Safeguard.CleanupHorizon.Std()
	}
	conversations, err := a.guard.SweepExpired(ctx, horizon)
	if err != nil {
		return err
	}
	sessions, err := a.dialog.Sweep(ctx, horizon)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d conversations and %d dialog sessions older than %s\n", conversations, sessions, horizon)
	return nil
}
