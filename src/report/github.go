// Package report renders the plain-text reports sent to the remote agent:
// the GitHub repository report and the daily digest. Both end with a
// DONE line so the receiving side closes the conversation.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/elee1766/p2prelay/src/tracker"
)

const (
	reportItems = 5
	reportTitle = 60
)

// GitHub renders the repository report for scope at now. days is the
// activity window.
func GitHub(ctx context.Context, r tracker.Reporter, scope string, days int, now time.Time) string {
	if days <= 0 {
		days = 7
	}

	summary, ok := r.RepoSummary(ctx, scope)
	issues := r.ListOpenItems(ctx, scope)
	pulls := r.ListOpenPulls(ctx, scope, reportItems)
	activity := r.RecentActivity(ctx, scope, days)

	issues = issues[:min(reportItems, len(issues))]
	pulls = pulls[:min(reportItems, len(pulls))]

	var b strings.Builder
	fmt.Fprintf(&b, "📊 GitHub Report: %s\n", scope)
	fmt.Fprintf(&b, "📅 %s\n\n", now.Format("02.01.2006 15:04"))

	b.WriteString("📈 Repository:\n")
	switch {
	case !ok:
		b.WriteString("  Repository nicht abrufbar\n")
	case summary.Description != "":
		fmt.Fprintf(&b, "  %s\n", tracker.Truncate(summary.Description, 100))
	default:
		b.WriteString("  No description\n")
	}
	fmt.Fprintf(&b, "  Issues: %d | PRs: %d\n\n", summary.IssueCount, summary.PullCount)

	fmt.Fprintf(&b, "📋 Offene Issues (%d):", len(issues))
	if len(issues) == 0 {
		b.WriteString("\n  Keine offenen Issues")
	}
	for _, it := range issues {
		labels := ""
		if len(it.Labels) > 0 {
			labels = fmt.Sprintf(" [%s]", strings.Join(it.Labels, ", "))
		}
		fmt.Fprintf(&b, "\n  #%d %s%s", it.Number, tracker.Truncate(it.Title, reportTitle), labels)
	}

	fmt.Fprintf(&b, "\n\n🔀 Offene PRs (%d):", len(pulls))
	if len(pulls) == 0 {
		b.WriteString("\n  Keine offenen PRs")
	}
	for _, pr := range pulls {
		draft := ""
		if pr.Draft {
			draft = " [DRAFT]"
		}
		fmt.Fprintf(&b, "\n  #%d %s%s", pr.Number, tracker.Truncate(pr.Title, reportTitle), draft)
	}

	fmt.Fprintf(&b, "\n\n📊 Letzte %d Tage:\n", activity.PeriodDays)
	fmt.Fprintf(&b, "  Neue Issues: %d | Geschlossen: %d\n", activity.NewIssues, activity.ClosedIssues)
	fmt.Fprintf(&b, "  Neue PRs: %d | Gemerged: %d\n", activity.NewPulls, activity.MergedPulls)
	b.WriteString("\n---\nDONE")

	return b.String()
}

// Watch is the outcome of a repository check
type Watch struct {
	Repo        string `json:"repo"`
	Report      string `json:"report"`
	NewActivity bool   `json:"new_activity"`
}

// WatchRepo renders the report and checks for issues or pull requests
// opened during the last day
func WatchRepo(ctx context.Context, r tracker.Reporter, scope string, days int, now time.Time) Watch {
	return Watch{
		Repo:        scope,
		Report:      GitHub(ctx, r, scope, days, now),
		NewActivity: r.RecentActivity(ctx, scope, 1).HasNew(),
	}
}
