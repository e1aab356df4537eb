package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/elee1766/p2prelay/src/clock"
	"github.com/elee1766/p2prelay/src/shell"
)

const (
	defaultGHPath    = "gh"
	defaultTimeout   = 30 * time.Second
	defaultListLimit = 10
	activityWindow   = 20
)

// GHConfig configures the gh CLI adapter
type GHConfig struct {
	GHPath    string
	Timeout   time.Duration
	ListLimit int
	Runner    shell.Runner
	Clock     clock.Clock
	Logger    *slog.Logger
}

// GHCLI reads the tracker through the GitHub CLI
type GHCLI struct {
	config GHConfig
	logger *slog.Logger
}

var _ Reporter = (*GHCLI)(nil)

// NewGHCLI creates a gh CLI adapter
func NewGHCLI(config GHConfig) *GHCLI {
	if config.GHPath == "" {
		config.GHPath = defaultGHPath
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.ListLimit <= 0 {
		config.ListLimit = defaultListLimit
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Runner == nil {
		config.Runner = shell.Exec{Logger: logger}
	}

	return &GHCLI{
		config: config,
		logger: logger.With("component", "tracker", "backend", "gh"),
	}
}

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghCount struct {
	TotalCount int `json:"totalCount"`
}

type ghComment struct {
	Author    ghUser    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type ghIssue struct {
	Number         int             `json:"number"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	State          string          `json:"state"`
	Author         ghUser          `json:"author"`
	CreatedAt      time.Time       `json:"createdAt"`
	ClosedAt       *time.Time      `json:"closedAt"`
	MergedAt       *time.Time      `json:"mergedAt"`
	Labels         []ghLabel       `json:"labels"`
	Comments       json.RawMessage `json:"comments"`
	IsDraft        bool            `json:"isDraft"`
	ReviewDecision string          `json:"reviewDecision"`
}

// commentCount accepts both shapes gh emits for "comments": a list of
// comment objects or a bare count
func (i ghIssue) commentCount() int {
	if len(i.Comments) == 0 {
		return 0
	}
	var list []json.RawMessage
	if err := json.Unmarshal(i.Comments, &list); err == nil {
		return len(list)
	}
	var n int
	if err := json.Unmarshal(i.Comments, &n); err == nil {
		return n
	}
	return 0
}

func (i ghIssue) comments() []Comment {
	var raw []ghComment
	if len(i.Comments) == 0 || json.Unmarshal(i.Comments, &raw) != nil {
		return nil
	}
	out := make([]Comment, 0, len(raw))
	for _, c := range raw {
		out = append(out, Comment{Author: login(c.Author), Body: c.Body, CreatedAt: c.CreatedAt})
	}
	return out
}

func login(u ghUser) string {
	if u.Login == "" {
		return "unknown"
	}
	return u.Login
}

// run executes gh with the adapter timeout and decodes its JSON output
// into v
func (g *GHCLI) run(ctx context.Context, v any, args ...string) error {
	cmd := shell.Command{
		Name:    g.config.GHPath,
		Args:    args,
		Timeout: g.config.Timeout,
	}
	res, err := g.config.Runner.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if !res.OK() {
		msg := strings.TrimSpace(res.Error)
		if msg == "" {
			msg = "no error output"
		}
		return fmt.Errorf("%s exited with %d: %s", cmd.CommandLine(), res.ExitCode, msg)
	}
	out := strings.TrimSpace(res.Output)
	if out == "" {
		return errors.New("empty output")
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		return fmt.Errorf("failed to decode gh output: %w", err)
	}
	return nil
}

// ListOpenItems lists open issues, newest first as gh returns them
func (g *GHCLI) ListOpenItems(ctx context.Context, scope string) []Item {
	var issues []ghIssue
	err := g.run(ctx, &issues,
		"issue", "list",
		"--repo", scope,
		"--state", "open",
		"--limit", strconv.Itoa(g.config.ListLimit),
		"--json", "number,title,author,createdAt,labels,comments",
	)
	if err != nil {
		g.logger.Warn("failed to list issues", "scope", scope, "error", err)
		return nil
	}

	items := make([]Item, 0, len(issues))
	for _, issue := range issues {
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.Name)
		}
		items = append(items, Item{
			Number:       issue.Number,
			Title:        issue.Title,
			Author:       login(issue.Author),
			CreatedAt:    issue.CreatedAt,
			Labels:       labels,
			CommentCount: issue.commentCount(),
		})
	}
	return items
}

// ItemDetail returns title, body and comments of one issue
func (g *GHCLI) ItemDetail(ctx context.Context, scope string, number int) Detail {
	var issue ghIssue
	err := g.run(ctx, &issue,
		"issue", "view", strconv.Itoa(number),
		"--repo", scope,
		"--json", "title,body,comments",
	)
	if err != nil {
		g.logger.Warn("failed to view issue", "scope", scope, "number", number, "error", err)
		return Detail{}
	}
	return Detail{Title: issue.Title, Body: issue.Body, Comments: issue.comments()}
}

// ItemComments returns the newest comments of one issue, oldest first
func (g *GHCLI) ItemComments(ctx context.Context, scope string, number int) []Comment {
	var issue ghIssue
	err := g.run(ctx, &issue,
		"issue", "view", strconv.Itoa(number),
		"--repo", scope,
		"--json", "comments",
	)
	if err != nil {
		g.logger.Warn("failed to fetch comments", "scope", scope, "number", number, "error", err)
		return nil
	}
	return lastComments(issue.comments())
}

// ListOpenPulls lists open pull requests
func (g *GHCLI) ListOpenPulls(ctx context.Context, scope string, limit int) []Pull {
	var prs []ghIssue
	err := g.run(ctx, &prs,
		"pr", "list",
		"--repo", scope,
		"--state", "open",
		"--limit", strconv.Itoa(limit),
		"--json", "number,title,author,createdAt,reviewDecision,isDraft",
	)
	if err != nil {
		g.logger.Warn("failed to list pull requests", "scope", scope, "error", err)
		return nil
	}

	pulls := make([]Pull, 0, len(prs))
	for _, pr := range prs {
		review := pr.ReviewDecision
		if review == "" {
			review = "PENDING"
		}
		pulls = append(pulls, Pull{
			Number:         pr.Number,
			Title:          pr.Title,
			Author:         login(pr.Author),
			CreatedAt:      pr.CreatedAt,
			Draft:          pr.IsDraft,
			ReviewDecision: review,
		})
	}
	return pulls
}

// RepoSummary describes the repository
func (g *GHCLI) RepoSummary(ctx context.Context, scope string) (RepoSummary, bool) {
	var repo struct {
		Name         string    `json:"name"`
		Description  string    `json:"description"`
		UpdatedAt    time.Time `json:"updatedAt"`
		Issues       ghCount   `json:"issues"`
		PullRequests ghCount   `json:"pullRequests"`
	}
	err := g.run(ctx, &repo,
		"repo", "view", scope,
		"--json", "name,description,issues,pullRequests,updatedAt",
	)
	if err != nil {
		g.logger.Warn("failed to view repository", "scope", scope, "error", err)
		return RepoSummary{}, false
	}
	return RepoSummary{
		Name:        repo.Name,
		Description: repo.Description,
		IssueCount:  repo.Issues.TotalCount,
		PullCount:   repo.PullRequests.TotalCount,
		UpdatedAt:   repo.UpdatedAt,
	}, true
}

// RecentActivity counts issues and pull requests opened, closed and
// merged in the last days. Only the newest entries of each list are
// inspected.
func (g *GHCLI) RecentActivity(ctx context.Context, scope string, days int) Activity {
	activity := Activity{PeriodDays: days}
	cutoff := g.config.Clock.Now().AddDate(0, 0, -days)

	var issues []ghIssue
	err := g.run(ctx, &issues,
		"issue", "list",
		"--repo", scope,
		"--state", "all",
		"--limit", strconv.Itoa(activityWindow),
		"--json", "number,title,state,createdAt,closedAt",
	)
	if err != nil {
		g.logger.Warn("failed to list recent issues", "scope", scope, "error", err)
	}
	for _, issue := range issues {
		if issue.CreatedAt.After(cutoff) {
			activity.NewIssues++
		}
		if issue.ClosedAt != nil && issue.ClosedAt.After(cutoff) {
			activity.ClosedIssues++
		}
	}

	var prs []ghIssue
	err = g.run(ctx, &prs,
		"pr", "list",
		"--repo", scope,
		"--state", "all",
		"--limit", strconv.Itoa(activityWindow),
		"--json", "number,title,state,createdAt,mergedAt",
	)
	if err != nil {
		g.logger.Warn("failed to list recent pull requests", "scope", scope, "error", err)
	}
	for _, pr := range prs {
		if pr.CreatedAt.After(cutoff) {
			activity.NewPulls++
		}
		if pr.MergedAt != nil && pr.MergedAt.After(cutoff) {
			activity.MergedPulls++
		}
	}

	return activity
}
