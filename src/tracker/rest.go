package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elee1766/p2prelay/src/clock"
)

const defaultRESTBaseURL = "https://api.github.com"

// RESTConfig configures the GitHub REST adapter
type RESTConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	ListLimit int
	Clock     clock.Clock
	Logger    *slog.Logger
}

// REST reads the tracker through the GitHub REST API
type REST struct {
	config     RESTConfig
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Reporter = (*REST)(nil)

// APIError is a non-2xx answer from the REST API
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error %d: %s", e.StatusCode, e.Message)
}

// NewREST creates a REST adapter
func NewREST(config RESTConfig) *REST {
	if config.BaseURL == "" {
		config.BaseURL = defaultRESTBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
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

	return &REST{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.With("component", "tracker", "backend", "rest"),
	}
}

type restUser struct {
	Login string `json:"login"`
}

type restLabel struct {
	Name string `json:"name"`
}

type restIssue struct {
	Number      int          `json:"number"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	User        restUser     `json:"user"`
	Labels      []restLabel  `json:"labels"`
	Comments    int          `json:"comments"`
	CreatedAt   time.Time    `json:"created_at"`
	ClosedAt    *time.Time   `json:"closed_at"`
	Draft       bool         `json:"draft"`
	PullRequest *restPullRef `json:"pull_request"`
}

// restPullRef is set on issues endpoint entries that are pull requests
type restPullRef struct {
	MergedAt *time.Time `json:"merged_at"`
}

type restComment struct {
	User      restUser  `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (u restUser) name() string {
	if u.Login == "" {
		return "unknown"
	}
	return u.Login
}

// newRequest creates a new HTTP request with the appropriate headers
func (r *REST) newRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u := r.config.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if r.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.Token)
	}
	return req, nil
}

// get fetches path and decodes the JSON answer into v
func (r *REST) get(ctx context.Context, path string, query url.Values, v any) error {
	req, err := r.newRequest(ctx, path, query)
	if err != nil {
		return err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return r.handleError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// handleError turns an error response into an *APIError
func (r *REST) handleError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RequestID:  resp.Header.Get("X-GitHub-Request-Id"),
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		apiErr.Message = payload.Message
	}
	return apiErr
}

func repoPath(scope string) string {
	return "/repos/" + scope
}

// ListOpenItems lists open issues. Pull requests, which the issues
// endpoint also returns, are skipped.
func (r *REST) ListOpenItems(ctx context.Context, scope string) []Item {
	var issues []restIssue
	query := url.Values{
		"state":    {"open"},
		"per_page": {strconv.Itoa(r.config.ListLimit)},
	}
	if err := r.get(ctx, repoPath(scope)+"/issues", query, &issues); err != nil {
		r.logger.Warn("failed to list issues", "scope", scope, "error", err)
		return nil
	}

	items := make([]Item, 0, len(issues))
	for _, issue := range issues {
		if issue.PullRequest != nil {
			continue
		}
		labels := make([]string, 0, len(issue.Labels))
		for _, l := range issue.Labels {
			labels = append(labels, l.Name)
		}
		items = append(items, Item{
			Number:       issue.Number,
			Title:        issue.Title,
			Author:       issue.User.name(),
			CreatedAt:    issue.CreatedAt,
			Labels:       labels,
			CommentCount: issue.Comments,
		})
	}
	return items
}

// ItemDetail returns title, body and comments of one issue
func (r *REST) ItemDetail(ctx context.Context, scope string, number int) Detail {
	var issue restIssue
	if err := r.get(ctx, fmt.Sprintf("%s/issues/%d", repoPath(scope), number), nil, &issue); err != nil {
		r.logger.Warn("failed to fetch issue", "scope", scope, "number", number, "error", err)
		return Detail{}
	}
	return Detail{
		Title:    issue.Title,
		Body:     issue.Body,
		Comments: r.comments(ctx, scope, number),
	}
}

// ItemComments returns the newest comments of one issue, oldest first
func (r *REST) ItemComments(ctx context.Context, scope string, number int) []Comment {
	return lastComments(r.comments(ctx, scope, number))
}

func (r *REST) comments(ctx context.Context, scope string, number int) []Comment {
	var raw []restComment
	query := url.Values{"per_page": {"100"}}
	if err := r.get(ctx, fmt.Sprintf("%s/issues/%d/comments", repoPath(scope), number), query, &raw); err != nil {
		r.logger.Warn("failed to fetch comments", "scope", scope, "number", number, "error", err)
		return nil
	}
	out := make([]Comment, 0, len(raw))
	for _, c := range raw {
		out = append(out, Comment{Author: c.User.name(), Body: c.Body, CreatedAt: c.CreatedAt})
	}
	return out
}

// ListOpenPulls lists open pull requests. The REST API has no review
// decision, so ReviewDecision stays empty.
func (r *REST) ListOpenPulls(ctx context.Context, scope string, limit int) []Pull {
	var prs []restIssue
	query := url.Values{
		"state":    {"open"},
		"per_page": {strconv.Itoa(limit)},
	}
	if err := r.get(ctx, repoPath(scope)+"/pulls", query, &prs); err != nil {
		r.logger.Warn("failed to list pull requests", "scope", scope, "error", err)
		return nil
	}

	pulls := make([]Pull, 0, len(prs))
	for _, pr := range prs {
		pulls = append(pulls, Pull{
			Number:    pr.Number,
			Title:     pr.Title,
			Author:    pr.User.name(),
			CreatedAt: pr.CreatedAt,
			Draft:     pr.Draft,
		})
	}
	return pulls
}

// RepoSummary describes the repository. The API counts open pull
// requests as issues, so they are subtracted.
func (r *REST) RepoSummary(ctx context.Context, scope string) (RepoSummary, bool) {
	var repo struct {
		Name            string    `json:"name"`
		Description     string    `json:"description"`
		OpenIssuesCount int       `json:"open_issues_count"`
		UpdatedAt       time.Time `json:"updated_at"`
	}
	if err := r.get(ctx, repoPath(scope), nil, &repo); err != nil {
		r.logger.Warn("failed to fetch repository", "scope", scope, "error", err)
		return RepoSummary{}, false
	}

	pulls := len(r.ListOpenPulls(ctx, scope, 100))
	issues := repo.OpenIssuesCount - pulls
	if issues < 0 {
		issues = 0
	}
	return RepoSummary{
		Name:        repo.Name,
		Description: repo.Description,
		IssueCount:  issues,
		PullCount:   pulls,
		UpdatedAt:   repo.UpdatedAt,
	}, true
}

// RecentActivity counts issues and pull requests touched in the last
// days with a single request to the issues endpoint
func (r *REST) RecentActivity(ctx context.Context, scope string, days int) Activity {
	activity := Activity{PeriodDays: days}
	cutoff := r.config.Clock.Now().AddDate(0, 0, -days)

	var issues []restIssue
	query := url.Values{
		"state":    {"all"},
		"since":    {cutoff.UTC().Format(time.RFC3339)},
		"per_page": {"100"},
	}
	if err := r.get(ctx, repoPath(scope)+"/issues", query, &issues); err != nil {
		r.logger.Warn("failed to list recent activity", "scope", scope, "error", err)
		return activity
	}

	for _, issue := range issues {
		created := issue.CreatedAt.After(cutoff)
		if issue.PullRequest != nil {
			if created {
				activity.NewPulls++
			}
			if m := issue.PullRequest.MergedAt; m != nil && m.After(cutoff) {
				activity.MergedPulls++
			}
			continue
		}
		if created {
			activity.NewIssues++
		}
		if issue.ClosedAt != nil && issue.ClosedAt.After(cutoff) {
			activity.ClosedIssues++
		}
	}
	return activity
}
