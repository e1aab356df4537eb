// Package tracker reads issues, pull requests and activity from a GitHub
// repository. Every adapter fails soft: transport errors are logged and
// turned into empty results.
package tracker

import (
	"context"
	"strings"
	"time"
)

// Item is one open issue as listed to the peer
type Item struct {
	Number       int       `json:"number"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	Labels       []string  `json:"labels,omitempty"`
	CommentCount int       `json:"comment_count"`
}

// LabelContains reports whether any label contains sub, ignoring case
func (i Item) LabelContains(sub string) bool {
	sub = strings.ToLower(sub)
	for _, l := range i.Labels {
		if strings.Contains(strings.ToLower(l), sub) {
			return true
		}
	}
	return false
}

// Comment is one issue comment
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Detail is the full text of one issue
type Detail struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Comments []Comment `json:"comments,omitempty"`
}

// Pull is one open pull request
type Pull struct {
	Number         int       `json:"number"`
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	CreatedAt      time.Time `json:"created_at"`
	Draft          bool      `json:"draft"`
	ReviewDecision string    `json:"review_decision,omitempty"`
}

// RepoSummary describes a repository
type RepoSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IssueCount  int       `json:"issue_count"`
	PullCount   int       `json:"pull_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Activity counts what happened in a repository over the last PeriodDays
type Activity struct {
	PeriodDays   int `json:"period_days"`
	NewIssues    int `json:"new_issues"`
	ClosedIssues int `json:"closed_issues"`
	NewPulls     int `json:"new_pulls"`
	MergedPulls  int `json:"merged_pulls"`
}

// HasNew reports whether any issue or pull request was opened
func (a Activity) HasNew() bool {
	return a.NewIssues > 0 || a.NewPulls > 0
}

// Tracker is what the triage dialog needs. Scope is an owner/name slug.
type Tracker interface {
	ListOpenItems(ctx context.Context, scope string) []Item
	ItemDetail(ctx context.Context, scope string, number int) Detail
	ItemComments(ctx context.Context, scope string, number int) []Comment
}

// Reporter adds what the status report needs on top of Tracker
type Reporter interface {
	Tracker
	RepoSummary(ctx context.Context, scope string) (RepoSummary, bool)
	ListOpenPulls(ctx context.Context, scope string, limit int) []Pull
	RecentActivity(ctx context.Context, scope string, days int) Activity
}

// commentsKept is how many of the newest comments ItemComments returns
const commentsKept = 5

func lastComments(comments []Comment) []Comment {
	if len(comments) > commentsKept {
		return comments[len(comments)-commentsKept:]
	}
	return comments
}
