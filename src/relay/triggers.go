package relay

import (
	"context"
	"fmt"

	"github.com/elee1766/p2prelay/src/peer"
)

// Proactive messages to the remote agent. None of them is needed to answer
// an inbound message, so every one is best effort and only reports whether
// delivery worked.

// Notify forwards a notification
func (r *Relay) Notify(ctx context.Context, title, body string, priority peer.Priority) bool {
	if r.notifier == nil {
		r.logger.Debug("no notifier configured, dropping notification", "title", title)
		return false
	}
	return r.notifier.Notify(ctx, title, body, priority)
}

// Report forwards a report of kind
func (r *Relay) Report(ctx context.Context, kind, content string) bool {
	if r.notifier == nil {
		r.logger.Debug("no notifier configured, dropping report", "kind", kind)
		return false
	}
	if err := r.notifier.Report(ctx, kind, content); err != nil {
		r.logger.Warn("report delivery failed", "kind", kind, "error", err)
		return false
	}
	return true
}

// OnWatchComplete announces a finished repository check. New issues or
// pull requests raise a high priority notification; otherwise the report
// is filed as is.
func (r *Relay) OnWatchComplete(ctx context.Context, repo, report string, hasNew bool) bool {
	if hasNew {
		return r.Notify(ctx, "Neue Issues in "+repo, report, peer.PriorityHigh)
	}
	return r.Report(ctx, "github", fmt.Sprintf("**%s**\n%s", repo, report))
}

// OnDiscovery shares something noteworthy
func (r *Relay) OnDiscovery(ctx context.Context, what, details string) bool {
	return r.Notify(ctx, "Entdeckung: "+what, details, peer.PriorityNormal)
}

// OnError tells the remote agent about a failure it should know of
func (r *Relay) OnError(ctx context.Context, where string, err error) bool {
	return r.Notify(ctx, "Fehler: "+where, err.Error(), peer.PriorityHigh)
}

// OnTaskComplete reports a finished scheduled task
func (r *Relay) OnTaskComplete(ctx context.Context, task, result string) bool {
	return r.Report(ctx, "success", fmt.Sprintf("**%s**\n\n%s", task, result))
}
