package dialog

import (
	"fmt"
	"strings"

	"github.com/elee1766/p2prelay/src/tracker"
)

// Options offered to the peer. The default vocabulary recognizes each.
const (
	optNone     = "keins"
	optDone     = "fertig"
	optComments = "kommentare"
	optAnalyze  = "analysieren"
	optBack     = "zurück"
	optYes      = "ja"
	optNo       = "nee"
)

const titleWidth = 50

func itemOptions(items []tracker.Item, shown int, last string) []string {
	n := min(shown, len(items))
	opts := make([]string, 0, n+1)
	for _, it := range items[:n] {
		opts = append(opts, fmt.Sprintf("#%d", it.Number))
	}
	return append(opts, last)
}

func writeItemLines(b *strings.Builder, items []tracker.Item, shown int, withLabels bool) {
	for i, it := range items[:min(shown, len(items))] {
		labels := ""
		if withLabels && len(it.Labels) > 0 {
			labels = fmt.Sprintf(" `%s`", strings.Join(it.Labels, ", "))
		}
		fmt.Fprintf(b, "%d. **#%d** %s%s\n", i+1, it.Number, tracker.Truncate(it.Title, titleWidth), labels)
	}
}

func (m *Machine) renderEmpty(scope string) Result {
	return Result{
		Response: fmt.Sprintf("✅ Keine offenen Issues in %s. Alles sauber!", scope),
		Options:  []string{},
		Done:     true,
	}
}

func (m *Machine) renderList(ctx Context) Result {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 **%s** hat %d offene Issues:\n\n", ctx.Scope, len(ctx.Items))
	writeItemLines(&b, ctx.Items, m.shownItems, true)
	b.WriteString("\nWelches Issue soll ich genauer anschauen? (Nummer oder 'keins')")

	return Result{
		Response:   b.String(),
		Options:    itemOptions(ctx.Items, m.shownItems, optNone),
		WaitingFor: WaitItemSelection,
	}
}

func (m *Machine) renderBackToList(ctx Context) Result {
	var b strings.Builder
	b.WriteString("📋 Zurück zur Issue-Liste:\n\n")
	writeItemLines(&b, ctx.Items, m.shownItems, false)
	b.WriteString("\nWelches Issue? (Nummer oder 'fertig')")

	return Result{
		Response:   b.String(),
		Options:    itemOptions(ctx.Items, m.shownItems, optDone),
		WaitingFor: WaitItemSelection,
	}
}

func (m *Machine) renderItem(it tracker.Item, detail tracker.Detail) Result {
	var b strings.Builder
	fmt.Fprintf(&b, "📌 **Issue #%d**: %s\n\n", it.Number, it.Title)
	fmt.Fprintf(&b, "**Erstellt von:** %s\n", it.Author)
	fmt.Fprintf(&b, "**Erstellt am:** %s\n", formatDate(it))
	fmt.Fprintf(&b, "**Kommentare:** %d\n", it.CommentCount)

	if body := tracker.PlainText(detail.Body); body != "" {
		fmt.Fprintf(&b, "\n**Beschreibung:**\n%s\n", tracker.Truncate(body, m.bodyPreview))
	}

	b.WriteString("\nWas möchtest du tun?\n")
	b.WriteString("- 'kommentare' - Letzte Kommentare anzeigen\n")
	b.WriteString("- 'analysieren' - Issue analysieren lassen\n")
	b.WriteString("- 'zurück' - Andere Issues anschauen\n")
	b.WriteString("- 'fertig' - Dialog beenden")

	return Result{
		Response:   b.String(),
		Options:    []string{optComments, optAnalyze, optBack, optDone},
		WaitingFor: WaitActionSelection,
	}
}

func (m *Machine) renderComments(number int, comments []tracker.Comment) Result {
	var b strings.Builder
	if len(comments) == 0 {
		fmt.Fprintf(&b, "Keine Kommentare zu #%d.\n", number)
	} else {
		fmt.Fprintf(&b, "💬 Letzte Kommentare zu #%d:\n\n", number)
		for _, c := range comments[:min(m.commentsShown, len(comments))] {
			fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", c.Author, c.CreatedAt.Format("2006-01-02"),
				tracker.Truncate(tracker.PlainText(c.Body), m.commentPreview))
		}
	}
	b.WriteString("\nNoch etwas? ('analysieren', 'zurück', 'fertig')")

	return Result{
		Response:   b.String(),
		Options:    []string{optAnalyze, optBack, optDone},
		WaitingFor: WaitActionSelection,
	}
}

func (m *Machine) renderAnalysis(it tracker.Item) Result {
	kind := "Feature/Enhancement"
	if it.LabelContains("bug") {
		kind = "Bug"
	}
	priority := "Normal"
	if it.CommentCount > m.busyThreshold {
		priority = "Hoch"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 **Analyse Issue #%d:**\n\n", it.Number)
	fmt.Fprintf(&b, "- Typ: %s\n", kind)
	fmt.Fprintf(&b, "- Alter: %s\n", formatDate(it))
	fmt.Fprintf(&b, "- Aktivität: %d Kommentare\n", it.CommentCount)
	fmt.Fprintf(&b, "- Priorität: %s\n", priority)
	b.WriteString("\nSoll ich einen Lösungsvorschlag erstellen lassen? ('ja'/'nee')")

	return confirmResult(b.String())
}

func (m *Machine) renderConfirmAgain(it tracker.Item) Result {
	return confirmResult(fmt.Sprintf(
		"Bitte mit 'ja' oder 'nee' antworten: Soll ich einen Lösungsvorschlag für #%d erstellen lassen?", it.Number))
}

func confirmResult(text string) Result {
	return Result{
		Response:   text,
		Options:    []string{optYes, optNo},
		WaitingFor: WaitConfirmation,
	}
}

func (m *Machine) actionPrompt(scope string, it tracker.Item) string {
	return fmt.Sprintf(`Analysiere GitHub Issue #%d aus %s:

Titel: %s
Labels: %s
Erstellt: %s

Gib einen kurzen Lösungsvorschlag (max 5 Zeilen). Antworte auf Deutsch.`,
		it.Number, scope, it.Title, strings.Join(it.Labels, ", "), formatDate(it))
}

func (m *Machine) renderActionResult(it tracker.Item, ok bool, text string) Result {
	var response string
	if ok {
		response = fmt.Sprintf("🤖 **Lösungsvorschlag für #%d:**\n\n%s\n\n", it.Number, text) +
			"Noch etwas? ('zurück' für andere Issues, 'fertig' zum Beenden)"
	} else {
		response = fmt.Sprintf("❌ Kein Lösungsvorschlag möglich: %s\n\n", text) +
			"Versuche es später nochmal. ('zurück', 'fertig')"
	}
	return Result{
		Response:   response,
		Options:    []string{optBack, optDone},
		WaitingFor: WaitFollowUp,
	}
}

func (m *Machine) renderDeclined() Result {
	return Result{
		Response: "👍 Ok, kein Problem. Was möchtest du tun?\n" +
			"- 'zurück' - Andere Issues anschauen\n" +
			"- 'fertig' - Dialog beenden",
		Options:    []string{optBack, optDone},
		WaitingFor: WaitActionSelection,
	}
}

func (m *Machine) renderTerminated() Result {
	return Result{
		Response: "👍 Alles klar! Bei Fragen einfach melden. DONE",
		Options:  []string{},
		Done:     true,
	}
}

func (m *Machine) renderClarify() Result {
	return Result{
		Response:   "Das habe ich nicht verstanden. Sag mir eine Issue-Nummer, 'zurück' oder 'fertig'.",
		Options:    []string{optBack, optDone},
		WaitingFor: WaitClarification,
	}
}

// renderAlreadyDone answers a late message on an ended session with
// Done=true so the caller closes its side as well.
func (m *Machine) renderAlreadyDone() Result {
	return Result{
		Response: "Dieser Dialog ist bereits beendet. DONE",
		Options:  []string{},
		Done:     true,
	}
}

func formatDate(it tracker.Item) string {
	if it.CreatedAt.IsZero() {
		return "unbekannt"
	}
	return it.CreatedAt.Format("2006-01-02")
}
