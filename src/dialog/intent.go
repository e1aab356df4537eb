package dialog

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent is what a peer input asks for
type Intent string

const (
	IntentTerminate  Intent = "terminate"
	IntentSelectItem Intent = "select_item"
	IntentComments   Intent = "comments"
	IntentAnalyze    Intent = "analyze"
	IntentConfirm    Intent = "confirm"
	IntentDecline    Intent = "decline"
	IntentBack       Intent = "back"
	IntentUnknown    Intent = "unknown"
)

// Vocabulary is the keyword table input is classified with. Input is
// split into words before matching. Terminate and Back must match whole
// words; Comments and Analyze are stems and match the start of a word.
// Confirm and Decline must be the whole input.
type Vocabulary struct {
	Terminate []string
	Comments  []string
	Analyze   []string
	Confirm   []string
	Decline   []string
	Back      []string
}

// DefaultVocabulary is the German/English table the dialog ships with.
// "nein" ends the dialog in every state; the follow-up is turned down
// with "nee" or "no".
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Terminate: []string{"done", "fertig", "ende", "nein", "keins", "nichts", "stop"},
		Comments:  []string{"kommentar", "comment"},
		Analyze:   []string{"analy"},
		Confirm:   []string{"ja", "yes", "ok"},
		Decline:   []string{"no", "nee"},
		Back:      []string{"zurück", "zurueck", "back"},
	}
}

var (
	itemRefPattern = regexp.MustCompile(`#?(\d+)`)
	wordSeparator  = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// classified is the outcome of classify. Item is set for IntentSelectItem.
type classified struct {
	intent Intent
	item   int
}

// rule is one row of the classification table
type rule struct {
	intent Intent
	match  func(in input) (int, bool)
}

// input is a peer message prepared for matching
type input struct {
	raw   string
	words string
	whole string
	ctx   Context
}

func newInput(raw string, ctx Context) input {
	lower := strings.ToLower(strings.TrimSpace(raw))
	return input{
		raw:   raw,
		words: joinWords(lower),
		whole: strings.Trim(lower, " .!?"),
		ctx:   ctx,
	}
}

// rules is evaluated top to bottom; the first match wins. Termination
// comes first so it is never shadowed by an action word in the same
// input.
func (v Vocabulary) rules() []rule {
	return []rule{
		{IntentTerminate, func(in input) (int, bool) {
			return 0, hasWord(in.words, v.Terminate)
		}},
		{IntentSelectItem, func(in input) (int, bool) {
			m := itemRefPattern.FindStringSubmatch(in.raw)
			if m == nil {
				return 0, false
			}
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false
			}
			_, ok := in.ctx.item(n)
			return n, ok
		}},
		{IntentComments, func(in input) (int, bool) {
			return 0, in.ctx.Selection != nil && hasStem(in.words, v.Comments)
		}},
		{IntentAnalyze, func(in input) (int, bool) {
			return 0, in.ctx.Selection != nil && hasStem(in.words, v.Analyze)
		}},
		{IntentConfirm, func(in input) (int, bool) {
			return 0, pending(in.ctx) && equalsAny(in.whole, v.Confirm)
		}},
		{IntentDecline, func(in input) (int, bool) {
			return 0, pending(in.ctx) && equalsAny(in.whole, v.Decline)
		}},
		{IntentBack, func(in input) (int, bool) {
			return 0, len(in.ctx.Items) > 0 && hasWord(in.words, v.Back)
		}},
	}
}

func pending(ctx Context) bool {
	return ctx.Selection != nil && ctx.Selection.PendingConfirm
}

func classify(rules []rule, raw string, ctx Context) classified {
	in := newInput(raw, ctx)
	for _, r := range rules {
		if n, ok := r.match(in); ok {
			return classified{intent: r.intent, item: n}
		}
	}
	return classified{intent: IntentUnknown}
}

// joinWords lowercases s and rejoins its words with single spaces, padded
// on both ends so a word can be located by its surrounding spaces.
func joinWords(s string) string {
	fields := wordSeparator.Split(strings.ToLower(s), -1)
	words := fields[:0]
	for _, f := range fields {
		if f != "" {
			words = append(words, f)
		}
	}
	return " " + strings.Join(words, " ") + " "
}

// hasWord reports whether one of keywords appears as a whole word, or
// run of words, in words.
func hasWord(words string, keywords []string) bool {
	for _, k := range keywords {
		k = joinWords(k)
		if k != "  " && strings.Contains(words, k) {
			return true
		}
	}
	return false
}

// hasStem reports whether a word in words starts with one of stems.
func hasStem(words string, stems []string) bool {
	for _, k := range stems {
		k = strings.TrimSuffix(joinWords(k), " ")
		if k != " " && strings.Contains(words, k) {
			return true
		}
	}
	return false
}

func equalsAny(s string, words []string) bool {
	for _, w := range words {
		if s == strings.ToLower(w) {
			return true
		}
	}
	return false
}
