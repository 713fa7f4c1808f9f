package voice

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// phraseRule binds a command to the trigger phrases that select it.
type phraseRule struct {
	cmd     Command
	phrases []string
}

// commandTable is consulted top to bottom; the first rule with a matching
// phrase wins, so "go back" resolves to forward.
var commandTable = []phraseRule{
	{Forward, []string{"forward", "go", "move", "start", "ahead", "drive"}},
	{Backward, []string{"backward", "back", "reverse", "go back", "move back", "go backward"}},
	{Left, []string{"left", "turn left", "go left", "steer left", "lift"}},
	{Right, []string{"right", "turn right", "go right", "steer right"}},
	{Faster, []string{"faster", "speed up", "accelerate", "increase speed", "go faster"}},
	{Slower, []string{"slower", "slow down", "decelerate", "reduce speed", "go slower"}},
	{Stop, []string{"stop", "brake", "halt", "stop car", "emergency stop", "pause"}},
}

type matcher struct {
	cmd Command
	re  *regexp.Regexp
}

var matchers = compileTable(commandTable)

func compileTable(table []phraseRule) []matcher {
	out := make([]matcher, 0, len(table))
	for _, rule := range table {
		alts := make([]string, 0, len(rule.phrases))
		for _, p := range rule.phrases {
			alts = append(alts, regexp.QuoteMeta(p))
		}
		out = append(out, matcher{cmd: rule.cmd, re: regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)})
	}
	return out
}

// Match looks text up in the command table without any gating.
func Match(text string) (Command, bool) {
	s := normalize(text)
	if s == "" {
		return 0, false
	}
	for _, m := range matchers {
		if m.re.MatchString(s) {
			return m.cmd, true
		}
	}
	return 0, false
}

var spaceRun = regexp.MustCompile(`\s+`)

// normalize lowercases, trims, folds accents and collapses whitespace.
func normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isMn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return spaceRun.ReplaceAllString(s, " ")
}

func isMn(r rune) bool { return unicode.Is(unicode.Mn, r) }

// Reason explains a classifier decision.
type Reason int

const (
	Accepted Reason = iota
	Debounced
	LowConfidence
	Empty
	NoMatch
)

func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Debounced:
		return "debounced"
	case LowConfidence:
		return "low_confidence"
	case Empty:
		return "empty"
	case NoMatch:
		return "no_match"
	default:
		return "unknown"
	}
}

// Decision is the outcome of classifying one finalized utterance.
type Decision struct {
	Command Command
	Reason  Reason
	Text    string
}

// Accepted reports whether the utterance selected a command.
func (d Decision) Accepted() bool { return d.Reason == Accepted }

// Classifier gates and matches finalized utterances. It remembers the last
// acceptance time for debouncing and is not safe for concurrent use; the
// session loop owns it.
type Classifier struct {
	minConfidence float64
	overrideWord  string
	debounce      time.Duration
	lastAccepted  time.Time
}

func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		minConfidence: cfg.MinConfidence,
		overrideWord:  strings.ToLower(cfg.OverrideWord),
		debounce:      cfg.Debounce,
	}
}

// Classify runs the debounce gate, the confidence gate (bypassed when the
// text contains the override word) and the table lookup, in that order.
// An accepted decision records now as the debounce reference.
func (c *Classifier) Classify(text string, confidence float64, now time.Time) Decision {
	d := Decision{Text: text}
	if !c.lastAccepted.IsZero() && now.Sub(c.lastAccepted) < c.debounce {
		d.Reason = Debounced
		return d
	}
	lower := strings.ToLower(text)
	if confidence < c.minConfidence && (c.overrideWord == "" || !strings.Contains(lower, c.overrideWord)) {
		d.Reason = LowConfidence
		return d
	}
	if strings.TrimSpace(text) == "" {
		d.Reason = Empty
		return d
	}
	cmd, ok := Match(text)
	if !ok {
		d.Reason = NoMatch
		return d
	}
	d.Command = cmd
	d.Reason = Accepted
	c.lastAccepted = now
	return d
}

// Reset forgets the debounce reference.
func (c *Classifier) Reset() { c.lastAccepted = time.Time{} }
