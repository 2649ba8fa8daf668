// Package intent classifies inbound client replies into a closed set of
// intents and maps each intent to the policy action it triggers.
//
// Classification is a pure function of the text: it is lower-cased, stripped
// of accents, tokenized into words and matched against keyword and phrase
// rules in priority order. It never fails; unmatched text is Unknown.
package intent

import (
	"regexp"
	"strings"

	"github.com/tbourn/go-reminder-agent/internal/observability"
	"github.com/tbourn/go-reminder-agent/internal/utils"
)

// Intent is the classification of an inbound message.
type Intent string

const (
	Stop     Intent = "stop"
	Rebook   Intent = "rebook"
	Question Intent = "question"
	Unknown  Intent = "unknown"
)

// Action is the policy transition an intent triggers.
type Action string

const (
	DisableAgent  Action = "disable_agent"
	RequestRebook Action = "request_rebook"
	None          Action = "none"
)

// Rule matches an intent when any keyword appears as a whole word or any
// phrase appears as a substring of the normalized text.
type Rule struct {
	Intent   Intent
	Keywords []string
	Phrases  []string
}

// DefaultRules are evaluated in order; the first match wins. Keywords are
// already normalized (lower-case, no accents).
var DefaultRules = []Rule{
	{
		Intent:   Stop,
		Keywords: []string{"stop", "arret", "arreter", "arretez", "desabonner", "desinscrire", "unsubscribe", "unsub", "optout"},
		Phrases:  []string{"ne plus recevoir", "plus de messages", "opt out", "leave me alone"},
	},
	{
		Intent:   Rebook,
		Keywords: []string{"reporter", "decaler", "deplacer", "reprogrammer", "annuler", "rebook", "reschedule", "postpone", "cancel"},
		Phrases:  []string{"autre date", "autre creneau", "autre jour", "changer de rendez-vous", "changer mon rendez-vous", "another time", "another day"},
	},
	{
		Intent:   Question,
		Keywords: []string{"comment", "pourquoi", "quand", "combien", "quel", "quelle", "quels", "quelles", "how", "what", "why", "when", "where", "which"},
		Phrases:  []string{"?", "est-ce que"},
	},
}

// Classifier applies an ordered rule set.
type Classifier struct {
	rules []Rule
}

// New returns a classifier over rules. No rules means DefaultRules.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

var std = New()

// Classify uses the default rules and counts the result.
func Classify(text string) Intent {
	in := std.Classify(text)
	observability.IntentsClassified.WithLabelValues(string(in)).Inc()
	return in
}

// Classify returns the intent of the first matching rule, or Unknown.
func (c *Classifier) Classify(text string) Intent {
	norm := utils.NormalizeText(text)
	if norm == "" {
		return Unknown
	}
	words := tokenize(norm)
	for _, r := range c.rules {
		if r.matches(norm, words) {
			return r.Intent
		}
	}
	return Unknown
}

func (r Rule) matches(norm string, words map[string]struct{}) bool {
	for _, k := range r.Keywords {
		if _, ok := words[k]; ok {
			return true
		}
	}
	for _, p := range r.Phrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

// ActionFor maps an intent to its policy action.
func ActionFor(in Intent) Action {
	switch in {
	case Stop:
		return DisableAgent
	case Rebook:
		return RequestRebook
	default:
		return None
	}
}

// Valid reports whether s names a known intent.
func Valid(s string) bool {
	switch Intent(s) {
	case Stop, Rebook, Question, Unknown:
		return true
	}
	return false
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string) map[string]struct{} {
	words := wordRE.FindAllString(s, -1)
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
