// Package intent implements a cheap lexical intent classifier for caller
// utterances.
//
// Classification is a closed-set lookup, not a model call: it runs on every
// finalised utterance before retrieval, so it must cost microseconds. Goodbye
// detection short-circuits the whole generation pipeline; Confirm/Deny are
// consumed by the session only while a tool confirmation is pending.
//
// Exact phrase matching is backed by a fuzzy stage for single-word utterances
// so common STT misspellings ("yess", "shure") still land: Double Metaphone
// codes gate a Jaro-Winkler ranking, with a stricter similarity floor when
// the words do not align phonetically.
package intent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Intent is the classified meaning of a caller utterance.
type Intent string

const (
	Greeting Intent = "greeting"
	Goodbye  Intent = "goodbye"
	Confirm  Intent = "confirm"
	Deny     Intent = "deny"
	Question Intent = "question"
	Action   Intent = "action"
	Other    Intent = "other"
)

const (
	// phoneticThreshold is the minimum Jaro-Winkler score accepted when the
	// utterance and lexicon entry share a Double Metaphone code.
	phoneticThreshold = 0.70

	// fuzzyThreshold is the minimum Jaro-Winkler score accepted without
	// phonetic agreement.
	fuzzyThreshold = 0.88

	// confirmShortcutWords caps how long an utterance may be for Classify to
	// report Confirm/Deny outside a pending confirmation. Longer sentences
	// that merely contain "sure" or "right" are real requests, not answers.
	confirmShortcutWords = 5
)

// Closed lexicons. Multi-word phrases are matched on word boundaries within
// the utterance; single words additionally participate in fuzzy matching.
var (
	goodbyeLexicon = []string{
		"bye", "goodbye", "end the call", "that's all", "talk later",
	}

	greetingLexicon = []string{
		"hello", "hi", "hey", "good morning", "good afternoon", "good evening",
	}

	confirmLexicon = []string{
		"yes", "yeah", "yep", "yup", "sure", "okay", "ok", "please",
		"go ahead", "do it", "that's fine", "sounds good",
		"yes please", "yeah please", "sure thing", "absolutely",
		"correct", "right", "affirmative", "proceed", "transfer me",
		"let's do it", "fine", "alright", "all right",
	}

	denyLexicon = []string{
		"no", "nope", "nah", "not yet", "not now", "maybe later",
		"don't", "wait", "hold on", "cancel", "never mind",
		"not right now", "i'll think about it", "let me think",
		"not really", "not interested",
	}

	questionStarters = []string{
		"what", "where", "when", "why", "who", "which", "how",
		"can", "could", "would", "will", "do", "does", "did",
		"is", "are", "am", "was", "were", "should", "shall", "may",
	}

	actionStarters = []string{
		"transfer", "send", "book", "schedule", "call", "connect",
		"email", "order", "set", "update", "change",
	}
)

// Classify maps an utterance to an [Intent]. Goodbye is checked first so a
// trailing "okay, goodbye" ends the call rather than confirming anything.
func Classify(text string) Intent {
	raw := strings.ToLower(strings.TrimSpace(text))
	if raw == "" {
		return Other
	}
	isQuestion := strings.HasSuffix(raw, "?")
	t := normalize(raw)
	if t == "" {
		return Other
	}

	for _, p := range goodbyeLexicon {
		if matchesPhrase(t, p) {
			return Goodbye
		}
	}
	for _, p := range greetingLexicon {
		if matchesPhrase(t, p) {
			return Greeting
		}
	}

	if len(strings.Fields(t)) <= confirmShortcutWords {
		if c := ClassifyConfirmation(text); c != Other {
			return c
		}
	}

	if isQuestion {
		return Question
	}
	first, _, _ := strings.Cut(t, " ")
	for _, w := range questionStarters {
		if first == w {
			return Question
		}
	}
	for _, w := range actionStarters {
		if first == w {
			return Action
		}
	}
	return Other
}

// ClassifyConfirmation decides whether an utterance answers a pending
// yes/no question. It returns [Confirm], [Deny], or [Other] when the
// utterance is neither — the caller then treats it as a fresh request.
//
// Negations guard the affirmative side: "not right now" contains "right" but
// must never confirm.
func ClassifyConfirmation(text string) Intent {
	t := normalize(strings.ToLower(strings.TrimSpace(text)))
	if t == "" {
		return Other
	}

	negated := strings.Contains(t, "not ") || strings.HasPrefix(t, "no ") || t == "not"

	if !negated {
		for _, p := range confirmLexicon {
			if matchesPhrase(t, p) {
				return Confirm
			}
		}
	}
	for _, p := range denyLexicon {
		if matchesPhrase(t, p) {
			return Deny
		}
	}

	// Fuzzy stage: single-token utterances only, matched against single-word
	// lexicon entries.
	if strings.ContainsRune(t, ' ') {
		return Other
	}
	if !negated && fuzzyMatch(t, confirmLexicon) {
		return Confirm
	}
	if fuzzyMatch(t, denyLexicon) {
		return Deny
	}
	return Other
}

// normalize trims surrounding whitespace and terminal punctuation. Inner
// punctuation (commas, apostrophes) is preserved for phrase matching.
func normalize(t string) string {
	return strings.Trim(t, " \t\n.,!?;:")
}

// matchesPhrase reports whether phrase occurs in t on word boundaries.
// Substring hits inside a larger word ("bye" in "maybe") do not count.
func matchesPhrase(t, phrase string) bool {
	if t == phrase {
		return true
	}
	for idx := 0; ; {
		i := strings.Index(t[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		if (start == 0 || !isWordByte(t[start-1])) && (end == len(t) || !isWordByte(t[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '\'' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// fuzzyMatch ranks word against the single-word entries of lexicon using
// Jaro-Winkler similarity, gated by Double Metaphone code overlap: a
// phonetic hit accepts a lower similarity than a pure string-distance hit.
func fuzzyMatch(word string, lexicon []string) bool {
	p1, s1 := matchr.DoubleMetaphone(word)
	for _, entry := range lexicon {
		if strings.ContainsRune(entry, ' ') {
			continue
		}
		score := matchr.JaroWinkler(word, entry, false)
		p2, s2 := matchr.DoubleMetaphone(entry)
		phonetic := codesOverlap(p1, s1, p2, s2)
		if phonetic && score >= phoneticThreshold {
			return true
		}
		if !phonetic && score >= fuzzyThreshold {
			return true
		}
	}
	return false
}

// codesOverlap reports whether any non-empty Double Metaphone code of the
// first word equals any of the second.
func codesOverlap(p1, s1, p2, s2 string) bool {
	for _, a := range [2]string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || (s2 != "" && a == s2) {
			return true
		}
	}
	return false
}
