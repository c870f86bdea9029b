package sentence

import (
	"regexp"
	"strings"
)

// Markdown constructs the models emit despite prompt instructions. Order
// matters: fenced code before inline code, bold before italic.
var (
	fencedCodeRe    = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe    = regexp.MustCompile("`(.+?)`")
	boldStarRe      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe     = regexp.MustCompile(`__(.+?)__`)
	italicStarRe    = regexp.MustCompile(`\*(.+?)\*`)
	italicUnderRe   = regexp.MustCompile(`_(.+?)_`)
	strikethroughRe = regexp.MustCompile(`~~(.+?)~~`)
	linkRe          = regexp.MustCompile(`\[(.+?)\]\(.+?\)`)
	headerRe        = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletRe        = regexp.MustCompile(`(?m)^[-*]\s+`)
	numberedRe      = regexp.MustCompile(`(?m)^\d+\.\s+`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// CleanForSpeech strips markdown formatting from text so TTS does not read
// the symbols aloud: bold/italic/strikethrough wrappers, code spans and
// fences, link targets, headers, and list bullets. Runs of whitespace
// collapse to a single space.
func CleanForSpeech(text string) string {
	text = fencedCodeRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = boldStarRe.ReplaceAllString(text, "$1")
	text = boldUnderRe.ReplaceAllString(text, "$1")
	text = italicStarRe.ReplaceAllString(text, "$1")
	text = italicUnderRe.ReplaceAllString(text, "$1")
	text = strikethroughRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")
	text = headerRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "")
	text = numberedRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
