package sentence_test

import (
	"strings"
	"testing"

	"github.com/callyx/callyx/internal/sentence"
)

// pushAll streams chunks through a fresh splitter and returns every sentence
// emitted, including the flushed tail.
func pushAll(chunks ...string) []string {
	sp := sentence.NewSplitter()
	var out []string
	for _, c := range chunks {
		out = append(out, sp.Push(c)...)
	}
	if tail := sp.Flush(); tail != "" {
		out = append(out, tail)
	}
	return out
}

func TestSplitter_Push(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "single sentence in one chunk",
			chunks: []string{"Hello there."},
			want:   []string{"Hello there."},
		},
		{
			name:   "two sentences in one chunk",
			chunks: []string{"Hello there. How are you?"},
			want:   []string{"Hello there.", "How are you?"},
		},
		{
			name:   "boundary formed across token chunks",
			chunks: []string{"Our hours", " are nine", " to five.", " Anything else?"},
			want:   []string{"Our hours are nine to five.", "Anything else?"},
		},
		{
			name:   "exclamation and question terminators",
			chunks: []string{"Great! Is that all?"},
			want:   []string{"Great!", "Is that all?"},
		},
		{
			name:   "no terminator yields only flushed tail",
			chunks: []string{"I can transfer you to"},
			want:   []string{"I can transfer you to"},
		},
		{
			name:   "ellipsis kept intact",
			chunks: []string{"Well... let me check."},
			want:   []string{"Well...", "let me check."},
		},
		{
			name:   "newline after terminator",
			chunks: []string{"First line.\nSecond line."},
			want:   []string{"First line.", "Second line."},
		},
		{
			name:   "whitespace-only input emits nothing",
			chunks: []string{"   \n\t  "},
			want:   nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := pushAll(tc.chunks...)
			if len(got) != len(tc.want) {
				t.Fatalf("sentences: want %d %q, got %d %q", len(tc.want), tc.want, len(got), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("sentence %d: want %q, got %q", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestSplitter_SoftLimit(t *testing.T) {
	t.Parallel()

	// 60 words with no terminator — far past the soft limit.
	long := strings.TrimSpace(strings.Repeat("and then the caller said something ", 10))

	sp := sentence.NewSplitter()
	got := sp.Push(long)
	if len(got) == 0 {
		t.Fatalf("soft limit never fired for %d-char unterminated text", len(long))
	}
	if got[0] != long {
		t.Errorf("soft limit should flush the whole buffer, got %q", got[0])
	}
	if tail := sp.Flush(); tail != "" {
		t.Errorf("buffer not empty after soft-limit flush: %q", tail)
	}
}

func TestSplitter_SoftLimitNotReachedEarly(t *testing.T) {
	t.Parallel()

	sp := sentence.NewSplitter()
	if got := sp.Push(strings.Repeat("a", sentence.SoftLimit-1)); got != nil {
		t.Errorf("flushed below the soft limit: %q", got)
	}
	if got := sp.Push("a"); len(got) != 1 {
		t.Errorf("want flush at exactly the soft limit, got %q", got)
	}
}

// Re-feeding the splitter's own output must reproduce it unchanged.
func TestSplitter_Idempotent(t *testing.T) {
	t.Parallel()

	streams := [][]string{
		{"Hello there. How are you today? I have", " three things to tell you!"},
		{"One long unterminated ramble ", strings.Repeat("that keeps going ", 20)},
		{"Yes."},
	}

	for _, chunks := range streams {
		first := pushAll(chunks...)
		second := pushAll(first...)
		if len(first) != len(second) {
			t.Fatalf("re-split changed count: %q vs %q", first, second)
		}
		for i := range first {
			if first[i] != second[i] {
				t.Errorf("re-split changed sentence %d: %q vs %q", i, first[i], second[i])
			}
		}
	}
}

func TestSplitter_Reset(t *testing.T) {
	t.Parallel()

	sp := sentence.NewSplitter()
	sp.Push("This was interrupted mid")
	sp.Reset()
	if tail := sp.Flush(); tail != "" {
		t.Errorf("Reset left buffered text: %q", tail)
	}
	if got := sp.Push("Fresh start."); len(got) != 1 || got[0] != "Fresh start." {
		t.Errorf("splitter unusable after Reset: %q", got)
	}
}

func TestCleanForSpeech(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "We open at nine.", "We open at nine."},
		{"bold stars", "That costs **49 dollars** per month.", "That costs 49 dollars per month."},
		{"bold underscores", "__Important__ note", "Important note"},
		{"italic stars", "a *very* good plan", "a very good plan"},
		{"italic underscores", "a _very_ good plan", "a very good plan"},
		{"strikethrough", "the ~~old~~ new price", "the old new price"},
		{"inline code", "run `make install` first", "run make install first"},
		{"fenced code removed", "Here:\n```\nrm -rf /\n```\nDone.", "Here: Done."},
		{"link keeps label", "see [our site](https://example.com) for more", "see our site for more"},
		{"header stripped", "## Opening Hours\nNine to five.", "Opening Hours Nine to five."},
		{"bullets stripped", "- first\n- second", "first second"},
		{"numbered list stripped", "1. first\n2. second", "first second"},
		{"whitespace collapsed", "too   many\n\nspaces", "too many spaces"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := sentence.CleanForSpeech(tc.in); got != tc.want {
				t.Errorf("CleanForSpeech(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
