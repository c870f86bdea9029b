package rag

import (
	"fmt"
	"strings"
	"testing"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

// numberedWords returns "w1 w2 … wN" so window boundaries are checkable.
func numberedWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i+1)
	}
	return strings.Join(words, " ")
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestChunk_Windows(t *testing.T) {
	t.Parallel()

	got := Chunk(numberedWords(10), 4, 1)

	want := []string{
		"w1 w2 w3 w4",
		"w4 w5 w6 w7",
		"w7 w8 w9 w10",
	}
	if len(got) != len(want) {
		t.Fatalf("len(chunks) = %d, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunks[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunk_ShortText(t *testing.T) {
	t.Parallel()

	got := Chunk("just a few words here", 384, 50)
	if len(got) != 1 || got[0] != "just a few words here" {
		t.Errorf("Chunk() = %q, want the whole text as one chunk", got)
	}
}

func TestChunk_Empty(t *testing.T) {
	t.Parallel()

	if got := Chunk("   \n\t  ", 384, 50); got != nil {
		t.Errorf("Chunk(whitespace) = %q, want nil", got)
	}
}

func TestChunk_NormalisesWhitespace(t *testing.T) {
	t.Parallel()

	got := Chunk("one\n\ntwo\tthree   four", 384, 50)
	if len(got) != 1 || got[0] != "one two three four" {
		t.Errorf("Chunk() = %q, want whitespace collapsed to single spaces", got)
	}
}

func TestChunk_DefaultsAndTermination(t *testing.T) {
	t.Parallel()

	// 400 words with the default window: [0:384] then [334:400]. The second
	// window is shorter than a full chunk and must still terminate the loop.
	got := Chunk(numberedWords(400), 0, -1)

	if len(got) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(got))
	}
	if n := len(strings.Fields(got[0])); n != DefaultChunkSize {
		t.Errorf("len(chunks[0]) = %d words, want %d", n, DefaultChunkSize)
	}
	if n := len(strings.Fields(got[1])); n != 66 {
		t.Errorf("len(chunks[1]) = %d words, want 66", n)
	}
	if !strings.HasPrefix(got[1], "w335 ") || !strings.HasSuffix(got[1], " w400") {
		t.Errorf("chunks[1] window = %q…%q, want w335…w400",
			got[1][:10], got[1][len(got[1])-10:])
	}
}

func TestChunk_OverlapClamped(t *testing.T) {
	t.Parallel()

	// overlap >= size would stall the window; it is clamped to size/2.
	got := Chunk(numberedWords(10), 4, 9)

	want := []string{
		"w1 w2 w3 w4",
		"w3 w4 w5 w6",
		"w5 w6 w7 w8",
		"w7 w8 w9 w10",
	}
	if len(got) != len(want) {
		t.Fatalf("len(chunks) = %d, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunks[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunk_OverlapShared(t *testing.T) {
	t.Parallel()

	chunks := Chunk(numberedWords(500), 100, 20)
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		cur := strings.Fields(chunks[i])
		tail := strings.Join(prev[len(prev)-20:], " ")
		head := strings.Join(cur[:20], " ")
		if tail != head {
			t.Errorf("chunks %d/%d share no 20-word overlap:\n tail %q\n head %q",
				i-1, i, tail, head)
		}
	}
}
