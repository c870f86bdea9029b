package llm

import "strings"

// StopScanner incrementally filters a streamed completion against a set of
// stop sequences. Text is fed in arbitrary fragments; the scanner returns the
// prefix that is safe to emit and holds back any suffix that could still turn
// out to be the start of a stop sequence. Once a stop sequence is seen, the
// scanner is exhausted and never emits again.
//
// A scanner is not safe for concurrent use; each stream owns its own.
type StopScanner struct {
	stops  []string
	maxLen int
	tail   string
	done   bool
}

// NewStopScanner creates a scanner for the given stop sequences. Empty
// sequences are ignored. With no usable sequences the scanner passes all text
// through unchanged.
func NewStopScanner(stops []string) *StopScanner {
	s := &StopScanner{}
	for _, st := range stops {
		if st == "" {
			continue
		}
		s.stops = append(s.stops, st)
		if len(st) > s.maxLen {
			s.maxLen = len(st)
		}
	}
	return s
}

// Feed consumes the next text fragment and returns the text that is safe to
// emit. stopped reports that a stop sequence was encountered: emit then holds
// everything preceding it, the sequence itself is swallowed, and all further
// calls return ("", true).
func (s *StopScanner) Feed(text string) (emit string, stopped bool) {
	if s.done {
		return "", true
	}
	if len(s.stops) == 0 {
		return text, false
	}

	buf := s.tail + text

	// Earliest stop occurrence wins.
	cut := -1
	for _, st := range s.stops {
		if idx := strings.Index(buf, st); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut >= 0 {
		s.tail = ""
		s.done = true
		return buf[:cut], true
	}

	// Hold back the longest suffix that is a prefix of any stop sequence.
	hold := 0
	for n := min(s.maxLen-1, len(buf)); n > 0 && hold == 0; n-- {
		suffix := buf[len(buf)-n:]
		for _, st := range s.stops {
			if strings.HasPrefix(st, suffix) {
				hold = n
				break
			}
		}
	}
	s.tail = buf[len(buf)-hold:]
	return buf[:len(buf)-hold], false
}

// Flush returns any held-back text once the upstream has ended without
// hitting a stop sequence. After Flush the scanner is exhausted.
func (s *StopScanner) Flush() string {
	if s.done {
		return ""
	}
	s.done = true
	out := s.tail
	s.tail = ""
	return out
}
