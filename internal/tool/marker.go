package tool

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadMarker is returned by [Extract] when a marker-shaped fragment fails
// the grammar. The carrying sentence is left untouched in that case.
var ErrBadMarker = errors.New("malformed tool marker")

const (
	immediatePrefix = "[TOOL:"
	confirmPrefix   = "[CONFIRM_TOOL:"
)

// Extract scans sentence for the first tool marker and parses it against the
// strict grammar:
//
//	marker = "[" ("TOOL"|"CONFIRM_TOOL") ":" name [ "(" pairs ")" ] "]"
//	name   = [a-zA-Z_][a-zA-Z0-9_]*
//	pairs  = key "=" value ("," key "=" value)*
//	value  = bare word (no spaces, commas, parens, quotes or brackets)
//	       | double-quoted string with \" and \\ escapes
//
// On success it returns the sentence with the marker removed plus the parsed
// [Call]. When no marker is present it returns (sentence, nil, nil). When a
// marker-shaped fragment is malformed it returns the sentence unchanged and
// an error wrapping [ErrBadMarker]; callers log it and speak the sentence
// as-is. Only the first marker in a sentence is honoured.
func Extract(sentence string) (string, *Call, error) {
	start, confirm := findMarkerStart(sentence)
	if start < 0 {
		return sentence, nil, nil
	}

	prefix := immediatePrefix
	if confirm {
		prefix = confirmPrefix
	}
	p := &parser{s: sentence, pos: start + len(prefix)}

	name, err := p.ident()
	if err != nil {
		return sentence, nil, fmt.Errorf("%w: %v", ErrBadMarker, err)
	}
	params := map[string]string{}
	if p.peek() == '(' {
		p.pos++
		if params, err = p.pairs(); err != nil {
			return sentence, nil, fmt.Errorf("%w: tool %q: %v", ErrBadMarker, name, err)
		}
	}
	if p.peek() != ']' {
		return sentence, nil, fmt.Errorf("%w: tool %q: missing ']'", ErrBadMarker, name)
	}
	end := p.pos + 1

	clean := strings.TrimSpace(sentence[:start] + sentence[end:])
	return clean, &Call{Name: name, Params: params, Confirm: confirm}, nil
}

// findMarkerStart returns the byte offset of the earliest marker prefix and
// whether it is the confirmation form, or (-1, false) when none occurs.
func findMarkerStart(s string) (int, bool) {
	it := strings.Index(s, immediatePrefix)
	ic := strings.Index(s, confirmPrefix)
	switch {
	case it < 0 && ic < 0:
		return -1, false
	case ic < 0 || (it >= 0 && it < ic):
		return it, false
	default:
		return ic, true
	}
}

// parser is a cursor over the marker body. All methods leave pos on the
// first unconsumed byte.
type parser struct {
	s   string
	pos int
}

// peek returns the current byte, or 0 at end of input.
func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

// skipSpaces advances past spaces and tabs. The grammar tolerates whitespace
// around parameter separators because models emit ", " inconsistently.
func (p *parser) skipSpaces() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

// ident consumes a tool or parameter name.
func (p *parser) ident() (string, error) {
	start := p.pos
	for p.pos < len(p.s) && isIdentByte(p.s[p.pos], p.pos > start) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected identifier at offset %d", start)
	}
	return p.s[start:p.pos], nil
}

func isIdentByte(b byte, interior bool) bool {
	switch {
	case b == '_', b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return interior
	default:
		return false
	}
}

// pairs consumes key=value pairs up to and including the closing ')'.
func (p *parser) pairs() (map[string]string, error) {
	params := map[string]string{}
	p.skipSpaces()
	if p.peek() == ')' {
		p.pos++
		return params, nil
	}
	for {
		p.skipSpaces()
		key, err := p.ident()
		if err != nil {
			return nil, err
		}
		p.skipSpaces()
		if p.peek() != '=' {
			return nil, fmt.Errorf("parameter %q: expected '='", key)
		}
		p.pos++
		p.skipSpaces()
		val, err := p.value()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %v", key, err)
		}
		params[key] = val

		p.skipSpaces()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return params, nil
		default:
			return nil, fmt.Errorf("after parameter %q: expected ',' or ')'", key)
		}
	}
}

// value consumes a bare word or a double-quoted string.
func (p *parser) value() (string, error) {
	if p.peek() == '"' {
		return p.quoted()
	}
	start := p.pos
	for p.pos < len(p.s) && !isValueTerminator(p.s[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", errors.New("empty value")
	}
	return p.s[start:p.pos], nil
}

func isValueTerminator(b byte) bool {
	switch b {
	case ' ', '\t', ',', '(', ')', '"', '[', ']':
		return true
	}
	return false
}

// quoted consumes a double-quoted string, handling \" and \\ escapes.
func (p *parser) quoted() (string, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.s) {
		b := p.s[p.pos]
		switch b {
		case '\\':
			if p.pos+1 >= len(p.s) {
				return "", errors.New("dangling escape in quoted value")
			}
			next := p.s[p.pos+1]
			if next != '"' && next != '\\' {
				return "", fmt.Errorf("unsupported escape \\%c", next)
			}
			sb.WriteByte(next)
			p.pos += 2
		case '"':
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(b)
			p.pos++
		}
	}
	return "", errors.New("unterminated quoted value")
}
