// Package argv splits command lines the way a POSIX shell does, without
// expansion: whitespace separates words, single quotes are literal, and
// backslash escapes the next rune outside single quotes.
package argv

import (
	"errors"
	"strings"
)

// ErrUnterminatedQuote is returned by Split when a quote is left open.
var ErrUnterminatedQuote = errors.New("argv: unterminated quote")

// Word is a split word. Start is the byte offset in the input where the
// word begins, including any opening quote.
type Word struct {
	Text  string
	Start int
	// Quote is the quote still open at the end of the input, or 0.
	Quote rune
}

type state struct {
	words []Word
	buf   strings.Builder
	start int // -1 between words
	quote rune
	esc   int // offset of a pending backslash, or -1
}

func (s *state) begin(i int) {
	if s.start < 0 {
		s.start = i
	}
}

func (s *state) flush() {
	if s.start >= 0 {
		s.words = append(s.words, Word{Text: s.buf.String(), Start: s.start})
		s.buf.Reset()
		s.start = -1
	}
}

func scan(line string) *state {
	s := &state{start: -1, esc: -1}
	for i, r := range line {
		if s.esc >= 0 {
			// inside double quotes only these are escapable
			if s.quote == '"' && !strings.ContainsRune("$`\"\\\n", r) {
				s.buf.WriteByte('\\')
			}
			// backslash-newline continues the line
			if r != '\n' {
				s.begin(s.esc)
				s.buf.WriteRune(r)
			}
			s.esc = -1
			continue
		}
		switch {
		case s.quote == '\'':
			if r == '\'' {
				s.quote = 0
			} else {
				s.buf.WriteRune(r)
			}
		case r == '\\':
			s.esc = i
		case s.quote == '"':
			if r == '"' {
				s.quote = 0
			} else {
				s.buf.WriteRune(r)
			}
		case r == '\'' || r == '"':
			s.begin(i)
			s.quote = r
		case r == ' ' || r == '\t' || r == '\n':
			s.flush()
		default:
			s.begin(i)
			s.buf.WriteRune(r)
		}
	}
	if s.esc >= 0 {
		s.begin(s.esc)
		s.buf.WriteByte('\\')
	}
	return s
}

// Split returns the words of line.
func Split(line string) ([]string, error) {
	s := scan(line)
	if s.quote != 0 {
		return nil, ErrUnterminatedQuote
	}
	s.flush()
	out := make([]string, len(s.words))
	for i, w := range s.words {
		out[i] = w.Text
	}
	return out, nil
}

// Last returns the word being typed at the end of line, which is empty
// with Start at len(line) when line ends between words. Open quotes are
// allowed.
func Last(line string) Word {
	s := scan(line)
	if s.start < 0 {
		return Word{Start: len(line)}
	}
	return Word{Text: s.buf.String(), Start: s.start, Quote: s.quote}
}

// Quote returns s in a form Split reads back as a single word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	return strings.ContainsRune(" \t\n'\"\\$`", r)
}
