// Package sparql classifies and rewrites SPARQL query strings.
//
// The package never evaluates queries. It tokenizes just enough of the
// language to find the prologue, the query form, dataset clauses, the
// outermost group pattern and the LIMIT/OFFSET modifiers, so that rewrites
// never touch text inside IRIs, string literals or comments.
package sparql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind is the lexical class of a token.
type TokenKind int

const (
	TokKeyword TokenKind = iota // bare word: SELECT, WHERE, a, true
	TokIRI                      // <http://...>
	TokPName                    // foaf:name, :x, _:b0
	TokVar                      // ?x, $x
	TokString                   // '...', "...", '''...''', """..."""
	TokLangTag                  // @en
	TokNumber                   // 42, 4.2, 1e3
	TokPunct                    // { } ( ) . , ; * = != < > etc.
	TokComment                  // # to end of line
)

func (k TokenKind) String() string {
	switch k {
	case TokKeyword:
		return "keyword"
	case TokIRI:
		return "iri"
	case TokPName:
		return "pname"
	case TokVar:
		return "var"
	case TokString:
		return "string"
	case TokLangTag:
		return "langtag"
	case TokNumber:
		return "number"
	case TokPunct:
		return "punct"
	case TokComment:
		return "comment"
	}
	return "unknown"
}

// Token is a lexeme with its byte span in the source.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int
}

// Is reports whether the token is the keyword kw (case-insensitive).
func (t Token) Is(kw string) bool {
	return t.Kind == TokKeyword && strings.EqualFold(t.Text, kw)
}

// IsPunct reports whether the token is the punctuation p.
func (t Token) IsPunct(p string) bool {
	return t.Kind == TokPunct && t.Text == p
}

// Tokenize splits a query into tokens. Whitespace is dropped; comments are
// kept as TokComment tokens.
func Tokenize(src string) ([]Token, error) {
	l := &lexer{src: src}
	for {
		l.skipSpace()
		if l.pos >= len(src) {
			return l.tokens, nil
		}
		if err := l.next(); err != nil {
			return nil, err
		}
	}
}

type lexer struct {
	src    string
	pos    int
	tokens []Token
}

func (l *lexer) emit(kind TokenKind, start int) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: l.src[start:l.pos], Start: start, End: l.pos})
}

func (l *lexer) peek(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *lexer) next() error {
	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '#':
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.pos++
		}
		l.emit(TokComment, start)
		return nil

	case c == '<':
		if end, ok := l.scanIRI(); ok {
			l.pos = end
			l.emit(TokIRI, start)
			return nil
		}
		l.pos++
		if l.peek(0) == '=' {
			l.pos++
		}
		l.emit(TokPunct, start)
		return nil

	case c == '"' || c == '\'':
		return l.scanString(start, c)

	case (c == '?' || c == '$') && isVarStart(l.runeAt(l.pos+1)):
		l.pos++
		for l.pos < len(l.src) {
			r, size := utf8.DecodeRuneInString(l.src[l.pos:])
			if !isNameChar(r) || r == '.' || r == '-' {
				break
			}
			l.pos += size
		}
		l.emit(TokVar, start)
		return nil

	case c == '@' && isLetter(l.peek(1)):
		l.pos++
		for l.pos < len(l.src) && (isLetter(l.src[l.pos]) || isDigit(l.src[l.pos]) || l.src[l.pos] == '-') {
			l.pos++
		}
		l.emit(TokLangTag, start)
		return nil

	case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
		l.scanNumber()
		l.emit(TokNumber, start)
		return nil

	case c == ':' || c == '_' && l.peek(1) == ':' || isNameStart(l.runeAt(l.pos)):
		l.scanName()
		if strings.Contains(l.src[start:l.pos], ":") {
			l.emit(TokPName, start)
		} else {
			l.emit(TokKeyword, start)
		}
		return nil
	}

	// punctuation, longest match first
	for _, p := range []string{"^^", "!=", ">=", "&&", "||"} {
		if strings.HasPrefix(l.src[l.pos:], p) {
			l.pos += len(p)
			l.emit(TokPunct, start)
			return nil
		}
	}
	if strings.ContainsRune("{}()[].,;*=>!+-/^|?", rune(c)) {
		l.pos++
		l.emit(TokPunct, start)
		return nil
	}

	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return fmt.Errorf("%w: unexpected character %q at offset %d", ErrMalformedQuery, r, l.pos)
}

// scanIRI returns the end offset of an IRIREF starting at l.pos.
func (l *lexer) scanIRI() (int, bool) {
	for i := l.pos + 1; i < len(l.src); i++ {
		switch c := l.src[i]; {
		case c == '>':
			return i + 1, true
		case c <= ' ' || strings.IndexByte("<\"{}|^`\\", c) >= 0:
			return 0, false
		}
	}
	return 0, false
}

func (l *lexer) scanString(start int, quote byte) error {
	long := l.peek(1) == quote && l.peek(2) == quote
	if long {
		l.pos += 3
	} else {
		l.pos++
	}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\':
			l.pos += 2
			continue
		case !long && (c == '\n' || c == '\r'):
			return fmt.Errorf("%w: newline in string literal at offset %d", ErrMalformedQuery, start)
		case c == quote:
			if !long {
				l.pos++
				l.emit(TokString, start)
				return nil
			}
			if l.peek(1) == quote && l.peek(2) == quote {
				// a long literal may end with up to two extra quotes
				l.pos += 3
				for l.pos < len(l.src) && l.src[l.pos] == quote {
					l.pos++
				}
				l.emit(TokString, start)
				return nil
			}
		}
		l.pos++
	}
	return fmt.Errorf("%w: unterminated string literal at offset %d", ErrMalformedQuery, start)
}

func (l *lexer) scanNumber() {
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.peek(0) == '.' && isDigit(l.peek(1)) {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if c := l.peek(0); c == 'e' || c == 'E' {
		off := 1
		if s := l.peek(1); s == '+' || s == '-' {
			off = 2
		}
		if isDigit(l.peek(off)) {
			l.pos += off
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
	}
}

// scanName consumes a keyword or prefixed name. A trailing '.' belongs to the
// enclosing triple, not the name.
func (l *lexer) scanName() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		switch {
		case r == '\\' && l.pos+1 < len(l.src):
			l.pos += 2
			continue
		case r == '%' && l.pos+2 < len(l.src):
			l.pos += 3
			continue
		case r == ':' || isNameChar(r):
		default:
			return
		}
		if r == '.' {
			nr, _ := utf8.DecodeRuneInString(l.src[l.pos+1:])
			if l.pos+1 >= len(l.src) || !(nr == ':' || isNameChar(nr)) {
				return
			}
		}
		l.pos += size
	}
}

func (l *lexer) runeAt(i int) rune {
	if i >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[i:])
	return r
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func isNameStart(r rune) bool {
	return r == '_' || r < utf8.RuneSelf && isLetter(byte(r)) || r >= utf8.RuneSelf && unicode.IsLetter(r)
}

func isVarStart(r rune) bool {
	return isNameStart(r) || r >= '0' && r <= '9'
}

func isNameChar(r rune) bool {
	return isNameStart(r) || r >= '0' && r <= '9' || r == '-' || r == '.' || r == 0xB7 ||
		r >= utf8.RuneSelf && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r))
}
