package compose

import (
	"fmt"
	"strings"
)

// lexer tokenises a .ctst source file. Line comments start with "//" and
// run to end of line; there are no block comments (spec.md §4.1).
type lexer struct {
	file   string
	src    []rune
	pos    int
	line   int
	col    int
}

func newLexer(file, src string) *lexer {
	return &lexer{file: file, src: []rune(src), line: 1, col: 1}
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekRuneAt(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) here() Pos {
	return Pos{File: l.file, Line: l.line, Column: l.col}
}

// tokenize returns every token in the source, including the trailing EOF.
func (l *lexer) tokenize() ([]token, error) {
	var toks []token
	for {
		l.skipWhitespaceAndComments()
		if l.pos >= len(l.src) {
			toks = append(toks, token{kind: tokEOF, pos: l.here()})
			return toks, nil
		}
		start := l.here()
		r := l.peekRune()
		switch {
		case r == '{':
			l.advance()
			toks = append(toks, token{kind: tokLBrace, pos: start})
		case r == '}':
			l.advance()
			toks = append(toks, token{kind: tokRBrace, pos: start})
		case r == '[':
			l.advance()
			toks = append(toks, token{kind: tokLBracket, pos: start})
		case r == ']':
			l.advance()
			toks = append(toks, token{kind: tokRBracket, pos: start})
		case r == ',':
			l.advance()
			toks = append(toks, token{kind: tokComma, pos: start})
		case r == '-' && l.peekRuneAt(1) == '>':
			l.advance()
			l.advance()
			toks = append(toks, token{kind: tokArrow, pos: start})
		case r == '=':
			l.advance()
			toks = append(toks, token{kind: tokEquals, pos: start})
		case r == '"':
			tok, err := l.lexString(start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		case isDigit(r):
			toks = append(toks, l.lexInt(start))
		case isIdentStart(r):
			toks = append(toks, l.lexIdent(start))
		default:
			return nil, &LexError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
}

func (l *lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.src) {
		r := l.peekRune()
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			l.advance()
			continue
		}
		if r == '/' && l.peekRuneAt(1) == '/' {
			for l.pos < len(l.src) && l.peekRune() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

func (l *lexer) lexString(start Pos) (token, error) {
	l.advance() // consume opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, &LexError{Pos: start, Msg: "unterminated string literal"}
		}
		r := l.advance()
		if r == '"' {
			return token{kind: tokString, text: b.String(), pos: start}, nil
		}
		if r == '\\' {
			if l.pos >= len(l.src) {
				return token{}, &LexError{Pos: start, Msg: "unterminated escape sequence"}
			}
			esc := l.advance()
			switch esc {
			case '"':
				b.WriteRune('"')
			case '\\':
				b.WriteRune('\\')
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				return token{}, &LexError{Pos: start, Msg: fmt.Sprintf("invalid escape sequence \\%c", esc)}
			}
			continue
		}
		if r == '\n' {
			return token{}, &LexError{Pos: start, Msg: "string literal cannot contain a raw newline"}
		}
		b.WriteRune(r)
	}
}

func (l *lexer) lexInt(start Pos) token {
	var b strings.Builder
	for l.pos < len(l.src) && isDigit(l.peekRune()) {
		b.WriteRune(l.advance())
	}
	var v int64
	fmt.Sscanf(b.String(), "%d", &v)
	return token{kind: tokInt, ival: v, text: b.String(), pos: start}
}

func (l *lexer) lexIdent(start Pos) token {
	var b strings.Builder
	for l.pos < len(l.src) && isIdentCont(l.peekRune()) {
		b.WriteRune(l.advance())
	}
	return token{kind: tokIdent, text: b.String(), pos: start}
}

func isDigit(r rune) bool      { return r >= '0' && r <= '9' }
func isIdentStart(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func isIdentCont(r rune) bool  { return isIdentStart(r) || isDigit(r) || r == '_' }

// LexError is a localized lexical diagnostic (spec.md §4.1 E001).
type LexError struct {
	Pos Pos
	Msg string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s:%d:%d: E001: %s", e.Pos.File, e.Pos.Line, e.Pos.Column, e.Msg)
}
