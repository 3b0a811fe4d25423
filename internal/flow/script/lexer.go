// Package script implements the expression language evaluated by code
// nodes. Programs are short statement lists over a read-only `inputs`
// binding: assignments, a `return` statement, ternaries, boolean and
// arithmetic operators, member/index access, and literals. The evaluator is
// a closed sandbox: no imports, no I/O, no process access, and every value
// is plain data.
package script

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenSymbol
	tokenNewline
)

type token struct {
	typ tokenType
	lit string
	pos int
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src)}
}

// symbols is ordered longest-first so multi-rune operators win.
var symbols = []string{
	"===", "!==", "==", "!=", "<=", ">=", "&&", "||",
	"+", "-", "*", "/", "%", "!", "<", ">", "=", "?", ":",
	".", ",", ";", "(", ")", "[", "]", "{", "}",
}

func (lx *lexer) next() (token, error) {
	lx.skipSpaces()
	if lx.pos >= len(lx.src) {
		return token{typ: tokenEOF, pos: lx.pos}, nil
	}
	start := lx.pos
	r := lx.src[lx.pos]

	if r == '\n' {
		lx.pos++
		return token{typ: tokenNewline, lit: "\n", pos: start}, nil
	}
	if r == '"' || r == '\'' {
		lit, err := lx.scanString(r)
		if err != nil {
			return token{}, err
		}
		return token{typ: tokenString, lit: lit, pos: start}, nil
	}
	if unicode.IsDigit(r) || (r == '.' && lx.pos+1 < len(lx.src) && unicode.IsDigit(lx.src[lx.pos+1])) {
		return token{typ: tokenNumber, lit: lx.scanNumber(), pos: start}, nil
	}
	if r == '_' || r == '$' || unicode.IsLetter(r) {
		return token{typ: tokenIdent, lit: lx.scanIdent(), pos: start}, nil
	}
	for _, sym := range symbols {
		if lx.hasPrefix(sym) {
			lx.pos += len(sym)
			return token{typ: tokenSymbol, lit: sym, pos: start}, nil
		}
	}
	return token{}, fmt.Errorf("script: unexpected character %q at %d", string(r), start)
}

func (lx *lexer) skipSpaces() {
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		switch {
		case r == '\n':
			return
		case unicode.IsSpace(r):
			lx.pos++
		case r == '/' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '/':
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		default:
			return
		}
	}
}

func (lx *lexer) hasPrefix(sym string) bool {
	if lx.pos+len(sym) > len(lx.src) {
		return false
	}
	return string(lx.src[lx.pos:lx.pos+len(sym)]) == sym
}

func (lx *lexer) scanIdent() string {
	start := lx.pos
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		if r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			lx.pos++
			continue
		}
		break
	}
	return string(lx.src[start:lx.pos])
}

func (lx *lexer) scanNumber() string {
	start := lx.pos
	seenDot := false
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		if unicode.IsDigit(r) {
			lx.pos++
			continue
		}
		if r == '.' && !seenDot {
			seenDot = true
			lx.pos++
			continue
		}
		break
	}
	return string(lx.src[start:lx.pos])
}

func (lx *lexer) scanString(quote rune) (string, error) {
	lx.pos++ // opening quote
	var b strings.Builder
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		switch r {
		case quote:
			lx.pos++
			return b.String(), nil
		case '\\':
			lx.pos++
			if lx.pos >= len(lx.src) {
				return "", fmt.Errorf("script: unterminated escape at %d", lx.pos)
			}
			esc := lx.src[lx.pos]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteRune(esc)
			default:
				return "", fmt.Errorf("script: unknown escape \\%s at %d", string(esc), lx.pos)
			}
			lx.pos++
		case '\n':
			return "", fmt.Errorf("script: unterminated string at %d", lx.pos)
		default:
			b.WriteRune(r)
			lx.pos++
		}
	}
	return "", fmt.Errorf("script: unterminated string at %d", lx.pos)
}
