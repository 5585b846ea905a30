package tsparse

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"trackway/internal/tsast"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokTemplate
	tokRegexp
	tokPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of file"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokTemplate:
		return "template literal"
	case tokRegexp:
		return "regular expression"
	default:
		return "punctuation"
	}
}

type token struct {
	kind tokenKind
	// text is the source spelling; for strings value holds the unescaped
	// contents.
	text  string
	value string
	pos   tsast.Pos
	start int
	end   int
	// nl is set when a line break separates this token from the previous one.
	nl bool
}

// Longest first.
var puncts = []string{
	"...", "===", "!==", "**=", "&&=", "||=", "??=",
	"=>", "?.", "??", "&&", "||", "==", "!=", "++", "--", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "**",
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
	toks []token
}

func lex(src string) ([]token, error) {
	lx := &lexer{src: src, line: 1, col: 1}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.toks, nil
}

func (lx *lexer) errorf(pos tsast.Pos, msg string) error {
	return &SyntaxError{Pos: pos, Msg: msg}
}

func (lx *lexer) pos() tsast.Pos { return tsast.Pos{Line: lx.line, Col: lx.col} }

// advance moves past n bytes, tracking line and column.
func (lx *lexer) advance(n int) {
	for i := 0; i < n && lx.off < len(lx.src); i++ {
		if lx.src[lx.off] == '\n' {
			lx.line++
			lx.col = 1
		} else if lx.src[lx.off]&0xC0 != 0x80 {
			lx.col++
		}
		lx.off++
	}
}

func (lx *lexer) peekByte(k int) byte {
	if lx.off+k < len(lx.src) {
		return lx.src[lx.off+k]
	}
	return 0
}

func (lx *lexer) run() error {
	nl := false
	for {
		skippedNL, err := lx.skipSpace()
		if err != nil {
			return err
		}
		nl = nl || skippedNL
		if lx.off >= len(lx.src) {
			lx.toks = append(lx.toks, token{kind: tokEOF, pos: lx.pos(), start: lx.off, end: lx.off, nl: true})
			return nil
		}
		tok, err := lx.next()
		if err != nil {
			return err
		}
		tok.nl = nl
		nl = false
		lx.toks = append(lx.toks, tok)
	}
}

func (lx *lexer) skipSpace() (bool, error) {
	nl := false
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		switch {
		case c == '\n':
			nl = true
			lx.advance(1)
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			lx.advance(1)
		case c == '/' && lx.peekByte(1) == '/':
			for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
				lx.advance(1)
			}
		case c == '/' && lx.peekByte(1) == '*':
			start := lx.pos()
			end := strings.Index(lx.src[lx.off+2:], "*/")
			if end < 0 {
				return nl, lx.errorf(start, "unterminated comment")
			}
			if strings.Contains(lx.src[lx.off:lx.off+2+end], "\n") {
				nl = true
			}
			lx.advance(end + 4)
		case c >= utf8.RuneSelf:
			r, size := utf8.DecodeRuneInString(lx.src[lx.off:])
			if r == '\u2028' || r == '\u2029' {
				nl = true
			} else if !unicode.IsSpace(r) && r != '\ufeff' {
				return nl, nil
			}
			lx.advance(size)
		default:
			return nl, nil
		}
	}
	return nl, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '\u200c' || r == '\u200d'
}

func (lx *lexer) next() (token, error) {
	start := lx.off
	pos := lx.pos()
	mk := func(kind tokenKind) token {
		return token{kind: kind, text: lx.src[start:lx.off], pos: pos, start: start, end: lx.off}
	}

	r, size := utf8.DecodeRuneInString(lx.src[lx.off:])
	switch {
	case isIdentStart(r) || r == '#' || r == '\\':
		lx.advance(size)
		for lx.off < len(lx.src) {
			r, size = utf8.DecodeRuneInString(lx.src[lx.off:])
			if !isIdentPart(r) {
				break
			}
			lx.advance(size)
		}
		return mk(tokIdent), nil
	case r >= '0' && r <= '9' || r == '.' && lx.peekByte(1) >= '0' && lx.peekByte(1) <= '9':
		lx.scanNumber()
		return mk(tokNumber), nil
	case r == '"' || r == '\'':
		value, err := lx.scanString(byte(r))
		if err != nil {
			return token{}, err
		}
		tok := mk(tokString)
		tok.value = value
		return tok, nil
	case r == '`':
		if err := lx.scanTemplate(); err != nil {
			return token{}, err
		}
		return mk(tokTemplate), nil
	case r == '/' && lx.regexpAllowed():
		if err := lx.scanRegexp(); err != nil {
			return token{}, err
		}
		return mk(tokRegexp), nil
	}

	for _, p := range puncts {
		if strings.HasPrefix(lx.src[lx.off:], p) {
			// `?.5` is a conditional followed by a number.
			if p == "?." && lx.peekByte(2) >= '0' && lx.peekByte(2) <= '9' {
				continue
			}
			lx.advance(len(p))
			return mk(tokPunct), nil
		}
	}
	lx.advance(size)
	return mk(tokPunct), nil
}

func (lx *lexer) scanNumber() {
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '.':
			lx.advance(1)
		case (c == '+' || c == '-') && (lx.src[lx.off-1] == 'e' || lx.src[lx.off-1] == 'E'):
			lx.advance(1)
		default:
			return
		}
	}
}

func (lx *lexer) scanString(quote byte) (string, error) {
	pos := lx.pos()
	lx.advance(1)
	var b strings.Builder
	for {
		if lx.off >= len(lx.src) || lx.src[lx.off] == '\n' {
			return "", lx.errorf(pos, "unterminated string literal")
		}
		c := lx.src[lx.off]
		if c == quote {
			lx.advance(1)
			return b.String(), nil
		}
		if c != '\\' {
			_, size := utf8.DecodeRuneInString(lx.src[lx.off:])
			b.WriteString(lx.src[lx.off : lx.off+size])
			lx.advance(size)
			continue
		}
		lx.advance(1)
		if lx.off >= len(lx.src) {
			return "", lx.errorf(pos, "unterminated string literal")
		}
		esc := lx.src[lx.off]
		lx.advance(1)
		switch esc {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\n':
			// line continuation
		case '\r':
			if lx.peekByte(0) == '\n' {
				lx.advance(1)
			}
		case 'u':
			b.WriteRune(lx.scanUnicodeEscape())
		case 'x':
			b.WriteRune(lx.scanHex(2))
		default:
			b.WriteByte(esc)
		}
	}
}

func (lx *lexer) scanUnicodeEscape() rune {
	if lx.peekByte(0) == '{' {
		lx.advance(1)
		var r rune
		for lx.off < len(lx.src) && lx.src[lx.off] != '}' {
			r = r*16 + hexVal(lx.src[lx.off])
			lx.advance(1)
		}
		lx.advance(1)
		return r
	}
	return lx.scanHex(4)
}

func (lx *lexer) scanHex(n int) rune {
	var r rune
	for i := 0; i < n && lx.off < len(lx.src); i++ {
		r = r*16 + hexVal(lx.src[lx.off])
		lx.advance(1)
	}
	return r
}

func hexVal(c byte) rune {
	switch {
	case c >= '0' && c <= '9':
		return rune(c - '0')
	case c >= 'a' && c <= 'f':
		return rune(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return rune(c-'A') + 10
	}
	return 0
}

// scanTemplate consumes a template literal including nested substitutions.
func (lx *lexer) scanTemplate() error {
	pos := lx.pos()
	lx.advance(1)
	for lx.off < len(lx.src) {
		switch c := lx.src[lx.off]; {
		case c == '\\':
			lx.advance(2)
		case c == '`':
			lx.advance(1)
			return nil
		case c == '$' && lx.peekByte(1) == '{':
			lx.advance(2)
			if err := lx.skipSubstitution(); err != nil {
				return err
			}
		default:
			lx.advance(1)
		}
	}
	return lx.errorf(pos, "unterminated template literal")
}

func (lx *lexer) skipSubstitution() error {
	pos := lx.pos()
	depth := 1
	for lx.off < len(lx.src) {
		switch c := lx.src[lx.off]; c {
		case '{':
			depth++
			lx.advance(1)
		case '}':
			depth--
			lx.advance(1)
			if depth == 0 {
				return nil
			}
		case '"', '\'':
			if _, err := lx.scanString(c); err != nil {
				return err
			}
		case '`':
			if err := lx.scanTemplate(); err != nil {
				return err
			}
		default:
			lx.advance(1)
		}
	}
	return lx.errorf(pos, "unterminated template substitution")
}

// regexpAllowed reports whether a slash at the current position starts a
// regular expression rather than a division.
func (lx *lexer) regexpAllowed() bool {
	if len(lx.toks) == 0 {
		return true
	}
	prev := lx.toks[len(lx.toks)-1]
	switch prev.kind {
	case tokNumber, tokString, tokTemplate, tokRegexp:
		return false
	case tokIdent:
		switch prev.text {
		case "return", "typeof", "instanceof", "in", "of", "new", "delete", "void", "throw", "case", "do", "else", "yield", "await":
			return true
		}
		return false
	case tokPunct:
		switch prev.text {
		case ")", "]", "}", "++", "--":
			return false
		}
	}
	return true
}

func (lx *lexer) scanRegexp() error {
	pos := lx.pos()
	lx.advance(1)
	inClass := false
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		switch {
		case c == '\n':
			return lx.errorf(pos, "unterminated regular expression")
		case c == '\\':
			lx.advance(2)
			continue
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			lx.advance(1)
			for lx.off < len(lx.src) {
				r, size := utf8.DecodeRuneInString(lx.src[lx.off:])
				if !isIdentPart(r) {
					break
				}
				lx.advance(size)
			}
			return nil
		}
		lx.advance(1)
	}
	return lx.errorf(pos, "unterminated regular expression")
}
