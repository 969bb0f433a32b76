package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

type TokenType int

const (
	TokenTypeEOF TokenType = iota
	TokenTypeSpace
	TokenTypeComment
	TokenTypeSystem
	TokenTypeWordLetter
	TokenTypeWordNumber
	TokenTypeNewLine
)

var tokenTypeNames = map[TokenType]string{
	TokenTypeEOF:        "EOF",
	TokenTypeSpace:      "Space",
	TokenTypeComment:    "Comment",
	TokenTypeSystem:     "System",
	TokenTypeWordLetter: "WordLetter",
	TokenTypeWordNumber: "WordNumber",
	TokenTypeNewLine:    "NewLine",
}

func (tt TokenType) String() string {
	if name, ok := tokenTypeNames[tt]; ok {
		return name
	}
	panic(fmt.Sprintf("unexpected TokenType: %d", tt))
}

type Token struct {
	Value string
	Type  TokenType
}

// Tokens holds all tokens from a single line.
type Tokens []*Token

// String gives back the exact source text of the tokens.
func (ts Tokens) String() string {
	var b strings.Builder
	for _, t := range ts {
		b.WriteString(t.Value)
	}
	return b.String()
}

// Source is like String, but without the trailing new line.
func (ts Tokens) Source() string {
	return strings.TrimRight(ts.String(), "\r\n")
}

// Lexer splits G-code text into tokens, following the same rules Grbl uses when reading a line.
type Lexer struct {
	line    uint
	scanner *bufio.Scanner
}

// NewLexer creates a new Lexer.
func NewLexer(rd io.Reader) *Lexer {
	scanner := bufio.NewScanner(rd)
	scanner.Split(split)
	return &Lexer{scanner: scanner, line: 1}
}

// Line returns the 1-based line number the lexer is at.
func (lx *Lexer) Line() uint {
	return lx.line
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isCommentStart(c byte) bool {
	return c == '(' || c == ';'
}

func isSystemStart(c byte) bool {
	return c == '$'
}

func isLetterStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNumberStart(c byte) bool {
	return c == '-' || c == '+' || c == '.' || isDigit(c)
}

func isNewLineStart(c byte) bool {
	return c == '\n' || c == '\r'
}

// untilEndOfLine returns the token running up to, not including, the end of line.
func untilEndOfLine(data []byte, atEOF bool) (int, []byte, error) {
	for i := 1; i < len(data); i++ {
		if isNewLineStart(data[i]) {
			return i, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// untilSystemEnd returns a system command token: it runs up to the end of line or a ';' comment,
// leaving out trailing spaces.
func untilSystemEnd(data []byte, atEOF bool) (int, []byte, error) {
	end := -1
	for i := 1; i < len(data); i++ {
		if isNewLineStart(data[i]) || data[i] == ';' {
			end = i
			break
		}
	}
	if end < 0 {
		if !atEOF {
			return 0, nil, nil
		}
		end = len(data)
	}
	for end > 1 && isSpace(data[end-1]) {
		end--
	}
	return end, data[:end], nil
}

//gocyclo:ignore
func split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	c := data[0]

	switch {
	case isSpace(c):
		i := 0
		for i < len(data) && isSpace(data[i]) {
			i++
		}
		if i == len(data) && !atEOF {
			return 0, nil, nil
		}
		return i, data[:i], nil
	case c == '(':
		for i := 1; i < len(data); i++ {
			if data[i] == ')' {
				return i + 1, data[:i+1], nil
			}
			if isNewLineStart(data[i]) {
				return 0, nil, errors.New("end of line reached without closing parenthesis")
			}
		}
		if atEOF {
			return 0, nil, errors.New("end of file reached without closing parenthesis")
		}
		return 0, nil, nil
	case c == ';':
		return untilEndOfLine(data, atEOF)
	case isSystemStart(c):
		return untilSystemEnd(data, atEOF)
	case isLetterStart(c):
		return 1, data[:1], nil
	case isNumberStart(c):
		i := 0
		if data[i] == '-' || data[i] == '+' {
			i++
		}
		ndigit := 0
		decimal := false
		for i < len(data) {
			if isDigit(data[i]) {
				ndigit++
			} else if data[i] == '.' && !decimal {
				decimal = true
			} else {
				break
			}
			i++
		}
		if i == len(data) && !atEOF {
			return 0, nil, nil
		}
		if ndigit == 0 {
			return 0, nil, fmt.Errorf("invalid number: %q", data[:i])
		}
		return i, data[:i], nil
	case c == '\n':
		return 1, data[:1], nil
	case c == '\r':
		if len(data) > 1 {
			if data[1] == '\n' {
				return 2, data[:2], nil
			}
			return 1, data[:1], nil
		}
		if atEOF {
			return 1, data[:1], nil
		}
		return 0, nil, nil
	}

	return 0, nil, fmt.Errorf("unexpected char: %q", c)
}

// Next returns the next token. At the end of input, a token of type TokenTypeEOF is returned.
func (lx *Lexer) Next() (*Token, error) {
	if !lx.scanner.Scan() {
		if err := lx.scanner.Err(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lx.line, err)
		}
		return &Token{Type: TokenTypeEOF}, nil
	}

	value := lx.scanner.Text()
	if len(value) == 0 {
		panic(fmt.Sprintf("bug: empty token received at line %d", lx.line))
	}

	c := value[0]
	switch {
	case isSpace(c):
		return &Token{Value: value, Type: TokenTypeSpace}, nil
	case isCommentStart(c):
		return &Token{Value: value, Type: TokenTypeComment}, nil
	case isSystemStart(c):
		return &Token{Value: value, Type: TokenTypeSystem}, nil
	case isLetterStart(c):
		return &Token{Value: value, Type: TokenTypeWordLetter}, nil
	case isNumberStart(c):
		return &Token{Value: value, Type: TokenTypeWordNumber}, nil
	case isNewLineStart(c):
		lx.line++
		return &Token{Value: value, Type: TokenTypeNewLine}, nil
	}

	panic(fmt.Sprintf("bug: unexpected value at line %d: %v", lx.line, value))
}
