package gcode

import (
	"fmt"
	"io"
	"strings"
)

// Parser can parse Grbl flavour G-Code, one line at a time.
type Parser struct {
	Lexer  *Lexer
	block  *Block
	words  []*Word
	letter *rune
}

func NewParser(r io.Reader) *Parser {
	return &Parser{
		Lexer: NewLexer(r),
	}
}

func (p *Parser) handleTokenTypeEOF() (bool, error) {
	if p.letter != nil {
		return false, fmt.Errorf("line %d: unexpected word letter at end of file", p.Lexer.Line())
	}
	if p.block != nil {
		return true, nil
	}
	if len(p.words) == 0 {
		return true, nil
	}
	p.block = NewBlockCommand(p.words...)
	return true, nil
}

func (p *Parser) handleTokenTypeLetter(token *Token) (bool, error) {
	if p.letter != nil {
		return false, fmt.Errorf("line %d: unexpected word letter %q after previous letter %q", p.Lexer.Line(), token.Value, string(*p.letter))
	}
	letter := rune(token.Value[0])
	p.letter = &letter
	return false, nil
}

func (p *Parser) handleTokenTypeNumber(token *Token) (bool, error) {
	if p.letter == nil {
		return false, fmt.Errorf("line %d: unexpected word number %q without preceding letter", p.Lexer.Line(), token.Value)
	}
	word, err := NewWordParse(*p.letter, token.Value)
	if err != nil {
		return false, fmt.Errorf("line %d: bad number: %#v: %w", p.Lexer.Line(), token.Value, err)
	}
	p.words = append(p.words, word)
	p.letter = nil
	return false, nil
}

func (p *Parser) handleTokenTypeNewLine() (bool, error) {
	if p.letter != nil {
		return false, fmt.Errorf("line %d: unexpected word letter at end of line", p.Lexer.Line()-1)
	}
	if len(p.words) > 0 {
		if p.block != nil {
			panic(fmt.Sprintf("bug: pending words for non-command block: %#v, %#v", p.words, p.block))
		}
		p.block = NewBlockCommand(p.words...)
	}
	return true, nil
}

func (p *Parser) handleToken(token *Token) (bool, error) {
	switch token.Type {
	case TokenTypeEOF:
		return p.handleTokenTypeEOF()
	case TokenTypeSpace, TokenTypeComment:
		return false, nil
	case TokenTypeSystem:
		if len(p.words) > 0 || p.letter != nil {
			return false, fmt.Errorf("line %d: system command cannot follow command words", p.Lexer.Line())
		}
		p.block = NewBlockSystem(token.Value)
		return false, nil
	case TokenTypeWordLetter:
		return p.handleTokenTypeLetter(token)
	case TokenTypeWordNumber:
		return p.handleTokenTypeNumber(token)
	case TokenTypeNewLine:
		return p.handleTokenTypeNewLine()
	default:
		panic(fmt.Sprintf("bug: unknown token type: %#v", token))
	}
}

// Next returns the next parsed line. The first returned bool indicates EOF: when true, parsing is
// complete. If the line contained a block, it is returned. Tokens contains all tokens for the
// parsed line.
func (p *Parser) Next() (bool, *Block, Tokens, error) {
	p.block = nil
	p.words = nil
	p.letter = nil
	var tokens Tokens
	for {
		token, err := p.Lexer.Next()
		if err != nil {
			return false, nil, nil, err
		}
		tokens = append(tokens, token)
		eol, err := p.handleToken(token)
		if err != nil {
			return false, nil, nil, err
		}
		if eol {
			if p.block != nil {
				p.block.source = strings.TrimSpace(tokens.Source())
			}
			return token.Type == TokenTypeEOF, p.block, tokens, nil
		}
	}
}

// Blocks parses and returns all remaining blocks from the parser.
// It calls Next() repeatedly until all blocks are consumed or an error occurs.
func (p *Parser) Blocks() ([]*Block, error) {
	blocks := []*Block{}
	for {
		eof, block, _, err := p.Next()
		if err != nil {
			return nil, err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
		if eof {
			return blocks, nil
		}
	}
}

// ParseProgram parses a whole program text. Any error fails the whole program.
func ParseProgram(text string) ([]*Block, error) {
	blocks, err := NewParser(strings.NewReader(text)).Blocks()
	if err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}
	return blocks, nil
}

// ParseLine parses a single line of text into a block. It returns nil for lines holding only
// spaces or comments.
func ParseLine(line string) (*Block, error) {
	blocks, err := NewParser(strings.NewReader(line)).Blocks()
	if err != nil {
		return nil, err
	}
	switch len(blocks) {
	case 0:
		return nil, nil
	case 1:
		return blocks[0], nil
	default:
		return nil, fmt.Errorf("expected a single line, got %d: %q", len(blocks), line)
	}
}
