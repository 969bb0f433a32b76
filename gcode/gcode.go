package gcode

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	iFmt "github.com/fornellas/cncsender/internal/fmt"
)

// Word may either give a command or provide an argument to a command.
type Word struct {
	letter rune
	number float64
	// major and minor hold the integer and fractional digits of the absolute value: G92.1 has
	// major 92 and minor 1, X-1.05 has major 1 and minor 5 with 2 minor digits.
	major       uint64
	minor       uint64
	minorDigits int
	// The original string that declared this word. This is used to avoid parsing / serializing
	// upper/lowercase letters or float point representation differences, for consistency on output.
	originalStr *string
}

func splitNumber(number string) (uint64, uint64, int, error) {
	number = strings.TrimLeft(number, "+-")
	intStr, fracStr, _ := strings.Cut(number, ".")
	var major, minor uint64
	var err error
	if intStr != "" {
		major, err = strconv.ParseUint(intStr, 10, 64)
		if err != nil {
			return 0, 0, 0, err
		}
	}
	if fracStr != "" {
		minor, err = strconv.ParseUint(fracStr, 10, 64)
		if err != nil {
			return 0, 0, 0, err
		}
	}
	return major, minor, len(fracStr), nil
}

// NewWord creates a Word from given letter and number.
// letter must be capitalised, or it'll panic.
func NewWord(letter rune, number float64) *Word {
	if letter < 'A' || letter > 'Z' {
		panic(fmt.Sprintf("bug: attempting to create word with letter not between A-Z: %c", letter))
	}
	w := &Word{letter: letter}
	w.setNumber(number)
	return w
}

// NewWordParse creates a Word from given letter and a raw number string.
func NewWordParse(letter rune, number string) (*Word, error) {
	parsedNumber, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return nil, err
	}
	major, minor, minorDigits, err := splitNumber(number)
	if err != nil {
		return nil, err
	}
	originalStr := string(letter) + number
	return &Word{
		letter:      unicode.ToUpper(letter),
		number:      parsedNumber,
		major:       major,
		minor:       minor,
		minorDigits: minorDigits,
		originalStr: &originalStr,
	}, nil
}

func (w *Word) setNumber(number float64) {
	w.number = number
	s := strconv.FormatFloat(math.Abs(number), 'f', -1, 64)
	major, minor, minorDigits, err := splitNumber(s)
	if err != nil {
		panic(fmt.Sprintf("bug: failed to split formatted float %q: %s", s, err))
	}
	w.major, w.minor, w.minorDigits = major, minor, minorDigits
}

func (w *Word) Letter() rune {
	return w.letter
}

func (w *Word) Number() float64 {
	return w.number
}

// Major is the integer part of the absolute value.
func (w *Word) Major() uint64 {
	return w.major
}

// Minor is the fractional part of the absolute value, as an integer. It is 0 when no fraction was
// given.
func (w *Word) Minor() uint64 {
	return w.minor
}

// MinorDigits is how many fractional digits Minor was parsed from.
func (w *Word) MinorDigits() int {
	return w.minorDigits
}

func (w *Word) SetNumber(number float64) {
	w.setNumber(number)
	w.originalStr = nil
}

// String gives the representation of the word. If it has not been mutated, then it returns the
// exact original string (thus preserving letter casing and float point representation), otherwise
// it creates a new representation after the mutation.
func (w *Word) String() string {
	if w.originalStr != nil {
		return *w.originalStr
	}
	return w.NormalizedString()
}

// NormalizedString is similar to String(), but always return a consistent representation using
// uppercase letters, single point float precision for commands and up to 4 points precision for
// arguments.
func (w *Word) NormalizedString() string {
	if w.IsCommand() {
		int, frac := math.Modf(w.number)
		if frac == 0 {
			return fmt.Sprintf("%c%.0f", w.letter, int)
		}
		return fmt.Sprintf("%c%.1f", w.letter, w.number)
	}
	return fmt.Sprintf("%c%s", w.letter, iFmt.SprintFloat(w.number, 4))
}

// IsCommand returns true if the word is a command (letter G or M).
func (w *Word) IsCommand() bool {
	return w.letter == 'G' || w.letter == 'M'
}

// Mnemonic identifies a word by letter and integer major / minor parts, eg G92.1.
type Mnemonic struct {
	Letter rune
	Major  uint64
	Minor  uint64
}

func (m Mnemonic) String() string {
	if m.Minor == 0 {
		return fmt.Sprintf("%c%d", m.Letter, m.Major)
	}
	return fmt.Sprintf("%c%d.%d", m.Letter, m.Major, m.Minor)
}

// Mnemonic returns the word letter with its major and minor parts.
func (w *Word) Mnemonic() Mnemonic {
	return Mnemonic{Letter: w.letter, Major: w.major, Minor: w.minor}
}

// Block is a line which may include commands to do several different things.
type Block struct {
	system *string
	words  []*Word
	// source text the block was parsed from, without the line break.
	source string
}

func NewBlockSystem(system string) *Block {
	return &Block{system: &system, source: system}
}

func NewBlockCommand(words ...*Word) *Block {
	return &Block{words: words}
}

func (b *Block) IsSystem() bool {
	return b.system != nil
}

func (b *Block) IsCommand() bool {
	return len(b.words) > 0
}

// Words returns all words, in source order.
func (b *Block) Words() []*Word {
	return b.words
}

// Source returns the text the block was parsed from. For blocks not created by a Parser, it is the
// same as String().
func (b *Block) Source() string {
	if b.source == "" {
		return b.String()
	}
	return b.source
}

func (b *Block) String() string {
	var buff bytes.Buffer
	if b.system != nil {
		buff.WriteString(string(*b.system))
	}
	for _, w := range b.words {
		buff.WriteString(w.String())
	}
	return buff.String()
}

// Mnemonic returns the mnemonic of the first word. The bool is false for blocks without words.
func (b *Block) Mnemonic() (Mnemonic, bool) {
	if len(b.words) == 0 {
		return Mnemonic{}, false
	}
	return b.words[0].Mnemonic(), true
}

// ValueFor returns the number of the first word with the given letter.
func (b *Block) ValueFor(letter rune) (float64, bool) {
	for _, w := range b.words {
		if w.letter == letter {
			return w.number, true
		}
	}
	return 0, false
}

// Commands returns all G/M words in the block.
func (b *Block) Commands() []*Word {
	var cmds []*Word
	for _, w := range b.words {
		if w.IsCommand() {
			cmds = append(cmds, w)
		}
	}
	return cmds
}

// Arguments returns all non-command words in the block.
func (b *Block) Arguments() []*Word {
	var args []*Word
	for _, w := range b.words {
		if !w.IsCommand() {
			args = append(args, w)
		}
	}
	return args
}

// GetArgumentNumber returns the number of the argument with the given letter, or nil if there's
// none. More than one argument with the letter is an error.
func (b *Block) GetArgumentNumber(letter rune) (*float64, error) {
	if !b.IsCommand() {
		panic("bug: can't fetch argument for system block")
	}
	var number *float64
	for _, w := range b.Arguments() {
		if w.Letter() == letter {
			if number != nil {
				return nil, fmt.Errorf("%s: multiple arguments for letter %c", b, letter)
			}
			n := w.Number()
			number = &n
		}
	}
	return number, nil
}

// Empty returns true if no system or command is defined.
func (b *Block) Empty() bool {
	return b.system == nil && len(b.words) == 0
}
