package grbl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fornellas/cncsender/gcode"
)

// LineTerminator ends every line sent to Grbl.
const LineTerminator = "\n"

// Command is a line command sent to Grbl.
type Command interface {
	// Line returns the command line, without the line terminator.
	Line() string
}

// commandBytes returns the wire bytes for the command.
func commandBytes(command Command) []byte {
	return []byte(command.Line() + LineTerminator)
}

// RawCommand is any line, such as a G-code block.
type RawCommand string

func (c RawCommand) Line() string {
	return strings.TrimRight(string(c), "\r\n")
}

// SystemCommand are fixed $ commands.
type SystemCommand string

const (
	// View Grbl settings
	SystemCommandViewSettings SystemCommand = "$$"
	// View G-code parameters
	SystemCommandViewGcodeParameters SystemCommand = "$#"
	// View G-code parser state
	SystemCommandViewGcodeParserState SystemCommand = "$G"
	// View build info
	SystemCommandViewBuildInfo SystemCommand = "$I"
	// View startup blocks
	SystemCommandViewStartupBlocks SystemCommand = "$N"
	// Toggle check gcode mode
	SystemCommandCheckMode SystemCommand = "$C"
	// Kill alarm lock
	SystemCommandKillAlarmLock SystemCommand = "$X"
	// Run homing cycle
	SystemCommandHome SystemCommand = "$H"
	// Restore Grbl settings to defaults
	SystemCommandResetSettings SystemCommand = "$RST=$"
	// Erase G54-G59 work coordinate offsets and G28/G30 positions
	SystemCommandResetParameters SystemCommand = "$RST=#"
	// Clear and load all data from EEPROM
	SystemCommandResetAll SystemCommand = "$RST=*"
	// Enable sleep mode
	SystemCommandSleep SystemCommand = "$SLP"
)

func (c SystemCommand) Line() string {
	return string(c)
}

// SettingCommand writes a setting value, as formatted by SettingDefinition.Format.
type SettingCommand struct {
	Number int
	Value  string
}

// NewSettingCommand validates and formats the value for the setting.
func NewSettingCommand(number int, value float64) (SettingCommand, error) {
	definition, err := GetSettingDefinition(number)
	if err != nil {
		return SettingCommand{}, err
	}
	formatted := definition.Format(value)
	if _, err := definition.Parse(formatted); err != nil {
		return SettingCommand{}, err
	}
	return SettingCommand{Number: number, Value: formatted}, nil
}

func (c SettingCommand) Line() string {
	return fmt.Sprintf("$%d=%s", c.Number, c.Value)
}

// StartupBlockCommand saves a block executed on every power up or reset.
type StartupBlockCommand struct {
	Index int
	Block string
}

func (c StartupBlockCommand) Line() string {
	return fmt.Sprintf("$N%d=%s", c.Index, c.Block)
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Jog
////////////////////////////////////////////////////////////////////////////////////////////////////

const jogPrefix = "$J="

// JogCommand moves the machine, without changing the G-code parser state. Axes set to nil are not
// moved.
type JogCommand struct {
	X    *float64
	Y    *float64
	Z    *float64
	Feed float64
	// Incremental moves are relative to the current position (G91), otherwise absolute (G90).
	Incremental bool
	// MachineCoordinates moves in machine coordinates (G53), otherwise in work coordinates.
	MachineCoordinates bool
}

func formatJogValue(value float64) string {
	return strconv.FormatFloat(value, 'f', 6, 64)
}

func (c JogCommand) Line() string {
	var b strings.Builder
	b.WriteString(jogPrefix)
	if c.MachineCoordinates {
		b.WriteString("G53")
	}
	if c.Incremental {
		b.WriteString("G91")
	} else {
		b.WriteString("G90")
	}
	for _, axis := range []struct {
		letter string
		value  *float64
	}{{"X", c.X}, {"Y", c.Y}, {"Z", c.Z}} {
		if axis.value != nil {
			b.WriteString(axis.letter)
			b.WriteString(formatJogValue(*axis.value))
		}
	}
	b.WriteString("F")
	b.WriteString(formatJogValue(c.Feed))
	return b.String()
}

// ParseJogCommand parses a jog line, as generated by JogCommand.Line.
//
//gocyclo:ignore
func ParseJogCommand(line string) (JogCommand, error) {
	blockStr, ok := strings.CutPrefix(strings.TrimSpace(line), jogPrefix)
	if !ok {
		return JogCommand{}, fmt.Errorf("jog command must start with %s: %#v", jogPrefix, line)
	}
	block, err := gcode.ParseLine(blockStr)
	if err != nil {
		return JogCommand{}, fmt.Errorf("jog command: %w", err)
	}
	if block == nil || !block.IsCommand() {
		return JogCommand{}, fmt.Errorf("jog command has no words: %#v", line)
	}

	var jogCommand JogCommand
	var hasFeed bool
	for _, word := range block.Words() {
		switch word.NormalizedString() {
		case "G53":
			jogCommand.MachineCoordinates = true
			continue
		case "G90":
			jogCommand.Incremental = false
			continue
		case "G91":
			jogCommand.Incremental = true
			continue
		case "G20", "G21":
			continue
		}
		if word.IsCommand() {
			return JogCommand{}, fmt.Errorf("jog command: unsupported word %s: %#v", word, line)
		}
		value := word.Number()
		switch word.Letter() {
		case 'X':
			jogCommand.X = &value
		case 'Y':
			jogCommand.Y = &value
		case 'Z':
			jogCommand.Z = &value
		case 'F':
			jogCommand.Feed = value
			hasFeed = true
		default:
			return JogCommand{}, fmt.Errorf("jog command: unsupported word %s: %#v", word, line)
		}
	}
	if !hasFeed {
		return JogCommand{}, fmt.Errorf("jog command: missing feed rate: %#v", line)
	}
	if jogCommand.X == nil && jogCommand.Y == nil && jogCommand.Z == nil {
		return JogCommand{}, fmt.Errorf("jog command: no axis to move: %#v", line)
	}
	return jogCommand, nil
}
