package toolpath

import (
	"context"
	"errors"
	"fmt"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/cncsender/gcode"
)

// ErrUnimplemented is returned for G-code commands that can not be simulated yet. Ignoring them
// would produce a wrong toolpath.
var ErrUnimplemented = errors.New("unimplemented command")

// HomePosition is where G28 moves to.
var HomePosition = Vector{X: 100, Y: 100, Z: 100}

var unimplementedCommands = map[string]bool{
	"G20":   true, // Units inches
	"G28.1": true, // Set home position
	"G30.1": true, // Set secondary home position
	"G38.2": true, // Probe toward workpiece, stop on contact, signal error if failure
	"G38.3": true, // Probe toward workpiece, stop on contact
	"G38.4": true, // Probe away from workpiece, stop on loss of contact, signal error if failure
	"G38.5": true, // Probe away from workpiece, stop on loss of contact
	"G41":   true, // Cutter radius compensation left
	"G42":   true, // Cutter radius compensation right
	"G43.1": true, // Dynamic tool length offset
	"G49":   true, // Cancel tool length offset
	"G53":   true, // Move in machine coordinates
	"G80":   true, // Motion mode cancel
	"G91.1": true, // Arc IJK distance mode incremental
}

var coordinateSystems = map[string]int{
	"G54": 1,
	"G55": 2,
	"G56": 3,
	"G57": 4,
	"G58": 5,
	"G59": 6,
}

// commandEffect is what a command does to the block's motion, other than updating the modal state.
type commandEffect int

const (
	commandEffectNone commandEffect = iota
	// commandEffectHome replaces the block motion by a move to HomePosition.
	commandEffectHome
	// commandEffectAxesConsumed is for non motion commands that take axis words as arguments.
	commandEffectAxesConsumed
)

// Interpreter runs G-code blocks against a modal State, producing the toolpath.
type Interpreter struct {
	state    *State
	segments []MotionSegment
}

// NewInterpreter creates a new Interpreter at the initial State. The first segment is the
// starting point.
func NewInterpreter() *Interpreter {
	state := NewState()
	return &Interpreter{
		state:    state,
		segments: []MotionSegment{{Kind: MotionKindRapid, Position: state.Position}},
	}
}

// State returns a copy of the current modal state.
func (i *Interpreter) State() State {
	return *i.state
}

// Segments returns a copy of all segments so far, with times computed.
func (i *Interpreter) Segments() []MotionSegment {
	segments := make([]MotionSegment, len(i.segments))
	copy(segments, i.segments)
	setTimes(segments)
	return segments
}

func (i *Interpreter) emit(kind MotionKind, position Vector) {
	i.segments = append(i.segments, MotionSegment{Kind: kind, Position: position})
}

// applyCommand updates the modal state from a command word.
//
//gocyclo:ignore
func (i *Interpreter) applyCommand(word *gcode.Word) (commandEffect, error) {
	command := word.NormalizedString()
	if unimplementedCommands[command] {
		return commandEffectNone, fmt.Errorf("%w: %s", ErrUnimplemented, command)
	}
	if cs, ok := coordinateSystems[command]; ok {
		i.state.CoordinateSystem = cs
		return commandEffectNone, nil
	}
	switch command {
	case "G0":
		i.state.MotionMode = MotionModeRapid
	case "G1":
		i.state.MotionMode = MotionModeLinear
	case "G2":
		i.state.MotionMode = MotionModeArcCW
	case "G3":
		i.state.MotionMode = MotionModeArcCCW
	case "G17":
		i.state.Plane = PlaneXY
	case "G18":
		i.state.Plane = PlaneXZ
	case "G19":
		i.state.Plane = PlaneYZ
	case "G10", "G92":
		return commandEffectAxesConsumed, nil
	case "G28":
		return commandEffectHome, nil
	case "G90":
		i.state.DistanceMode = DistanceModeAbsolute
	case "G91":
		i.state.DistanceMode = DistanceModeRelative
	case "M3":
		i.state.Spindle = SpindleModeCW
	case "M4":
		i.state.Spindle = SpindleModeCCW
	case "M5":
		i.state.Spindle = SpindleModeOff
	case "M7":
		i.state.Coolant.Mist = true
	case "M8":
		i.state.Coolant.Flood = true
	case "M9":
		i.state.Coolant = Coolant{}
	}
	// Everything else (dwell, units, feed rate mode, program flow...) has no effect on the
	// toolpath.
	return commandEffectNone, nil
}

func (i *Interpreter) applyArgument(word *gcode.Word) {
	switch word.Letter() {
	case 'F':
		i.state.FeedRate = word.Number()
	case 'S':
		i.state.SpindleSpeed = word.Number()
	}
}

func hasAnyLetter(block *gcode.Block, letters ...rune) bool {
	for _, letter := range letters {
		if _, ok := block.ValueFor(letter); ok {
			return true
		}
	}
	return false
}

// target computes the position at the end of the block's motion. More than one word for the same
// axis is an error.
func (i *Interpreter) target(block *gcode.Block) (Vector, error) {
	position := i.state.Position
	for _, axis := range []struct {
		value  *float64
		letter rune
	}{
		{&position.X, 'X'},
		{&position.Y, 'Y'},
		{&position.Z, 'Z'},
	} {
		n, err := block.GetArgumentNumber(axis.letter)
		if err != nil {
			return Vector{}, err
		}
		if n == nil {
			continue
		}
		if i.state.DistanceMode == DistanceModeRelative {
			*axis.value += *n
		} else {
			*axis.value = *n
		}
	}
	return position, nil
}

func (i *Interpreter) home() {
	i.state.Position.Z = HomePosition.Z
	i.emit(MotionKindRapid, i.state.Position)
	i.state.Position.X = HomePosition.X
	i.state.Position.Y = HomePosition.Y
	i.emit(MotionKindRapid, i.state.Position)
}

func (i *Interpreter) line(block *gcode.Block) error {
	kind := MotionKindLinear
	if i.state.MotionMode == MotionModeRapid {
		kind = MotionKindRapid
	}
	start := i.state.Position
	end, err := i.target(block)
	if err != nil {
		return err
	}
	i.emit(kind, start.Lerp(end, 0.025))
	i.emit(kind, start.Lerp(end, 0.975))
	i.emit(kind, end)
	i.state.Position = end
	return nil
}

// Block interprets a single block. Modal words are applied first, in order, then the block motion
// happens according to the resulting motion mode. System blocks are ignored.
func (i *Interpreter) Block(block *gcode.Block) error {
	if block.IsSystem() {
		return nil
	}

	var home, axesConsumed bool
	for _, word := range block.Words() {
		if word.IsCommand() {
			effect, err := i.applyCommand(word)
			if err != nil {
				return err
			}
			switch effect {
			case commandEffectHome:
				home = true
			case commandEffectAxesConsumed:
				axesConsumed = true
			}
			continue
		}
		i.applyArgument(word)
	}

	if home {
		i.home()
		return nil
	}
	if axesConsumed {
		return nil
	}

	switch i.state.MotionMode {
	case MotionModeRapid, MotionModeLinear:
		if hasAnyLetter(block, 'X', 'Y', 'Z') {
			return i.line(block)
		}
	case MotionModeArcCW, MotionModeArcCCW:
		if hasAnyLetter(block, 'X', 'Y', 'Z', 'I', 'J', 'K') {
			return i.arc(block)
		}
	default:
		panic(fmt.Sprintf("bug: unexpected motion mode: %d", i.state.MotionMode))
	}
	return nil
}

// Interpret parses the program text and computes its toolpath. Any error fails the whole program:
// there's no partial toolpath.
func Interpret(ctx context.Context, text string) ([]MotionSegment, error) {
	blocks, err := gcode.ParseProgram(text)
	if err != nil {
		return nil, err
	}
	return InterpretBlocks(ctx, blocks)
}

// InterpretBlocks is like Interpret, for already parsed blocks.
func InterpretBlocks(ctx context.Context, blocks []*gcode.Block) ([]MotionSegment, error) {
	logger := log.MustLogger(ctx)

	interpreter := NewInterpreter()
	for _, block := range blocks {
		if err := interpreter.Block(block); err != nil {
			return nil, fmt.Errorf("%s: %w", block.Source(), err)
		}
	}

	segments := interpreter.Segments()
	logger.Debug("Interpreted program", "blocks", len(blocks), "segments", len(segments))
	return segments, nil
}
