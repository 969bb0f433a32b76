package grbl

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrUnknownSetting = errors.New("unknown setting")

type SettingKind int

const (
	SettingKindUint8 SettingKind = iota
	SettingKindUint16
	SettingKindBool
	SettingKindAxisMask
	SettingKindStatusReportMask
	SettingKindFloat
)

func (k SettingKind) String() string {
	switch k {
	case SettingKindUint8, SettingKindUint16:
		return "integer"
	case SettingKindBool:
		return "boolean"
	case SettingKindAxisMask, SettingKindStatusReportMask:
		return "mask"
	case SettingKindFloat:
		return "float"
	}
	panic(fmt.Sprintf("bug: unexpected SettingKind: %d", k))
}

// AxisMask has one bit per axis.
type AxisMask uint8

const (
	AxisMaskX AxisMask = 1 << iota
	AxisMaskY
	AxisMaskZ
)

const axisMaskAll = AxisMaskX | AxisMaskY | AxisMaskZ

func (m AxisMask) String() string {
	var b strings.Builder
	for _, axis := range []struct {
		mask AxisMask
		name string
	}{{AxisMaskX, "X"}, {AxisMaskY, "Y"}, {AxisMaskZ, "Z"}} {
		if m&axis.mask != 0 {
			b.WriteString(axis.name)
		}
	}
	if b.Len() == 0 {
		return "none"
	}
	return b.String()
}

// StatusReportMask selects the status report fields.
type StatusReportMask uint8

const (
	// StatusReportMaskMachinePosition reports MPos when set, and WPos otherwise.
	StatusReportMaskMachinePosition StatusReportMask = 1 << iota
	// StatusReportMaskBufferData enables Bf.
	StatusReportMaskBufferData
)

const statusReportMaskAll = StatusReportMaskMachinePosition | StatusReportMaskBufferData

func (m StatusReportMask) String() string {
	var fields []string
	if m&StatusReportMaskMachinePosition != 0 {
		fields = append(fields, "MPos")
	} else {
		fields = append(fields, "WPos")
	}
	if m&StatusReportMaskBufferData != 0 {
		fields = append(fields, "Bf")
	}
	return strings.Join(fields, ",")
}

type SettingDefinition struct {
	Number      int
	Description string
	Unit        string
	Kind        SettingKind
}

// SettingDefinitions lists all Grbl v1.1 settings.
var SettingDefinitions = []SettingDefinition{
	{0, "Step pulse time", "microseconds", SettingKindUint16},
	{1, "Step idle delay", "milliseconds", SettingKindUint8},
	{2, "Step pulse invert", "mask", SettingKindAxisMask},
	{3, "Step direction invert", "mask", SettingKindAxisMask},
	{4, "Invert step enable pin", "boolean", SettingKindBool},
	{5, "Invert limit pins", "boolean", SettingKindBool},
	{6, "Invert probe pin", "boolean", SettingKindBool},
	{10, "Status report options", "mask", SettingKindStatusReportMask},
	{11, "Junction deviation", "millimeters", SettingKindFloat},
	{12, "Arc tolerance", "millimeters", SettingKindFloat},
	{13, "Report in inches", "boolean", SettingKindBool},
	{20, "Soft limits enable", "boolean", SettingKindBool},
	{21, "Hard limits enable", "boolean", SettingKindBool},
	{22, "Homing cycle enable", "boolean", SettingKindBool},
	{23, "Homing direction invert", "mask", SettingKindAxisMask},
	{24, "Homing locate feed rate", "mm/min", SettingKindFloat},
	{25, "Homing search seek rate", "mm/min", SettingKindFloat},
	{26, "Homing switch debounce delay", "milliseconds", SettingKindUint16},
	{27, "Homing switch pull-off distance", "millimeters", SettingKindFloat},
	{30, "Maximum spindle speed", "RPM", SettingKindFloat},
	{31, "Minimum spindle speed", "RPM", SettingKindFloat},
	{32, "Laser-mode enable", "boolean", SettingKindBool},
	{100, "X-axis travel resolution", "step/mm", SettingKindFloat},
	{101, "Y-axis travel resolution", "step/mm", SettingKindFloat},
	{102, "Z-axis travel resolution", "step/mm", SettingKindFloat},
	{110, "X-axis maximum rate", "mm/min", SettingKindFloat},
	{111, "Y-axis maximum rate", "mm/min", SettingKindFloat},
	{112, "Z-axis maximum rate", "mm/min", SettingKindFloat},
	{120, "X-axis acceleration", "mm/sec^2", SettingKindFloat},
	{121, "Y-axis acceleration", "mm/sec^2", SettingKindFloat},
	{122, "Z-axis acceleration", "mm/sec^2", SettingKindFloat},
	{130, "X-axis maximum travel", "millimeters", SettingKindFloat},
	{131, "Y-axis maximum travel", "millimeters", SettingKindFloat},
	{132, "Z-axis maximum travel", "millimeters", SettingKindFloat},
}

// settingSlots maps each setting number to its position at SettingDefinitions.
var settingSlots = func() map[int]int {
	slots := make(map[int]int, len(SettingDefinitions))
	for i, definition := range SettingDefinitions {
		slots[definition.Number] = i
	}
	return slots
}()

// GetSettingDefinition returns the definition for the setting number.
func GetSettingDefinition(number int) (SettingDefinition, error) {
	slot, ok := settingSlots[number]
	if !ok {
		return SettingDefinition{}, fmt.Errorf("%w: $%d", ErrUnknownSetting, number)
	}
	return SettingDefinitions[slot], nil
}

// Parse parses a setting value as reported by Grbl, validating it for the setting kind.
//
//gocyclo:ignore
func (d SettingDefinition) Parse(value string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("$%d: invalid value: %#v", d.Number, value)
	}
	if d.Kind == SettingKindFloat {
		return v, nil
	}
	if v != math.Trunc(v) || v < 0 {
		return 0, fmt.Errorf("$%d: expected non negative integer: %#v", d.Number, value)
	}
	var max float64
	switch d.Kind {
	case SettingKindUint8:
		max = math.MaxUint8
	case SettingKindUint16:
		max = math.MaxUint16
	case SettingKindBool:
		max = 1
	case SettingKindAxisMask:
		max = float64(axisMaskAll)
	case SettingKindStatusReportMask:
		max = float64(statusReportMaskAll)
	default:
		panic(fmt.Sprintf("bug: unexpected SettingKind: %d", d.Kind))
	}
	if v > max {
		return 0, fmt.Errorf("$%d: value %#v above maximum %v", d.Number, value, max)
	}
	return v, nil
}

// Format formats the value the way Grbl expects it to be written: floats with 6 decimal places,
// everything else as an integer.
func (d SettingDefinition) Format(value float64) string {
	if d.Kind == SettingKindFloat {
		return strconv.FormatFloat(value, 'f', 6, 64)
	}
	return strconv.FormatInt(int64(value), 10)
}

// Settings holds the values of known settings. Values are only present after being reported by
// Grbl or set.
type Settings struct {
	values [settingsCount]*float64
}

const settingsCount = 34

func NewSettings() *Settings {
	if len(SettingDefinitions) != settingsCount {
		panic("bug: settings definitions count mismatch")
	}
	return &Settings{}
}

// Set parses and stores the setting value.
func (s *Settings) Set(number int, value string) error {
	definition, err := GetSettingDefinition(number)
	if err != nil {
		return err
	}
	v, err := definition.Parse(value)
	if err != nil {
		return err
	}
	s.values[settingSlots[number]] = &v
	return nil
}

// Value returns the setting value, if known.
func (s *Settings) Value(number int) (float64, bool) {
	slot, ok := settingSlots[number]
	if !ok || s.values[slot] == nil {
		return 0, false
	}
	return *s.values[slot], true
}

// Bool returns the value of boolean settings.
func (s *Settings) Bool(number int) (bool, bool) {
	v, ok := s.Value(number)
	return v != 0, ok
}

// AxisMask returns the value of axis mask settings.
func (s *Settings) AxisMask(number int) (AxisMask, bool) {
	v, ok := s.Value(number)
	return AxisMask(v), ok
}

// StatusReportMask returns the value of $10.
func (s *Settings) StatusReportMask() (StatusReportMask, bool) {
	v, ok := s.Value(10)
	return StatusReportMask(v), ok
}

// Len returns how many settings have a known value.
func (s *Settings) Len() int {
	n := 0
	for _, v := range s.values {
		if v != nil {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	ns := &Settings{}
	for i, v := range s.values {
		if v != nil {
			value := *v
			ns.values[i] = &value
		}
	}
	return ns
}

// Command returns the command that writes the current value of the setting.
func (s *Settings) Command(number int) (SettingCommand, error) {
	definition, err := GetSettingDefinition(number)
	if err != nil {
		return SettingCommand{}, err
	}
	v, ok := s.Value(number)
	if !ok {
		return SettingCommand{}, fmt.Errorf("$%d: value unknown", number)
	}
	return SettingCommand{Number: number, Value: definition.Format(v)}, nil
}

// Commands returns the commands that write all known settings, in setting number order.
func (s *Settings) Commands() []SettingCommand {
	commands := []SettingCommand{}
	for _, definition := range SettingDefinitions {
		command, err := s.Command(definition.Number)
		if err != nil {
			continue
		}
		commands = append(commands, command)
	}
	return commands
}
