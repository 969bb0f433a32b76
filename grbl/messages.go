package grbl

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMessage is returned when a complete line can not be parsed.
var ErrInvalidMessage = errors.New("invalid message")

// ErrIncompleteMessage is returned when there's no complete line to parse yet.
var ErrIncompleteMessage = errors.New("incomplete message")

// Message is anything Grbl sends: either a response to a sent line, or a push message.
type Message interface {
	String() string
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Response
////////////////////////////////////////////////////////////////////////////////////////////////////

const (
	responseOk          = "ok"
	responseErrorPrefix = "error:"
)

// ResponseMessage acknowledges a sent line. Code is 0 for ok.
type ResponseMessage struct {
	Message string
	Code    int
}

func NewResponseMessage(message string) (*ResponseMessage, error) {
	if message == responseOk {
		return &ResponseMessage{Message: message}, nil
	}
	if codeStr, ok := strings.CutPrefix(message, responseErrorPrefix); ok {
		code, err := strconv.Atoi(codeStr)
		if err != nil || code <= 0 {
			return nil, fmt.Errorf("%w: bad error code: %#v", ErrInvalidMessage, message)
		}
		return &ResponseMessage{Message: message, Code: code}, nil
	}
	return nil, fmt.Errorf("%w: not a response: %#v", ErrInvalidMessage, message)
}

func (m *ResponseMessage) String() string {
	return m.Message
}

// Ok is true for "ok" responses.
func (m *ResponseMessage) Ok() bool {
	return m.Code == 0
}

// Error returns the description of error responses, or nil for ok.
func (m *ResponseMessage) Error() error {
	if m.Ok() {
		return nil
	}
	return fmt.Errorf("error %d: %s", m.Code, ErrorDescription(m.Code))
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Welcome
////////////////////////////////////////////////////////////////////////////////////////////////////

const welcomePrefix = "Grbl "

// WelcomePushMessage is sent on power up and after a reset.
type WelcomePushMessage struct {
	Message string
	// Version as shown on the banner, eg "1.1h".
	Version string
}

func NewWelcomePushMessage(message string) (*WelcomePushMessage, error) {
	rest, ok := strings.CutPrefix(message, welcomePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: not a welcome message: %#v", ErrInvalidMessage, message)
	}
	version, _, _ := strings.Cut(rest, " ")
	return &WelcomePushMessage{Message: message, Version: version}, nil
}

func (m *WelcomePushMessage) String() string {
	return m.Message
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Alarm
////////////////////////////////////////////////////////////////////////////////////////////////////

const alarmPrefix = "ALARM:"

type AlarmPushMessage struct {
	Message string
	Code    int
}

func NewAlarmPushMessage(message string) (*AlarmPushMessage, error) {
	codeStr, ok := strings.CutPrefix(message, alarmPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: not an alarm: %#v", ErrInvalidMessage, message)
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad alarm code: %#v", ErrInvalidMessage, message)
	}
	return &AlarmPushMessage{Message: message, Code: code}, nil
}

func (m *AlarmPushMessage) String() string {
	return m.Message
}

func (m *AlarmPushMessage) Error() error {
	return fmt.Errorf("alarm %d: %s", m.Code, AlarmDescription(m.Code))
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Setting
////////////////////////////////////////////////////////////////////////////////////////////////////

// SettingPushMessage reports a setting value, as a response to $$.
type SettingPushMessage struct {
	Message string
	Number  int
	Value   string
}

func NewSettingPushMessage(message string) (*SettingPushMessage, error) {
	key, value, ok := strings.Cut(strings.TrimPrefix(message, "$"), "=")
	if !ok || !strings.HasPrefix(message, "$") {
		return nil, fmt.Errorf("%w: not a setting: %#v", ErrInvalidMessage, message)
	}
	number, err := strconv.Atoi(key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad setting number: %#v", ErrInvalidMessage, message)
	}
	return &SettingPushMessage{Message: message, Number: number, Value: value}, nil
}

func (m *SettingPushMessage) String() string {
	return m.Message
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// StartupBlock
////////////////////////////////////////////////////////////////////////////////////////////////////

// StartupBlockPushMessage reports a stored startup block, as a response to $N.
type StartupBlockPushMessage struct {
	Message string
	Index   int
	Line    string
}

func NewStartupBlockPushMessage(message string) (*StartupBlockPushMessage, error) {
	key, line, ok := strings.Cut(strings.TrimPrefix(message, "$N"), "=")
	if !ok || !strings.HasPrefix(message, "$N") {
		return nil, fmt.Errorf("%w: not a startup block: %#v", ErrInvalidMessage, message)
	}
	index, err := strconv.Atoi(key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad startup block index: %#v", ErrInvalidMessage, message)
	}
	return &StartupBlockPushMessage{Message: message, Index: index, Line: line}, nil
}

func (m *StartupBlockPushMessage) String() string {
	return m.Message
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Feedback
////////////////////////////////////////////////////////////////////////////////////////////////////

const feedbackPrefix = "[MSG:"

type FeedbackPushMessage struct {
	Message string
}

func (m *FeedbackPushMessage) String() string {
	return m.Message
}

func (m *FeedbackPushMessage) Text() string {
	return strings.TrimSuffix(strings.TrimPrefix(m.Message, feedbackPrefix), "]")
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Info
////////////////////////////////////////////////////////////////////////////////////////////////////

// InfoPushMessage is any other bracketed message, such as [GC:...], [VER:...], [OPT:...],
// [HLP:...], [echo:...] or the $# parameters ([G54:...], [PRB:...]...).
type InfoPushMessage struct {
	Message string
	// Kind is the text before the first colon, eg "GC".
	Kind string
	// Value is the text after the first colon.
	Value string
}

func NewInfoPushMessage(message string) (*InfoPushMessage, error) {
	if !strings.HasPrefix(message, "[") || !strings.HasSuffix(message, "]") {
		return nil, fmt.Errorf("%w: not bracketed: %#v", ErrInvalidMessage, message)
	}
	kind, value, ok := strings.Cut(message[1:len(message)-1], ":")
	if !ok {
		return nil, fmt.Errorf("%w: missing colon: %#v", ErrInvalidMessage, message)
	}
	return &InfoPushMessage{Message: message, Kind: kind, Value: value}, nil
}

func (m *InfoPushMessage) String() string {
	return m.Message
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// StartupLineExecution
////////////////////////////////////////////////////////////////////////////////////////////////////

// StartupLineExecutionPushMessage echoes a startup block as it is executed, eg ">G54:ok".
type StartupLineExecutionPushMessage struct {
	Message string
}

func (m *StartupLineExecutionPushMessage) String() string {
	return m.Message
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// StatusReport
////////////////////////////////////////////////////////////////////////////////////////////////////

// StatusReport holds all fields from a status report. All but RunState are optional.
type StatusReport struct {
	RunState             RunState
	MachinePosition      *Coordinates
	WorkPosition         *Coordinates
	WorkCoordinateOffset *Coordinates
	Buffer               *BufferState
	LineNumber           *int
	Feed                 *float64
	Speed                *float64
	Pins                 *string
	Overrides            *Overrides
	Accessories          *Accessories
}

func parseInts(dataValues []string, n int) ([]int, error) {
	if len(dataValues) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(dataValues))
	}
	values := make([]int, n)
	for i, dataValue := range dataValues {
		value, err := strconv.Atoi(dataValue)
		if err != nil {
			return nil, fmt.Errorf("invalid integer: %#v", dataValue)
		}
		values[i] = value
	}
	return values, nil
}

func parseFloats(dataValues []string, n int) ([]float64, error) {
	if len(dataValues) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(dataValues))
	}
	values := make([]float64, n)
	for i, dataValue := range dataValues {
		value, err := strconv.ParseFloat(dataValue, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number: %#v", dataValue)
		}
		values[i] = value
	}
	return values, nil
}

func parsePins(value string) (string, error) {
	for _, pin := range value {
		if !strings.ContainsRune("XYZABCPDHRS", pin) {
			return "", fmt.Errorf("unknown pin: %#v", string(pin))
		}
	}
	return value, nil
}

func parseAccessories(value string) (Accessories, error) {
	var accessories Accessories
	for _, accessory := range value {
		switch accessory {
		case 'S':
			accessories.SpindleCW = true
		case 'C':
			accessories.SpindleCCW = true
		case 'F':
			accessories.FloodCoolant = true
		case 'M':
			accessories.MistCoolant = true
		default:
			return Accessories{}, fmt.Errorf("unknown accessory: %#v", string(accessory))
		}
	}
	return accessories, nil
}

//gocyclo:ignore
func (r *StatusReport) parseField(dataType string, dataValues []string) error {
	switch dataType {
	case "MPos", "WPos", "WCO":
		coordinates, err := NewCoordinatesFromStrValues(dataValues)
		if err != nil {
			return err
		}
		switch dataType {
		case "MPos":
			r.MachinePosition = &coordinates
		case "WPos":
			r.WorkPosition = &coordinates
		case "WCO":
			r.WorkCoordinateOffset = &coordinates
		}
	case "Bf":
		values, err := parseInts(dataValues, 2)
		if err != nil {
			return err
		}
		r.Buffer = &BufferState{AvailableBlocks: values[0], AvailableBytes: values[1]}
	case "Ln":
		values, err := parseInts(dataValues, 1)
		if err != nil {
			return err
		}
		r.LineNumber = &values[0]
	case "F":
		values, err := parseFloats(dataValues, 1)
		if err != nil {
			return err
		}
		r.Feed = &values[0]
	case "FS":
		values, err := parseFloats(dataValues, 2)
		if err != nil {
			return err
		}
		r.Feed = &values[0]
		r.Speed = &values[1]
	case "Pn":
		if len(dataValues) != 1 {
			return fmt.Errorf("expected 1 value, got %d", len(dataValues))
		}
		pins, err := parsePins(dataValues[0])
		if err != nil {
			return err
		}
		r.Pins = &pins
	case "Ov":
		values, err := parseInts(dataValues, 3)
		if err != nil {
			return err
		}
		r.Overrides = &Overrides{Feed: values[0], Rapids: values[1], Spindle: values[2]}
	case "A":
		if len(dataValues) != 1 {
			return fmt.Errorf("expected 1 value, got %d", len(dataValues))
		}
		accessories, err := parseAccessories(dataValues[0])
		if err != nil {
			return err
		}
		r.Accessories = &accessories
	}
	// Unknown fields are from newer firmware, and are ignored.
	return nil
}

type StatusReportPushMessage struct {
	Message      string
	StatusReport StatusReport
}

// NewStatusReportPushMessage parses a status report such as
// "<Idle|MPos:0.000,0.000,0.000|FS:0,0|WCO:0.000,0.000,0.000>". Fields after the state may come
// in any order.
func NewStatusReportPushMessage(message string) (*StatusReportPushMessage, error) {
	if !strings.HasPrefix(message, "<") || !strings.HasSuffix(message, ">") {
		return nil, fmt.Errorf("%w: status report not enclosed in <>: %#v", ErrInvalidMessage, message)
	}

	dataFields := strings.Split(message[1:len(message)-1], "|")

	runState, err := NewRunState(dataFields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: status report: %w", ErrInvalidMessage, err)
	}

	statusReportPushMessage := &StatusReportPushMessage{
		Message:      message,
		StatusReport: StatusReport{RunState: runState},
	}

	for _, dataField := range dataFields[1:] {
		dataType, dataValue, ok := strings.Cut(dataField, ":")
		if !ok {
			return nil, fmt.Errorf("%w: status report malformed field: %#v: %#v", ErrInvalidMessage, message, dataField)
		}
		if err := statusReportPushMessage.StatusReport.parseField(dataType, strings.Split(dataValue, ",")); err != nil {
			return nil, fmt.Errorf("%w: status report field %s: %w", ErrInvalidMessage, dataType, err)
		}
	}

	return statusReportPushMessage, nil
}

func (m *StatusReportPushMessage) String() string {
	return m.Message
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Empty
////////////////////////////////////////////////////////////////////////////////////////////////////

type EmptyPushMessage struct{}

func (m *EmptyPushMessage) String() string {
	return "(empty)"
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Parse
////////////////////////////////////////////////////////////////////////////////////////////////////

// ParseMessage parses a single line sent by Grbl, without the line break.
//
//gocyclo:ignore
func ParseMessage(line string) (Message, error) {
	var message Message
	var err error
	switch {
	case line == "":
		message = &EmptyPushMessage{}
	case line == responseOk, strings.HasPrefix(line, responseErrorPrefix):
		message, err = NewResponseMessage(line)
	case strings.HasPrefix(line, "<"):
		message, err = NewStatusReportPushMessage(line)
	case strings.HasPrefix(line, alarmPrefix):
		message, err = NewAlarmPushMessage(line)
	case strings.HasPrefix(line, feedbackPrefix):
		if !strings.HasSuffix(line, "]") {
			return nil, fmt.Errorf("%w: unterminated feedback message: %#v", ErrInvalidMessage, line)
		}
		message = &FeedbackPushMessage{Message: line}
	case strings.HasPrefix(line, "["):
		message, err = NewInfoPushMessage(line)
	case strings.HasPrefix(line, welcomePrefix):
		message, err = NewWelcomePushMessage(line)
	case strings.HasPrefix(line, "$N"):
		message, err = NewStartupBlockPushMessage(line)
	case strings.HasPrefix(line, "$"):
		message, err = NewSettingPushMessage(line)
	case strings.HasPrefix(line, ">"):
		message = &StartupLineExecutionPushMessage{Message: line}
	default:
		return nil, fmt.Errorf("%w: %#v", ErrInvalidMessage, line)
	}
	if err != nil {
		return nil, err
	}
	return message, nil
}

// ParseBufferedMessage parses the first complete line from buf. It returns how many bytes were
// consumed, which includes the line break. When there's no complete line, ErrIncompleteMessage is
// returned and nothing is consumed. Malformed lines are still consumed, so that they can't stall
// parsing.
func ParseBufferedMessage(buf []byte) (Message, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return nil, 0, ErrIncompleteMessage
	}
	line := strings.TrimRight(string(buf[:idx]), "\r")
	message, err := ParseMessage(line)
	return message, idx + 1, err
}
