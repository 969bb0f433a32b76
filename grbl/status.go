package grbl

import (
	"fmt"
	"strconv"
	"strings"
)

type State string

const (
	StateIdle  State = "Idle"
	StateRun   State = "Run"
	StateHold  State = "Hold"
	StateJog   State = "Jog"
	StateAlarm State = "Alarm"
	StateDoor  State = "Door"
	StateCheck State = "Check"
	StateHome  State = "Home"
	StateSleep State = "Sleep"
	// StateUnknown is the state before the first status report.
	StateUnknown State = ""
)

var knownStates = map[State]bool{
	StateIdle:  true,
	StateRun:   true,
	StateHold:  true,
	StateJog:   true,
	StateAlarm: true,
	StateDoor:  true,
	StateCheck: true,
	StateHome:  true,
	StateSleep: true,
}

// RunState is the machine state along with its sub state code, which is only meaningful for Hold
// and Door:
//   - Hold:0 Hold complete. Ready to resume.
//   - Hold:1 Hold in-progress. Reset will throw an alarm.
//   - Door:0 Door closed. Ready to resume.
//   - Door:1 Machine stopped. Door still ajar. Can't resume until closed.
//   - Door:2 Door opened. Hold (or parking retract) in-progress. Reset will throw an alarm.
//   - Door:3 Door closed and resuming. Restoring from park, if applicable. Reset will throw an alarm.
type RunState struct {
	State    State
	SubState int
}

// NewRunState parses a status report state token, such as "Idle" or "Door:1".
func NewRunState(token string) (RunState, error) {
	name, subStateStr, hasSubState := strings.Cut(token, ":")
	state := State(name)
	if !knownStates[state] {
		return RunState{}, fmt.Errorf("unknown machine state: %#v", token)
	}
	runState := RunState{State: state}
	if hasSubState {
		if state != StateHold && state != StateDoor {
			return RunState{}, fmt.Errorf("machine state %s can not have sub state: %#v", state, token)
		}
		subState, err := strconv.Atoi(subStateStr)
		if err != nil {
			return RunState{}, fmt.Errorf("machine state sub state invalid: %#v", token)
		}
		runState.SubState = subState
	}
	return runState, nil
}

// SubStateString describes the sub state of Hold and Door states.
func (r RunState) SubStateString() string {
	switch r.State {
	case StateHold:
		switch r.SubState {
		case 0:
			return "complete"
		case 1:
			return "in-progress"
		}
	case StateDoor:
		switch r.SubState {
		case 0:
			return "closed"
		case 1:
			return "ajar"
		case 2:
			return "opened"
		case 3:
			return "resuming"
		}
	default:
		return ""
	}
	return fmt.Sprintf("unknown (%d)", r.SubState)
}

func (r RunState) String() string {
	if r.State == StateHold || r.State == StateDoor {
		return fmt.Sprintf("%s:%d", r.State, r.SubState)
	}
	if r.State == StateUnknown {
		return "Unknown"
	}
	return string(r.State)
}

type BufferState struct {
	// Number of available blocks in the planner buffer
	AvailableBlocks int
	// Number of available bytes in the serial RX buffer
	AvailableBytes int
}

// Overrides are the current override values, in percent of programmed values.
type Overrides struct {
	Feed    int
	Rapids  int
	Spindle int
}

// Accessories holds the spindle direction and coolant flags.
type Accessories struct {
	SpindleCW    bool
	SpindleCCW   bool
	FloodCoolant bool
	MistCoolant  bool
}

// MachineStatus is the live state of the machine, as built from status reports.
type MachineStatus struct {
	RunState        RunState
	MachinePosition Coordinates
	// WorkCoordinateOffset is the sum of the current work coordinate system, G92 offsets, and G43.1
	// tool length offset.
	WorkCoordinateOffset Coordinates
	Buffer               BufferState
	LineNumber           int
	Feed                 float64
	Speed                float64
	Overrides            Overrides
	// Pins holds the letters of the input pins detected as triggered.
	Pins        string
	Accessories Accessories
}

// NewMachineStatus returns the status before any report is received.
func NewMachineStatus() MachineStatus {
	return MachineStatus{
		Overrides: Overrides{Feed: 100, Rapids: 100, Spindle: 100},
	}
}

// WorkPosition is the machine position relative to the work coordinate offset.
func (s MachineStatus) WorkPosition() Coordinates {
	return s.MachinePosition.Sub(s.WorkCoordinateOffset)
}

// Clone returns a deep copy.
func (s MachineStatus) Clone() MachineStatus {
	s.MachinePosition = s.MachinePosition.Clone()
	s.WorkCoordinateOffset = s.WorkCoordinateOffset.Clone()
	return s
}

// Apply returns a new status with all fields from the report applied. Work positions are converted
// to machine positions with the work coordinate offset, either from the same report, or the last
// known one.
func (s MachineStatus) Apply(report *StatusReport) MachineStatus {
	s = s.Clone()
	s.RunState = report.RunState
	if report.WorkCoordinateOffset != nil {
		s.WorkCoordinateOffset = report.WorkCoordinateOffset.Clone()
	}
	if report.MachinePosition != nil {
		s.MachinePosition = report.MachinePosition.Clone()
	}
	if report.WorkPosition != nil {
		s.MachinePosition = report.WorkPosition.Add(s.WorkCoordinateOffset)
	}
	if report.Buffer != nil {
		s.Buffer = *report.Buffer
	}
	if report.LineNumber != nil {
		s.LineNumber = *report.LineNumber
	}
	if report.Feed != nil {
		s.Feed = *report.Feed
	}
	if report.Speed != nil {
		s.Speed = *report.Speed
	}
	if report.Pins != nil {
		s.Pins = *report.Pins
	} else {
		s.Pins = ""
	}
	if report.Overrides != nil {
		s.Overrides = *report.Overrides
		// Accessories are only reported along with overrides, and omitted when all off.
		s.Accessories = Accessories{}
	}
	if report.Accessories != nil {
		s.Accessories = *report.Accessories
	}
	return s
}
