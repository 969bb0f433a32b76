package grbl

import (
	"errors"
	"fmt"
)

var ErrNotRealTimeCommand = errors.New("not a real time command")

// RealTimeCommand is a single byte command, which Grbl picks from the serial stream as soon as it
// is received, regardless of queued lines.
type RealTimeCommand byte

const (
	RealTimeCommandSoftReset         RealTimeCommand = 0x18
	RealTimeCommandStatusReportQuery RealTimeCommand = '?'
	RealTimeCommandCycleStartResume  RealTimeCommand = '~'
	RealTimeCommandFeedHold          RealTimeCommand = '!'
	RealTimeCommandSafetyDoor        RealTimeCommand = 0x84
	RealTimeCommandJogCancel         RealTimeCommand = 0x85

	RealTimeCommandFeedOverrideReset       RealTimeCommand = 0x90
	RealTimeCommandFeedOverrideCoarsePlus  RealTimeCommand = 0x91
	RealTimeCommandFeedOverrideCoarseMinus RealTimeCommand = 0x92
	RealTimeCommandFeedOverrideFinePlus    RealTimeCommand = 0x93
	RealTimeCommandFeedOverrideFineMinus   RealTimeCommand = 0x94

	RealTimeCommandRapidOverrideFull    RealTimeCommand = 0x95
	RealTimeCommandRapidOverrideHalf    RealTimeCommand = 0x96
	RealTimeCommandRapidOverrideQuarter RealTimeCommand = 0x97

	RealTimeCommandSpindleOverrideReset       RealTimeCommand = 0x99
	RealTimeCommandSpindleOverrideCoarsePlus  RealTimeCommand = 0x9A
	RealTimeCommandSpindleOverrideCoarseMinus RealTimeCommand = 0x9B
	RealTimeCommandSpindleOverrideFinePlus    RealTimeCommand = 0x9C
	RealTimeCommandSpindleOverrideFineMinus   RealTimeCommand = 0x9D
	RealTimeCommandToggleSpindleStop          RealTimeCommand = 0x9E

	RealTimeCommandToggleFloodCoolant RealTimeCommand = 0xA0
	RealTimeCommandToggleMistCoolant  RealTimeCommand = 0xA1
)

var realTimeCommandNames = map[RealTimeCommand]string{
	RealTimeCommandSoftReset:                  "soft-reset",
	RealTimeCommandStatusReportQuery:          "status-report-query",
	RealTimeCommandCycleStartResume:           "cycle-start",
	RealTimeCommandFeedHold:                   "feed-hold",
	RealTimeCommandSafetyDoor:                 "safety-door",
	RealTimeCommandJogCancel:                  "jog-cancel",
	RealTimeCommandFeedOverrideReset:          "feed-100",
	RealTimeCommandFeedOverrideCoarsePlus:     "feed+10",
	RealTimeCommandFeedOverrideCoarseMinus:    "feed-10",
	RealTimeCommandFeedOverrideFinePlus:       "feed+1",
	RealTimeCommandFeedOverrideFineMinus:      "feed-1",
	RealTimeCommandRapidOverrideFull:          "rapid-100",
	RealTimeCommandRapidOverrideHalf:          "rapid-50",
	RealTimeCommandRapidOverrideQuarter:       "rapid-25",
	RealTimeCommandSpindleOverrideReset:       "spindle-100",
	RealTimeCommandSpindleOverrideCoarsePlus:  "spindle+10",
	RealTimeCommandSpindleOverrideCoarseMinus: "spindle-10",
	RealTimeCommandSpindleOverrideFinePlus:    "spindle+1",
	RealTimeCommandSpindleOverrideFineMinus:   "spindle-1",
	RealTimeCommandToggleSpindleStop:          "spindle-stop",
	RealTimeCommandToggleFloodCoolant:         "flood",
	RealTimeCommandToggleMistCoolant:          "mist",
}

// NewRealTimeCommand validates the byte as a known real time command.
func NewRealTimeCommand(b byte) (RealTimeCommand, error) {
	rtc := RealTimeCommand(b)
	if _, ok := realTimeCommandNames[rtc]; ok {
		return rtc, nil
	}
	return 0, fmt.Errorf("%w: %#02x", ErrNotRealTimeCommand, b)
}

// ParseRealTimeCommand returns the command for names as returned by String.
func ParseRealTimeCommand(name string) (RealTimeCommand, error) {
	for rtc, rtcName := range realTimeCommandNames {
		if rtcName == name {
			return rtc, nil
		}
	}
	return 0, fmt.Errorf("%w: %#v", ErrNotRealTimeCommand, name)
}

// RealTimeCommandNames returns the names of all real time commands, sorted by byte value.
func RealTimeCommandNames() []string {
	names := []string{}
	for b := 0; b < 256; b++ {
		if name, ok := realTimeCommandNames[RealTimeCommand(b)]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (c RealTimeCommand) String() string {
	if name, ok := realTimeCommandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%#02x)", byte(c))
}
