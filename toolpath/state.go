package toolpath

import "fmt"

type MotionMode int

const (
	MotionModeRapid MotionMode = iota
	MotionModeLinear
	MotionModeArcCW
	MotionModeArcCCW
)

var motionModeStrings = map[MotionMode]string{
	MotionModeRapid:  "G0",
	MotionModeLinear: "G1",
	MotionModeArcCW:  "G2",
	MotionModeArcCCW: "G3",
}

func (m MotionMode) String() string {
	if s, ok := motionModeStrings[m]; ok {
		return s
	}
	panic(fmt.Sprintf("bug: unexpected MotionMode: %d", m))
}

type DistanceMode int

const (
	DistanceModeAbsolute DistanceMode = iota
	DistanceModeRelative
)

func (d DistanceMode) String() string {
	switch d {
	case DistanceModeAbsolute:
		return "G90"
	case DistanceModeRelative:
		return "G91"
	}
	panic(fmt.Sprintf("bug: unexpected DistanceMode: %d", d))
}

type Plane int

const (
	PlaneXY Plane = iota
	PlaneXZ
	PlaneYZ
)

func (p Plane) String() string {
	switch p {
	case PlaneXY:
		return "G17"
	case PlaneXZ:
		return "G18"
	case PlaneYZ:
		return "G19"
	}
	panic(fmt.Sprintf("bug: unexpected Plane: %d", p))
}

type SpindleMode int

const (
	SpindleModeOff SpindleMode = iota
	SpindleModeCW
	SpindleModeCCW
)

func (s SpindleMode) String() string {
	switch s {
	case SpindleModeOff:
		return "M5"
	case SpindleModeCW:
		return "M3"
	case SpindleModeCCW:
		return "M4"
	}
	panic(fmt.Sprintf("bug: unexpected SpindleMode: %d", s))
}

type Coolant struct {
	Mist  bool
	Flood bool
}

// State is the modal state of the interpreter. It persists across lines until explicitly changed.
type State struct {
	MotionMode   MotionMode
	DistanceMode DistanceMode
	Plane        Plane
	Position     Vector
	// CoordinateSystem is the selected work coordinate system, 1 (G54) to 6 (G59).
	CoordinateSystem int
	// CoordinateOffset is the offset of the selected coordinate system. Offsets are held by the
	// firmware, so this is only tracked, and not applied to positions.
	CoordinateOffset Vector
	FeedRate         float64
	SpindleSpeed     float64
	Spindle          SpindleMode
	Coolant          Coolant
}

// NewState returns the power on state: rapid motion, absolute distances at the XY plane, at the
// origin.
func NewState() *State {
	return &State{
		MotionMode:       MotionModeRapid,
		DistanceMode:     DistanceModeAbsolute,
		Plane:            PlaneXY,
		CoordinateSystem: 1,
		Spindle:          SpindleModeOff,
	}
}
