package toolpath

import "fmt"

type MotionKind int

const (
	MotionKindRapid MotionKind = iota
	MotionKindLinear
)

func (k MotionKind) String() string {
	switch k {
	case MotionKindRapid:
		return "rapid"
	case MotionKindLinear:
		return "linear"
	}
	panic(fmt.Sprintf("bug: unexpected MotionKind: %d", k))
}

// MotionSegment is a point of the toolpath. Arcs are broken down into linear segments.
type MotionSegment struct {
	Kind     MotionKind
	Position Vector
	// Time is the offset in seconds from the start of the program, assuming all motion happens at
	// TraversalSpeed.
	Time float64
}

// TraversalSpeed is the assumed speed, in units per second, used to compute segment times.
const TraversalSpeed = 400.0

// setTimes fills in the cumulative time for each segment.
func setTimes(segments []MotionSegment) {
	var length float64
	for i := range segments {
		if i > 0 {
			length += segments[i].Position.Sub(segments[i-1].Position).Length()
		}
		segments[i].Time = length / TraversalSpeed
	}
}
