package toolpath

import (
	"errors"
	"fmt"
	"math"

	"github.com/fornellas/cncsender/gcode"
)

var ErrArcRadiusMismatch = errors.New("arc start and end radius differ")

var ErrArcSegments = errors.New("arc segment count out of bounds")

const (
	// ArcRadiusTolerance is the maximum difference between start and end radius of an arc.
	ArcRadiusTolerance = 0.01
	// ArcSegmentLength is the maximum length of each arc chord.
	ArcSegmentLength = 0.1
	// MaxArcSegments bounds how many segments a single arc can yield.
	MaxArcSegments = 1_000_000
)

// arcSweep returns the angle swept from start to end around the origin, in the given direction
// (-1 clockwise, 1 counter clockwise), within (0, 2π]. Equal start and end vectors are a full
// circle.
func arcSweep(start, end Vector, dir float64) float64 {
	cross := start.X*end.Y - start.Y*end.X
	dot := start.X*end.X + start.Y*end.Y
	angle := dir * math.Atan2(cross, dot)
	if angle <= 0 {
		angle += 2 * math.Pi
	}
	return angle
}

func (i *Interpreter) arc(block *gcode.Block) error {
	dir := 1.0
	if i.state.MotionMode == MotionModeArcCW {
		dir = -1.0
	}
	plane := i.state.Plane

	var offset Vector
	offset.X, _ = block.ValueFor('I')
	offset.Y, _ = block.ValueFor('J')
	offset.Z, _ = block.ValueFor('K')

	end, err := i.target(block)
	if err != nil {
		return err
	}

	start2 := swizzle(i.state.Position, plane)
	end2 := swizzle(end, plane)
	offset2 := swizzle(offset, plane)
	center := Vector{X: start2.X + offset2.X, Y: start2.Y + offset2.Y}

	centerStart := Vector{X: start2.X - center.X, Y: start2.Y - center.Y}
	centerEnd := Vector{X: end2.X - center.X, Y: end2.Y - center.Y}
	radius := centerStart.Length()
	if math.Abs(radius-centerEnd.Length()) > ArcRadiusTolerance {
		return fmt.Errorf(
			"%w: start radius %.4f, end radius %.4f", ErrArcRadiusMismatch, radius, centerEnd.Length(),
		)
	}

	turns := 1.0
	if p, ok := block.ValueFor('P'); ok {
		turns = p
	}
	total := 2*math.Pi*(turns-1) + arcSweep(centerStart, centerEnd, dir)

	segments := math.Ceil(radius * total / ArcSegmentLength)
	if !(segments >= 1 && segments < MaxArcSegments) {
		return fmt.Errorf("%w: %v", ErrArcSegments, segments)
	}

	n := int(segments)
	for s := 1; s <= n; s++ {
		var position Vector
		if s == n {
			position = end
		} else {
			f := float64(s) / segments
			sin, cos := math.Sincos(dir * total * f)
			position = unswizzle(Vector{
				X: center.X + centerStart.X*cos - centerStart.Y*sin,
				Y: center.Y + centerStart.X*sin + centerStart.Y*cos,
				Z: start2.Z + (end2.Z-start2.Z)*f,
			}, plane)
		}
		i.emit(MotionKindLinear, position)
	}
	// Like lines, the move closes with its exact endpoint.
	i.emit(MotionKindLinear, end)

	i.state.Position = end
	return nil
}
