package grbl

import (
	"fmt"
	"strconv"

	iFmt "github.com/fornellas/cncsender/internal/fmt"
)

// Coordinates as reported by Grbl. A is only present on 4 axis builds.
type Coordinates struct {
	X float64
	Y float64
	Z float64
	A *float64
}

var axisNames = []string{"X", "Y", "Z", "A"}

// NewCoordinatesFromStrValues parses string values for X, Y, Z and A (optional).
func NewCoordinatesFromStrValues(dataValues []string) (Coordinates, error) {
	if len(dataValues) < 3 || len(dataValues) > 4 {
		return Coordinates{}, fmt.Errorf("coordinates malformed: %#v", dataValues)
	}
	var values [4]float64
	for i, dataValue := range dataValues {
		value, err := strconv.ParseFloat(dataValue, 64)
		if err != nil {
			return Coordinates{}, fmt.Errorf("coordinates %s invalid: %#v", axisNames[i], dataValue)
		}
		values[i] = value
	}
	coordinates := Coordinates{X: values[0], Y: values[1], Z: values[2]}
	if len(dataValues) == 4 {
		coordinates.A = &values[3]
	}
	return coordinates, nil
}

func addOptional(a, b *float64, sign float64) *float64 {
	if a == nil && b == nil {
		return nil
	}
	var v float64
	if a != nil {
		v = *a
	}
	if b != nil {
		v += sign * *b
	}
	return &v
}

// Add returns the sum of both coordinates.
func (c Coordinates) Add(o Coordinates) Coordinates {
	return Coordinates{
		X: c.X + o.X,
		Y: c.Y + o.Y,
		Z: c.Z + o.Z,
		A: addOptional(c.A, o.A, 1),
	}
}

// Sub returns c minus o.
func (c Coordinates) Sub(o Coordinates) Coordinates {
	return Coordinates{
		X: c.X - o.X,
		Y: c.Y - o.Y,
		Z: c.Z - o.Z,
		A: addOptional(c.A, o.A, -1),
	}
}

// Clone returns a deep copy.
func (c Coordinates) Clone() Coordinates {
	if c.A != nil {
		a := *c.A
		c.A = &a
	}
	return c
}

func (c Coordinates) String() string {
	s := fmt.Sprintf(
		"X:%s Y:%s Z:%s",
		iFmt.SprintFloat(c.X, 3), iFmt.SprintFloat(c.Y, 3), iFmt.SprintFloat(c.Z, 3),
	)
	if c.A != nil {
		s += fmt.Sprintf(" A:%s", iFmt.SprintFloat(*c.A, 3))
	}
	return s
}
