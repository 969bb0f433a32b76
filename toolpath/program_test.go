package toolpath

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLoadProgram(t *testing.T) {
	text := "(square)\nG90 G1 X10 F300 ; first side\n\nY10\n$H\n"
	program, err := LoadProgram(testContext(t), "square.nc", text)
	require.NoError(t, err)

	require.NotEqual(t, uuid.Nil, program.ID)
	require.Equal(t, "square.nc", program.Path)
	require.Equal(t, text, program.Text)
	require.Equal(t, []string{"G90G1X10F300", "Y10", "$H"}, program.Lines())
	require.Len(t, program.Segments, 7)
	require.InDelta(t, 20/TraversalSpeed, program.Duration(), 1e-9)
}

func TestLoadProgramError(t *testing.T) {
	_, err := LoadProgram(testContext(t), "bad.nc", "G20\nG1 X1\n")
	require.ErrorIs(t, err, ErrUnimplemented)
	require.ErrorContains(t, err, "bad.nc")
}

func TestProgramList(t *testing.T) {
	list := NewProgramList()

	first, err := LoadProgram(testContext(t), "first.nc", "G0 X1\n")
	require.NoError(t, err)
	second, err := LoadProgram(testContext(t), "second.nc", "G0 X2\n")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	list.Add(first)
	list.Add(second)
	require.Equal(t, []*Program{first, second}, list.Programs())

	program, ok := list.Get(second.ID)
	require.True(t, ok)
	require.Same(t, second, program)

	require.True(t, list.Remove(first.ID))
	require.False(t, list.Remove(first.ID))
	_, ok = list.Get(first.ID)
	require.False(t, ok)
	require.Equal(t, []*Program{second}, list.Programs())
}

func TestVectorSwizzle(t *testing.T) {
	v := Vector{X: 1, Y: 2, Z: 3}
	for _, plane := range []Plane{PlaneXY, PlaneXZ, PlaneYZ} {
		t.Run(plane.String(), func(t *testing.T) {
			require.Equal(t, v, unswizzle(swizzle(v, plane), plane))
		})
	}
	require.Equal(t, Vector{X: 3, Y: 1, Z: 2}, swizzle(v, PlaneXZ))
	require.Equal(t, Vector{X: 2, Y: 3, Z: 1}, swizzle(v, PlaneYZ))
}
