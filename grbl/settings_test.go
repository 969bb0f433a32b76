package grbl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingDefinitions(t *testing.T) {
	require.Len(t, SettingDefinitions, 34)
	numbers := map[int]bool{}
	last := -1
	for _, definition := range SettingDefinitions {
		require.False(t, numbers[definition.Number], "duplicated $%d", definition.Number)
		numbers[definition.Number] = true
		require.Greater(t, definition.Number, last, "out of order $%d", definition.Number)
		last = definition.Number
	}
	// no gap at 30
	for _, number := range []int{30, 31, 32} {
		definition, err := GetSettingDefinition(number)
		require.NoError(t, err)
		require.Equal(t, number, definition.Number)
	}
	_, err := GetSettingDefinition(7)
	require.ErrorIs(t, err, ErrUnknownSetting)
}

func TestSettings(t *testing.T) {
	settings := NewSettings()
	require.Zero(t, settings.Len())
	_, ok := settings.Value(100)
	require.False(t, ok)

	require.NoError(t, settings.Set(0, "10"))
	require.NoError(t, settings.Set(3, "5"))
	require.NoError(t, settings.Set(10, "1"))
	require.NoError(t, settings.Set(22, "1"))
	require.NoError(t, settings.Set(100, "250.000"))
	require.NoError(t, settings.Set(130, "200.5"))
	require.Equal(t, 6, settings.Len())

	value, ok := settings.Value(100)
	require.True(t, ok)
	require.Equal(t, 250.0, value)

	axisMask, ok := settings.AxisMask(3)
	require.True(t, ok)
	require.Equal(t, AxisMaskX|AxisMaskZ, axisMask)
	require.Equal(t, "XZ", axisMask.String())
	require.Equal(t, "none", AxisMask(0).String())

	statusReportMask, ok := settings.StatusReportMask()
	require.True(t, ok)
	require.Equal(t, StatusReportMaskMachinePosition, statusReportMask)
	require.Equal(t, "MPos", statusReportMask.String())
	require.Equal(t, "WPos,Bf", StatusReportMaskBufferData.String())

	homing, ok := settings.Bool(22)
	require.True(t, ok)
	require.True(t, homing)

	clone := settings.Clone()
	require.NoError(t, settings.Set(100, "80"))
	value, _ = clone.Value(100)
	require.Equal(t, 250.0, value)

	require.Equal(t, []SettingCommand{
		{Number: 0, Value: "10"},
		{Number: 3, Value: "5"},
		{Number: 10, Value: "1"},
		{Number: 22, Value: "1"},
		{Number: 100, Value: "80.000000"},
		{Number: 130, Value: "200.500000"},
	}, settings.Commands())

	command, err := settings.Command(130)
	require.NoError(t, err)
	require.Equal(t, "$130=200.500000", command.Line())

	_, err = settings.Command(131)
	require.Error(t, err)
}

func TestSettingsSetInvalid(t *testing.T) {
	settings := NewSettings()
	for _, tc := range []struct {
		number int
		value  string
	}{
		{7, "1"},
		{0, "x"},
		{0, "1.5"},
		{0, "-1"},
		{1, "256"},
		{4, "2"},
		{2, "8"},
		{10, "4"},
		{100, ""},
	} {
		err := settings.Set(tc.number, tc.value)
		require.Error(t, err, "$%d=%s", tc.number, tc.value)
	}
	require.ErrorIs(t, settings.Set(7, "1"), ErrUnknownSetting)
	require.Zero(t, settings.Len())
}

func TestNewSettingCommand(t *testing.T) {
	command, err := NewSettingCommand(110, 5000)
	require.NoError(t, err)
	require.Equal(t, "$110=5000.000000", command.Line())

	command, err = NewSettingCommand(23, float64(AxisMaskY|AxisMaskZ))
	require.NoError(t, err)
	require.Equal(t, "$23=6", command.Line())

	_, err = NewSettingCommand(21, 3)
	require.Error(t, err)

	_, err = NewSettingCommand(99, 1)
	require.ErrorIs(t, err, ErrUnknownSetting)
}
