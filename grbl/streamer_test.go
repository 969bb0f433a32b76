package grbl

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const (
	eventuallyWait = 5 * time.Second
	eventuallyTick = time.Millisecond
)

func startTestStreamer(t *testing.T, port *fakePort, options StreamerOptions) *Streamer {
	streamer, err := NewStreamer(newTestConnection(t, port), options)
	require.NoError(t, err)
	streamer.Start(testContext(t))
	t.Cleanup(func() {
		require.NoError(t, streamer.Stop())
	})
	return streamer
}

func TestStreamerStartProgram(t *testing.T) {
	port := newFakePort()
	registry := prometheus.NewRegistry()
	streamer := startTestStreamer(t, port, StreamerOptions{Registerer: registry})

	lines := []string{}
	for i := range 20 {
		lines = append(lines, fmt.Sprintf("G1 X%d F1000", i))
	}
	require.NoError(t, streamer.StartProgram(lines))

	require.Eventually(t, func() bool {
		return !streamer.HasProgram()
	}, eventuallyWait, eventuallyTick)
	require.Equal(t, len(lines), streamer.Line())
	require.Equal(t, lines, port.Lines())
	require.Equal(t, float64(len(lines)), testutil.ToFloat64(streamer.metrics.linesSent))
	require.Equal(t, float64(len(lines)), testutil.ToFloat64(streamer.metrics.programLine))
	require.Zero(t, testutil.ToFloat64(streamer.metrics.programRunning))

	// available for a new program
	require.NoError(t, streamer.StartProgram([]string{"G0 X0\n"}))
	require.Eventually(t, func() bool {
		return !streamer.HasProgram()
	}, eventuallyWait, eventuallyTick)
	require.Equal(t, 1, streamer.Line())
	require.Equal(t, "G0 X0", port.Lines()[len(lines)])
}

func TestStreamerProgramRunning(t *testing.T) {
	port := newFakePort()
	port.silent = true
	streamer := startTestStreamer(t, port, StreamerOptions{})

	require.NoError(t, streamer.StartProgram([]string{"G1 X1 F100", "G1 X2 F100"}))
	require.True(t, streamer.HasProgram())

	require.ErrorIs(t, streamer.StartProgram([]string{"G0 X0"}), ErrProgramRunning)
	require.ErrorIs(t, streamer.ValidateProgram([]string{"G0 X0"}), ErrProgramRunning)
	require.ErrorIs(t, streamer.SendCommand(SystemCommandHome), ErrProgramRunning)
	require.ErrorIs(t, streamer.SendString("G0 X0"), ErrProgramRunning)

	require.Eventually(t, func() bool {
		return streamer.Line() == 1
	}, eventuallyWait, eventuallyTick)
	// no response, so the next line is not sent
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []string{"G1 X1 F100"}, port.Lines())

	require.NoError(t, streamer.SendRealTimeCommand(RealTimeCommandFeedHold))
	require.Eventually(t, func() bool {
		return slices.Contains(port.RealTimeCommands(), RealTimeCommandFeedHold)
	}, eventuallyWait, eventuallyTick)

	require.NoError(t, streamer.StopProgram())
	require.Eventually(t, func() bool {
		return !streamer.HasProgram()
	}, eventuallyWait, eventuallyTick)
	require.NoError(t, streamer.SendCommand(SystemCommandHome))
	require.Eventually(t, func() bool {
		return slices.Contains(port.Lines(), "$H")
	}, eventuallyWait, eventuallyTick)
}

func TestStreamerStopProgramBeforeStart(t *testing.T) {
	port := newFakePort()
	port.silent = true
	streamer, err := NewStreamer(newTestConnection(t, port), StreamerOptions{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, streamer.Stop())
	})

	// queued before the program, so it must not stop it
	require.NoError(t, streamer.StopProgram())
	require.NoError(t, streamer.StartProgram([]string{"G1 X1 F100", "G1 X2 F100"}))
	streamer.Start(testContext(t))

	require.Eventually(t, func() bool {
		return streamer.Line() == 1
	}, eventuallyWait, eventuallyTick)
	require.True(t, streamer.HasProgram())
	require.ErrorIs(t, streamer.SendCommand(SystemCommandHome), ErrProgramRunning)
	time.Sleep(20 * time.Millisecond)
	require.True(t, streamer.HasProgram())
	require.Equal(t, []string{"G1 X1 F100"}, port.Lines())
}

func TestStreamerPause(t *testing.T) {
	port := newFakePort()
	streamer := startTestStreamer(t, port, StreamerOptions{})

	streamer.Pause()
	require.True(t, streamer.Paused())
	// starting a program unpauses
	require.NoError(t, streamer.StartProgram([]string{"G0 X1", "G0 X2", "G0 X3"}))
	require.False(t, streamer.Paused())
	streamer.Pause()

	time.Sleep(20 * time.Millisecond)
	sent := streamer.Line()
	require.Less(t, sent, 3)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, sent, streamer.Line())
	require.True(t, streamer.HasProgram())

	streamer.Unpause()
	require.Eventually(t, func() bool {
		return !streamer.HasProgram()
	}, eventuallyWait, eventuallyTick)
	require.Equal(t, []string{"G0 X1", "G0 X2", "G0 X3"}, port.Lines())
}

func TestStreamerValidateProgram(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		port := newFakePort()
		streamer := startTestStreamer(t, port, StreamerOptions{})

		require.NoError(t, streamer.ValidateProgram([]string{"G0 X1", "G0 X2"}))
		require.Eventually(t, func() bool {
			return !streamer.HasProgram()
		}, eventuallyWait, eventuallyTick)
		require.Eventually(t, func() bool {
			return len(port.Lines()) == 4
		}, eventuallyWait, eventuallyTick)
		require.Equal(t, []string{"$C", "G0 X1", "G0 X2", "$C"}, port.Lines())
		require.Equal(t, 2, streamer.Line())
	})

	t.Run("invalid", func(t *testing.T) {
		port := newFakePort()
		port.errorLines["G5"] = 20
		streamer := startTestStreamer(t, port, StreamerOptions{})

		require.NoError(t, streamer.ValidateProgram([]string{"G0 X1", "G5", "G0 X2"}))
		require.Eventually(t, func() bool {
			return !streamer.HasProgram()
		}, eventuallyWait, eventuallyTick)
		require.Eventually(t, func() bool {
			return len(port.Lines()) == 4
		}, eventuallyWait, eventuallyTick)
		require.Equal(t, []string{"$C", "G0 X1", "G5", "$C"}, port.Lines())
		require.Equal(t, 2, streamer.Line())
	})

	t.Run("after earlier error in check mode", func(t *testing.T) {
		port := newFakePort()
		port.errorLines["BAD"] = 20
		streamer, err := NewStreamer(newTestConnection(t, port), StreamerOptions{StatusInterval: 5 * time.Millisecond})
		require.NoError(t, err)
		events := streamer.Subscribe("test", 10)
		streamer.Start(testContext(t))
		t.Cleanup(func() {
			require.NoError(t, streamer.Stop())
		})

		require.NoError(t, streamer.SendCommand(SystemCommandCheckMode))
		require.Eventually(t, func() bool {
			return streamer.Status().RunState.State == StateCheck
		}, eventuallyWait, eventuallyTick)

		require.NoError(t, streamer.SendString("BAD"))
		for response := false; !response; {
			select {
			case message := <-events:
				// check mode feedback is also published
				_, response = message.(*ResponseMessage)
			case <-time.After(eventuallyWait):
				require.FailNow(t, "error response not received")
			}
		}

		require.NoError(t, streamer.ValidateProgram([]string{"G0 X1", "G0 X2"}))
		require.Eventually(t, func() bool {
			return !streamer.HasProgram()
		}, eventuallyWait, eventuallyTick)
		require.Eventually(t, func() bool {
			return len(port.Lines()) == 5
		}, eventuallyWait, eventuallyTick)
		require.Equal(t, []string{"$C", "BAD", "G0 X1", "G0 X2", "$C"}, port.Lines())
		require.Equal(t, 2, streamer.Line())
	})
}

func TestStreamerStatus(t *testing.T) {
	port := newFakePort()
	port.SetStatus("MPos:1.000,2.000,3.000|WCO:1.000,0.000,0.000|Ov:100,100,100")
	streamer := startTestStreamer(t, port, StreamerOptions{StatusInterval: 5 * time.Millisecond})

	require.Eventually(t, func() bool {
		return streamer.Status().RunState.State == StateIdle
	}, eventuallyWait, eventuallyTick)
	status := streamer.Status()
	require.Equal(t, Coordinates{X: 1, Y: 2, Z: 3}, status.MachinePosition)
	require.Equal(t, Coordinates{X: 0, Y: 2, Z: 3}, status.WorkPosition())

	port.SetStatus("MPos:4.000,5.000,6.000")
	require.Eventually(t, func() bool {
		return streamer.Status().MachinePosition.X == 4
	}, eventuallyWait, eventuallyTick)

	queries := 0
	for _, rtc := range port.RealTimeCommands() {
		if rtc == RealTimeCommandStatusReportQuery {
			queries++
		}
	}
	require.GreaterOrEqual(t, queries, 2)
}

func TestStreamerSettings(t *testing.T) {
	port := newFakePort()
	streamer := startTestStreamer(t, port, StreamerOptions{})
	require.Zero(t, streamer.Settings().Len())

	require.NoError(t, streamer.SendCommand(SystemCommandViewSettings))
	require.Eventually(t, func() bool {
		return slices.Contains(port.Lines(), "$$")
	}, eventuallyWait, eventuallyTick)
	port.Push("$0=10", "$110=5000.000")

	require.Eventually(t, func() bool {
		return streamer.Settings().Len() == 2
	}, eventuallyWait, eventuallyTick)
	value, ok := streamer.Settings().Value(110)
	require.True(t, ok)
	require.Equal(t, 5000.0, value)
}

func TestStreamerEvents(t *testing.T) {
	port := newFakePort()
	port.errorLines["G5"] = 20
	streamer, err := NewStreamer(newTestConnection(t, port), StreamerOptions{})
	require.NoError(t, err)
	events := streamer.Subscribe("test", 10)
	streamer.Start(testContext(t))

	receive := func() Message {
		select {
		case message := <-events:
			return message
		case <-time.After(eventuallyWait):
			require.FailNow(t, "event not received")
			return nil
		}
	}

	port.Push("ALARM:1")
	require.Equal(t, &AlarmPushMessage{Message: "ALARM:1", Code: 1}, receive())
	require.Eventually(t, func() bool {
		return streamer.Alarm() != nil
	}, eventuallyWait, eventuallyTick)
	require.Equal(t, 1, streamer.Alarm().Code)

	port.Push("[MSG:Reset to continue]")
	require.Equal(t, &FeedbackPushMessage{Message: "[MSG:Reset to continue]"}, receive())

	require.NoError(t, streamer.SendString("G5"))
	require.Equal(t, &ResponseMessage{Message: "error:20", Code: 20}, receive())

	require.NoError(t, streamer.SendRealTimeCommand(RealTimeCommandSoftReset))
	require.IsType(t, &WelcomePushMessage{}, receive())
	require.Eventually(t, func() bool {
		return streamer.Alarm() == nil
	}, eventuallyWait, eventuallyTick)

	require.NoError(t, streamer.Stop())
	_, ok := <-events
	require.False(t, ok)
}

func TestStreamerStop(t *testing.T) {
	port := newFakePort()
	streamer, err := NewStreamer(newTestConnection(t, port), StreamerOptions{})
	require.NoError(t, err)
	streamer.Start(testContext(t))

	require.NoError(t, streamer.Stop())
	require.True(t, port.Closed())
	select {
	case <-streamer.Done():
	default:
		require.FailNow(t, "not done after stop")
	}

	require.ErrorIs(t, streamer.StartProgram([]string{"G0 X1"}), ErrStreamerStopped)
	require.False(t, streamer.HasProgram())
	require.ErrorIs(t, streamer.SendCommand(SystemCommandHome), ErrStreamerStopped)
	require.ErrorIs(t, streamer.SendRealTimeCommand(RealTimeCommandFeedHold), ErrStreamerStopped)
	require.ErrorIs(t, streamer.StopProgram(), ErrStreamerStopped)
}

func TestStreamerStopNotStarted(t *testing.T) {
	port := newFakePort()
	streamer, err := NewStreamer(newTestConnection(t, port), StreamerOptions{})
	require.NoError(t, err)
	require.NoError(t, streamer.Stop())
	require.True(t, port.Closed())
}

func TestStreamerIOError(t *testing.T) {
	port := newFakePort()
	streamer, err := NewStreamer(newTestConnection(t, port), StreamerOptions{})
	require.NoError(t, err)
	require.NoError(t, streamer.StartProgram([]string{"G0 X1"}))

	port.SetReadError(fmt.Errorf("unplugged"))
	err = streamer.Run(testContext(t))
	require.ErrorContains(t, err, "unplugged")
	require.False(t, streamer.HasProgram())
	require.True(t, port.Closed())
	require.ErrorContains(t, streamer.Stop(), "unplugged")
}
