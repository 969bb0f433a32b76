package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fornellas/slogxt/log"
	"github.com/stretchr/testify/require"

	"github.com/fornellas/cncsender/grbl"
	"github.com/fornellas/cncsender/toolpath"
)

func testContext(t *testing.T) context.Context {
	return log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))
}

// run executes the root command with args, returning its output and exit code.
func run(t *testing.T, args ...string) (string, int) {
	ResetFlags()
	exitCode := 0
	Exit = func(code int) {
		exitCode = code
	}
	t.Cleanup(func() {
		ResetFlags()
		RootCmd.SetArgs(nil)
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
	})

	var stdout, stderr bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	RootCmd.SetArgs(args)
	require.NoError(t, RootCmd.ExecuteContext(t.Context()), stderr.String())
	return stdout.String(), exitCode
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readFile(t *testing.T, path string) string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

const testProgram = "(square)\nG90 G1 X10 F300 ; first side\n\nY10\nX0\nY0\n"

func TestCompactCmd(t *testing.T) {
	path := writeFile(t, "square.nc", testProgram)
	output := filepath.Join(t.TempDir(), "compact.nc")

	_, exitCode := run(t, "compact", "--output", output, path)
	require.Zero(t, exitCode)
	require.Equal(t, "G90G1X10F300\nY10\nX0\nY0\n", readFile(t, output))
}

func TestToolpathCmd(t *testing.T) {
	path := writeFile(t, "square.nc", testProgram)
	output := filepath.Join(t.TempDir(), "toolpath.csv")

	_, exitCode := run(t, "toolpath", "--output", output, path)
	require.Zero(t, exitCode)

	records, err := csv.NewReader(strings.NewReader(readFile(t, output))).ReadAll()
	require.NoError(t, err)
	program, err := toolpath.LoadProgram(testContext(t), path, testProgram)
	require.NoError(t, err)
	require.Len(t, records, len(program.Segments)+1)
	require.Equal(t, []string{"kind", "x", "y", "z", "time"}, records[0])
	last := records[len(records)-1]
	require.Equal(t, []string{"linear", "0", "0", "0"}, last[:4])
}

func TestToolpathCmdError(t *testing.T) {
	path := writeFile(t, "bad.nc", "G20\nG1 X1\n")
	_, exitCode := run(t, "toolpath", "--output", filepath.Join(t.TempDir(), "out.csv"), path)
	require.Equal(t, 1, exitCode)
}

func TestParseSettingsFile(t *testing.T) {
	commands, err := parseSettingsFile(strings.NewReader(
		"; saved settings\n$0=10\n\n$110=5000.000\n$N0=G54 G21\n",
	))
	require.NoError(t, err)
	require.Equal(t, []grbl.Command{
		grbl.SettingCommand{Number: 0, Value: "10"},
		grbl.SettingCommand{Number: 110, Value: "5000.000000"},
		grbl.StartupBlockCommand{Index: 0, Block: "G54 G21"},
	}, commands)

	for _, content := range []string{
		"$7=1\n",
		"$0=1.5\n",
		"G0 X1\n",
		"ok\n",
	} {
		_, err := parseSettingsFile(strings.NewReader(content))
		require.Error(t, err, content)
	}
}

// fakeGrbl serves a single TCP connection emulating Grbl: lines get ok, status queries get an Idle
// status report and soft resets get the welcome message.
type fakeGrbl struct {
	mu    sync.Mutex
	lines []string
}

func (g *fakeGrbl) Lines() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.lines...)
}

func (g *fakeGrbl) serve(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 256)
	line := []byte{}
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			var reply string
			switch b {
			case byte(grbl.RealTimeCommandStatusReportQuery):
				reply = "<Idle|MPos:0.000,0.000,0.000|FS:0,0>\r\n"
			case byte(grbl.RealTimeCommandSoftReset):
				reply = "\r\nGrbl 1.1h ['$' for help]\r\n"
			case '\n':
				g.mu.Lock()
				g.lines = append(g.lines, string(line))
				g.mu.Unlock()
				reply = "ok\r\n"
				if strings.HasPrefix(string(line), "$$") {
					reply = "$0=10\r\n$110=5000.000\r\nok\r\n"
				}
				line = line[:0]
			default:
				line = append(line, b)
			}
			if reply != "" {
				if _, err := conn.Write([]byte(reply)); err != nil {
					return
				}
			}
		}
	}
}

func listenFakeGrbl(t *testing.T) (string, *fakeGrbl) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	g := &fakeGrbl{}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go g.serve(conn)
		}
	}()
	return listener.Addr().String(), g
}

func TestStreamCmd(t *testing.T) {
	address, g := listenFakeGrbl(t)
	path := writeFile(t, "square.nc", testProgram)

	_, exitCode := run(t,
		"stream",
		"--address", address,
		"--status-interval", "5ms",
		"--status-log-interval", "5ms",
		path,
	)
	require.Zero(t, exitCode)
	require.Equal(t, []string{"G90G1X10F300", "Y10", "X0", "Y0"}, g.Lines())
}

func TestStreamCmdInvalidInterval(t *testing.T) {
	address, g := listenFakeGrbl(t)
	path := writeFile(t, "square.nc", testProgram)

	for _, args := range [][]string{
		{"--status-interval=0s"},
		{"--status-interval=-1s"},
		{"--status-log-interval=0s"},
	} {
		_, exitCode := run(t, append([]string{"stream", "--address", address}, append(args, path)...)...)
		require.Equal(t, 1, exitCode, args)
	}
	require.Empty(t, g.Lines())
}

func TestSendCmd(t *testing.T) {
	address, g := listenFakeGrbl(t)

	output, exitCode := run(t, "send", "--address", address, "--wait", "10ms", "$$")
	require.Zero(t, exitCode)
	require.Equal(t, "$0=10\n$110=5000.000\n", output)
	require.Equal(t, []string{"$$"}, g.Lines())
}

func TestJogCmd(t *testing.T) {
	address, g := listenFakeGrbl(t)

	_, exitCode := run(t, "jog", "--address", address, "--x", "10", "--feed", "500")
	require.Zero(t, exitCode)
	require.Equal(t, []string{"$J=G91X10.000000F500.000000"}, g.Lines())

	_, exitCode = run(t, "jog", "--address", address)
	require.Equal(t, 1, exitCode)
}

func TestSettingsSaveCmd(t *testing.T) {
	address, _ := listenFakeGrbl(t)
	output := filepath.Join(t.TempDir(), "settings.txt")

	_, exitCode := run(t, "settings", "save", "--address", address, "--output", output)
	require.Zero(t, exitCode)
	require.Equal(t, "$0=10\n$110=5000.000000\n", readFile(t, output))
}
