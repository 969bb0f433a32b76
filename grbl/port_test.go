package grbl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	return log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))
}

// fakePort emulates Grbl: every line written gets an ok response, unless configured otherwise,
// and status report queries get a status report.
type fakePort struct {
	mu          sync.Mutex
	readBuf     []byte
	lineBuf     []byte
	lines       []string
	realTime    []RealTimeCommand
	written     []byte
	readTimeout time.Duration
	readErr     error
	closed      bool
	checkMode   bool
	// errorLines maps lines to the error code they get as a response.
	errorLines map[string]int
	// silent disables responses to lines.
	silent bool
	// status is the status report fields after the state.
	status string
}

func newFakePort() *fakePort {
	return &fakePort{
		errorLines: map[string]int{},
		status:     "MPos:0.000,0.000,0.000|FS:0,0",
	}
}

// Push queues lines to be read, each terminated with \r\n as Grbl does.
func (p *fakePort) Push(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range lines {
		p.readBuf = append(p.readBuf, line+"\r\n"...)
	}
}

func (p *fakePort) PushRaw(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf = append(p.readBuf, data...)
}

func (p *fakePort) push(lines ...string) {
	for _, line := range lines {
		p.readBuf = append(p.readBuf, line+"\r\n"...)
	}
}

func (p *fakePort) SetStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *fakePort) SetReadError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// Lines returns all lines written, without line terminators.
func (p *fakePort) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.lines...)
}

func (p *fakePort) RealTimeCommands() []RealTimeCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RealTimeCommand{}, p.realTime...)
}

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte{}, p.written...)
}

func (p *fakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	n := copy(b, p.readBuf)
	p.readBuf = p.readBuf[n:]
	return n, nil
}

func (p *fakePort) statusReport() string {
	state := StateIdle
	if p.checkMode {
		state = StateCheck
	}
	if p.status == "" {
		return "<" + string(state) + ">"
	}
	return "<" + string(state) + "|" + p.status + ">"
}

func (p *fakePort) respond(line string) {
	p.lines = append(p.lines, line)
	if p.silent {
		return
	}
	if code, ok := p.errorLines[line]; ok {
		p.push(fmt.Sprintf("error:%d", code))
		return
	}
	if line == string(SystemCommandCheckMode) {
		p.checkMode = !p.checkMode
		if p.checkMode {
			p.push("[MSG:Enabled]")
		} else {
			p.push("[MSG:Disabled]")
		}
	}
	p.push("ok")
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}
	p.written = append(p.written, b...)
	for _, c := range b {
		if rtc, err := NewRealTimeCommand(c); err == nil {
			p.realTime = append(p.realTime, rtc)
			switch rtc {
			case RealTimeCommandStatusReportQuery:
				p.push(p.statusReport())
			case RealTimeCommandSoftReset:
				p.checkMode = false
				p.lineBuf = nil
				p.push("", "Grbl 1.1h ['$' for help]")
			}
			continue
		}
		if c == '\n' {
			p.respond(strings.TrimSuffix(string(p.lineBuf), "\r"))
			p.lineBuf = nil
			continue
		}
		p.lineBuf = append(p.lineBuf, c)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

func newTestConnection(t *testing.T, port *fakePort) *Connection {
	conn, err := NewConnection(port)
	require.NoError(t, err)
	return conn
}

// pollUntil polls until a message matching fn is returned.
func pollUntil(t *testing.T, ctx context.Context, conn *Connection, fn func(Message) bool) Message {
	for range 100 {
		message, err := conn.Poll(ctx)
		require.NoError(t, err)
		if message != nil && fn(message) {
			return message
		}
	}
	require.FailNow(t, "message not received")
	return nil
}
