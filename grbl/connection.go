package grbl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fornellas/slogxt/log"
	"go.bug.st/serial"
)

// Port is the byte stream to Grbl. serial.Port implements it.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// DefaultBaudRate is Grbl's default serial baud rate.
const DefaultBaudRate = 115200

// PortReadTimeout bounds each read, so that Poll never blocks for long.
var PortReadTimeout = 5 * time.Millisecond

const readChunkSize = 256

// OpenSerial opens the serial port with Grbl's framing (8N1).
func OpenSerial(ctx context.Context, name string, baudRate int) (*Connection, error) {
	logger := log.MustLogger(ctx)
	logger.Info("Opening serial port", "name", name, "baud_rate", baudRate)
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("grbl: serial port open error: %w", err)
	}
	return NewConnection(port)
}

// Connection talks to Grbl over a Port. It is not safe for concurrent use: a single goroutine
// must own it, as the Streamer does.
type Connection struct {
	port     Port
	readBuf  []byte
	writeBuf []byte
	chunk    []byte
	ready    bool
	errored  bool
	status   MachineStatus
	alarm    *AlarmPushMessage
	settings *Settings
}

// NewConnection sets the port read timeout, and returns a ready connection.
func NewConnection(port Port) (*Connection, error) {
	// required so that Poll does not block waiting for data
	if err := port.SetReadTimeout(PortReadTimeout); err != nil {
		closeErr := port.Close()
		if closeErr != nil {
			closeErr = fmt.Errorf("grbl: serial port close error: %w", closeErr)
		}
		return nil, errors.Join(fmt.Errorf("grbl: error setting read timeout: %w", err), closeErr)
	}
	return &Connection{
		port:     port,
		chunk:    make([]byte, readChunkSize),
		ready:    true,
		status:   NewMachineStatus(),
		settings: NewSettings(),
	}, nil
}

// SendMessage queues the line to be written on the next polls. The connection is not ready until
// Grbl responds to it.
func (c *Connection) SendMessage(line string) {
	c.writeBuf = append(c.writeBuf, line...)
	c.ready = false
	c.errored = false
}

// SendCommand queues the command line, with its line terminator.
func (c *Connection) SendCommand(command Command) {
	c.SendMessage(string(commandBytes(command)))
}

// ExecuteRealTimeCommand writes the command immediately, ahead of any queued lines.
func (c *Connection) ExecuteRealTimeCommand(rtc RealTimeCommand) error {
	data := []byte{byte(rtc)}
	n, err := c.port.Write(data)
	if err != nil && !isTimeout(err) {
		return fmt.Errorf("grbl: write to serial port error: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("grbl: write to serial port error: wrote %d bytes, expected %d", n, len(data))
	}
	return nil
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// read does a single read, appending to readBuf.
func (c *Connection) read() error {
	n, err := c.port.Read(c.chunk)
	if n > 0 {
		c.readBuf = append(c.readBuf, c.chunk[:n]...)
	}
	if err != nil && !isTimeout(err) {
		return fmt.Errorf("grbl: read from serial port error: %w", err)
	}
	return nil
}

// write does a single write of queued bytes, dropping what was written.
func (c *Connection) write() error {
	if len(c.writeBuf) == 0 {
		return nil
	}
	n, err := c.port.Write(c.writeBuf)
	if n > 0 {
		c.writeBuf = c.writeBuf[n:]
	}
	if err != nil && !isTimeout(err) {
		return fmt.Errorf("grbl: write to serial port error: %w", err)
	}
	return nil
}

// parse parses the first complete line from readBuf. It returns nil when there's no complete
// line yet. Malformed lines are dropped.
func (c *Connection) parse(ctx context.Context) Message {
	message, consumed, err := ParseBufferedMessage(c.readBuf)
	c.readBuf = c.readBuf[consumed:]
	if err != nil {
		if !errors.Is(err, ErrIncompleteMessage) {
			log.MustLogger(ctx).Warn("Dropping malformed message", "err", err)
		}
		return nil
	}
	return message
}

//gocyclo:ignore
func (c *Connection) apply(ctx context.Context, message Message) {
	switch m := message.(type) {
	case *ResponseMessage:
		c.ready = true
		c.errored = !m.Ok()
	case *StatusReportPushMessage:
		c.status = c.status.Apply(&m.StatusReport)
	case *AlarmPushMessage:
		c.alarm = m
	case *SettingPushMessage:
		if err := c.settings.Set(m.Number, m.Value); err != nil {
			log.MustLogger(ctx).Warn("Ignoring setting", "message", m.Message, "err", err)
		}
	case *WelcomePushMessage:
		// Grbl was reset, and discarded any line it had not responded to.
		c.ready = true
		c.errored = false
		c.alarm = nil
	}
}

// Poll does a single read, parses at most one message and applies its effects, then does a single
// write of queued bytes. It returns the parsed message, or nil if none was complete. Read and write
// timeouts are not errors.
func (c *Connection) Poll(ctx context.Context) (Message, error) {
	if err := c.read(); err != nil {
		return nil, err
	}
	message := c.parse(ctx)
	if message != nil {
		c.apply(ctx, message)
	}
	if err := c.write(); err != nil {
		return message, err
	}
	return message, nil
}

// Ready is true when no line is pending a response.
func (c *Connection) Ready() bool {
	return c.ready
}

// Errored is true when the last response was an error. It is cleared when a new line is sent.
func (c *Connection) Errored() bool {
	return c.errored
}

// ClearError forgets the last error response.
func (c *Connection) ClearError() {
	c.errored = false
}

// Pending returns how many bytes are queued for writing.
func (c *Connection) Pending() int {
	return len(c.writeBuf)
}

// Status returns a copy of the last known machine status.
func (c *Connection) Status() MachineStatus {
	return c.status.Clone()
}

// Alarm returns the last alarm, or nil if there was none since the last reset.
func (c *Connection) Alarm() *AlarmPushMessage {
	return c.alarm
}

// Settings returns a copy of the settings reported so far.
func (c *Connection) Settings() *Settings {
	return c.settings.Clone()
}

func (c *Connection) Close() error {
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("grbl: serial port close error: %w", err)
	}
	return nil
}
