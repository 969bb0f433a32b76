package grbl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fornellas/cncsender/broker"
)

var ErrProgramRunning = errors.New("a program is running")

var ErrStreamerStopped = errors.New("streamer stopped")

// DefaultStatusInterval is how often the status report is queried.
const DefaultStatusInterval = 500 * time.Millisecond

// inboxWait bounds how long each loop iteration waits for a request.
const inboxWait = time.Millisecond

////////////////////////////////////////////////////////////////////////////////////////////////////
// Inbox
////////////////////////////////////////////////////////////////////////////////////////////////////

type startProgramRequest struct {
	lines    []string
	validate bool
}

type stopProgramRequest struct{}

type realTimeCommandRequest struct {
	rtc RealTimeCommand
}

type commandRequest struct {
	command Command
}

type stopRequest struct{}

// mailbox is an unbounded FIFO of requests, with many producers and a single consumer.
type mailbox struct {
	mu       sync.Mutex
	requests []any
	notify   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) send(request any) {
	m.mu.Lock()
	m.requests = append(m.requests, request)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil, false
	}
	request := m.requests[0]
	m.requests[0] = nil
	m.requests = m.requests[1:]
	return request, true
}

// receive pops the next request, waiting up to timeout for one to arrive.
func (m *mailbox) receive(timeout time.Duration) (any, bool) {
	if request, ok := m.pop(); ok {
		return request, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.notify:
		return m.pop()
	case <-timer.C:
		return nil, false
	}
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Streamer
////////////////////////////////////////////////////////////////////////////////////////////////////

type StreamerOptions struct {
	// StatusInterval is how often the status report is queried. Defaults to DefaultStatusInterval.
	StatusInterval time.Duration
	// Registerer for metrics. Metrics are disabled when nil.
	Registerer prometheus.Registerer
}

// Streamer owns a Connection, and is the only one to do I/O with it, from its own goroutine. It
// streams programs line by line, waiting for Grbl to respond to each line before sending the next,
// queries the status periodically, and forwards commands. All its methods are safe for concurrent
// use, and never block on I/O.
type Streamer struct {
	conn           *Connection
	statusInterval time.Duration
	metrics        *streamerMetrics
	inbox          *mailbox
	broker         *broker.Broker[Message]

	running    atomic.Bool
	stopped    atomic.Bool
	done       chan struct{}
	err        error
	hasProgram atomic.Bool
	paused     atomic.Bool
	line       atomic.Int64
	status     atomic.Pointer[MachineStatus]
	settings   atomic.Pointer[Settings]
	alarm      atomic.Pointer[AlarmPushMessage]

	// owned by the worker goroutine
	active          bool
	lines           []string
	validating      bool
	lastStatusQuery time.Time
}

// NewStreamer creates a streamer for the connection, which it takes ownership of. Run or Start
// must be called to start it.
func NewStreamer(conn *Connection, options StreamerOptions) (*Streamer, error) {
	metrics, err := newStreamerMetrics(options.Registerer)
	if err != nil {
		return nil, err
	}
	statusInterval := options.StatusInterval
	if statusInterval <= 0 {
		statusInterval = DefaultStatusInterval
	}
	s := &Streamer{
		conn:           conn,
		statusInterval: statusInterval,
		metrics:        metrics,
		inbox:          newMailbox(),
		broker:         broker.NewBroker[Message](),
		done:           make(chan struct{}),
	}
	s.publishStatus()
	s.publishSettings()
	s.publishAlarm()
	return s, nil
}

// Start calls Run on a new goroutine. Stop must be called to stop it.
func (s *Streamer) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		panic("bug: Streamer already started")
	}
	go func() {
		if err := s.run(ctx); err != nil {
			log.MustLogger(ctx).Error("Streamer failed", "err", err)
		}
	}()
}

// Run runs the streamer loop until Stop is called, the context is done, or an I/O error happens.
// The connection is closed when it returns.
func (s *Streamer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		panic("bug: Streamer already started")
	}
	return s.run(ctx)
}

func (s *Streamer) run(ctx context.Context) (err error) {
	ctx, logger := log.MustWithGroup(ctx, "Streamer")
	logger.Debug("Starting")
	defer func() {
		s.stopped.Store(true)
		s.clearProgram()
		s.broker.Close()
		if closeErr := s.conn.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		s.err = err
		logger.Debug("Stopped", "err", err)
		close(s.done)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		stop, err := s.iterate(ctx)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

//gocyclo:ignore
func (s *Streamer) iterate(ctx context.Context) (bool, error) {
	if time.Since(s.lastStatusQuery) > s.statusInterval {
		if err := s.executeRealTimeCommand(RealTimeCommandStatusReportQuery); err != nil {
			return false, err
		}
		s.lastStatusQuery = time.Now()
	}

	if request, ok := s.inbox.receive(inboxWait); ok {
		stop, err := s.handle(ctx, request)
		if err != nil {
			return false, err
		}
		if stop {
			return true, nil
		}
	}

	if s.validating && s.conn.Errored() {
		log.MustLogger(ctx).Warn("Program validation failed", "line", s.line.Load())
		s.clearProgram()
		s.conn.SendCommand(SystemCommandCheckMode)
	}

	if s.active && !s.paused.Load() && s.conn.Ready() {
		s.sendNextLine(ctx)
	}

	message, err := s.conn.Poll(ctx)
	if err != nil {
		return false, err
	}
	if message != nil {
		s.received(ctx, message)
	}

	return false, nil
}

//gocyclo:ignore
func (s *Streamer) handle(ctx context.Context, request any) (bool, error) {
	logger := log.MustLogger(ctx)
	switch r := request.(type) {
	case startProgramRequest:
		logger.Info("Starting program", "lines", len(r.lines), "validate", r.validate)
		s.active = true
		s.lines = r.lines
		s.validating = r.validate
		s.line.Store(0)
		s.hasProgram.Store(true)
		s.metrics.setProgramRunning(true)
		// only errors for lines of this program fail the validation
		s.conn.ClearError()
		if r.validate && s.conn.Status().RunState.State != StateCheck {
			s.conn.SendCommand(SystemCommandCheckMode)
		}
	case stopProgramRequest:
		if !s.active {
			return false, nil
		}
		logger.Info("Stopping program", "line", s.line.Load())
		s.clearProgram()
	case realTimeCommandRequest:
		if err := s.executeRealTimeCommand(r.rtc); err != nil {
			return false, err
		}
	case commandRequest:
		logger.Debug("Sending command", "line", r.command.Line())
		s.conn.SendCommand(r.command)
	case stopRequest:
		return true, nil
	default:
		panic(fmt.Sprintf("bug: unexpected request type: %T", request))
	}
	return false, nil
}

func (s *Streamer) sendNextLine(ctx context.Context) {
	if len(s.lines) == 0 {
		log.MustLogger(ctx).Info("Program finished", "lines", s.line.Load(), "validate", s.validating)
		if s.validating {
			s.conn.SendCommand(SystemCommandCheckMode)
		}
		s.clearProgram()
		return
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	if !strings.HasSuffix(line, LineTerminator) {
		line += LineTerminator
	}
	s.conn.SendMessage(line)
	n := s.line.Add(1)
	s.metrics.lineSent(int(n))
	log.MustLogger(ctx).Debug("Sent", "line", n, "block", strings.TrimSuffix(line, LineTerminator))
}

func (s *Streamer) clearProgram() {
	s.active = false
	s.lines = nil
	s.validating = false
	s.metrics.setProgramRunning(false)
	s.hasProgram.Store(false)
}

func (s *Streamer) executeRealTimeCommand(rtc RealTimeCommand) error {
	if err := s.conn.ExecuteRealTimeCommand(rtc); err != nil {
		return err
	}
	s.metrics.realTimeCommand(rtc)
	return nil
}

//gocyclo:ignore
func (s *Streamer) received(ctx context.Context, message Message) {
	logger := log.MustLogger(ctx)
	s.metrics.messageReceived(message)
	switch m := message.(type) {
	case *ResponseMessage:
		if !m.Ok() {
			logger.Warn("Grbl error", "line", s.line.Load(), "err", m.Error())
			s.publish(ctx, message)
		}
	case *StatusReportPushMessage:
		s.publishStatus()
	case *SettingPushMessage:
		s.publishSettings()
	case *AlarmPushMessage:
		logger.Error("Grbl alarm", "err", m.Error())
		s.publishAlarm()
		s.publish(ctx, message)
	case *FeedbackPushMessage:
		logger.Info("Grbl message", "text", m.Text())
		s.publish(ctx, message)
	case *WelcomePushMessage:
		logger.Info("Grbl reset", "version", m.Version)
		s.publishAlarm()
		s.publish(ctx, message)
	}
}

func (s *Streamer) publish(ctx context.Context, message Message) {
	if err := s.broker.Publish(message); err != nil && !errors.Is(err, broker.ErrNoSubscribers) {
		log.MustLogger(ctx).Warn("Failed to publish message", "err", err)
	}
}

func (s *Streamer) publishStatus() {
	status := s.conn.Status()
	s.status.Store(&status)
}

func (s *Streamer) publishSettings() {
	s.settings.Store(s.conn.Settings())
}

func (s *Streamer) publishAlarm() {
	s.alarm.Store(s.conn.Alarm())
}

func (s *Streamer) post(request any) error {
	if s.stopped.Load() {
		return ErrStreamerStopped
	}
	s.inbox.send(request)
	return nil
}

func (s *Streamer) startProgram(lines []string, validate bool) error {
	if s.stopped.Load() {
		return ErrStreamerStopped
	}
	if !s.hasProgram.CompareAndSwap(false, true) {
		return ErrProgramRunning
	}
	s.paused.Store(false)
	if err := s.post(startProgramRequest{lines: lines, validate: validate}); err != nil {
		s.hasProgram.Store(false)
		return err
	}
	return nil
}

// StartProgram streams the lines. It fails with ErrProgramRunning if a program is running.
func (s *Streamer) StartProgram(lines []string) error {
	return s.startProgram(lines, false)
}

// ValidateProgram streams the lines with Grbl in check mode, stopping at the first error.
func (s *Streamer) ValidateProgram(lines []string) error {
	return s.startProgram(lines, true)
}

// StopProgram stops sending lines of the running program. Lines already sent are still executed.
func (s *Streamer) StopProgram() error {
	return s.post(stopProgramRequest{})
}

// SendRealTimeCommand sends a real time command. Unlike other commands, it is accepted while a
// program is running, so that the program can be held, resumed, overridden or reset.
func (s *Streamer) SendRealTimeCommand(rtc RealTimeCommand) error {
	return s.post(realTimeCommandRequest{rtc: rtc})
}

// SendCommand sends a command. It fails with ErrProgramRunning if a program is running.
func (s *Streamer) SendCommand(command Command) error {
	if s.hasProgram.Load() {
		return ErrProgramRunning
	}
	return s.post(commandRequest{command: command})
}

// SendString sends a raw line.
func (s *Streamer) SendString(line string) error {
	return s.SendCommand(RawCommand(line))
}

func (s *Streamer) Pause() {
	s.paused.Store(true)
}

func (s *Streamer) Unpause() {
	s.paused.Store(false)
}

func (s *Streamer) Paused() bool {
	return s.paused.Load()
}

// HasProgram is true while a program is being streamed.
func (s *Streamer) HasProgram() bool {
	return s.hasProgram.Load()
}

// Line returns how many lines of the current, or last, program were sent.
func (s *Streamer) Line() int {
	return int(s.line.Load())
}

// Status returns a snapshot of the last known machine status.
func (s *Streamer) Status() MachineStatus {
	return *s.status.Load()
}

// Settings returns a snapshot of the settings reported so far.
func (s *Streamer) Settings() *Settings {
	return s.settings.Load()
}

// Alarm returns the last alarm, or nil if there was none since the last reset.
func (s *Streamer) Alarm() *AlarmPushMessage {
	return s.alarm.Load()
}

// Subscribe returns a channel receiving error responses, alarm, feedback and welcome messages. It is closed when
// the streamer stops.
func (s *Streamer) Subscribe(name string, size int) <-chan Message {
	return s.broker.Subscribe(name, size)
}

// Stop stops the loop, waits for it to return and returns its error.
func (s *Streamer) Stop() error {
	if !s.running.Load() {
		if s.stopped.CompareAndSwap(false, true) {
			return s.conn.Close()
		}
		return nil
	}
	s.inbox.send(stopRequest{})
	<-s.done
	return s.err
}

// Done is closed after Run returns.
func (s *Streamer) Done() <-chan struct{} {
	return s.done
}
