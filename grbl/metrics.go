package grbl

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// streamerMetrics holds Prometheus metrics for the Streamer. A nil *streamerMetrics is valid, and
// records nothing.
type streamerMetrics struct {
	linesSent        prometheus.Counter
	responses        *prometheus.CounterVec // result: ok, error
	alarms           *prometheus.CounterVec // code
	realTimeCommands *prometheus.CounterVec // command
	messagesReceived prometheus.Counter
	programLine      prometheus.Gauge
	programRunning   prometheus.Gauge
}

// newStreamerMetrics creates and registers metrics. It returns nil when registerer is nil,
// disabling metrics.
func newStreamerMetrics(registerer prometheus.Registerer) (*streamerMetrics, error) {
	if registerer == nil {
		return nil, nil
	}

	m := &streamerMetrics{
		linesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cncsender",
			Subsystem: "streamer",
			Name:      "lines_sent_total",
			Help:      "Total number of lines sent to Grbl",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cncsender",
			Subsystem: "streamer",
			Name:      "responses_total",
			Help:      "Total number of responses received from Grbl",
		}, []string{"result"}),
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cncsender",
			Subsystem: "streamer",
			Name:      "alarms_total",
			Help:      "Total number of alarms received from Grbl",
		}, []string{"code"}),
		realTimeCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cncsender",
			Subsystem: "streamer",
			Name:      "real_time_commands_total",
			Help:      "Total number of real time commands sent to Grbl",
		}, []string{"command"}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cncsender",
			Subsystem: "streamer",
			Name:      "messages_received_total",
			Help:      "Total number of messages received from Grbl",
		}),
		programLine: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cncsender",
			Subsystem: "streamer",
			Name:      "program_line",
			Help:      "Number of program lines sent in the current program",
		}),
		programRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cncsender",
			Subsystem: "streamer",
			Name:      "program_running",
			Help:      "Whether a program is being streamed (1) or not (0)",
		}),
	}

	var errs []error
	for _, collector := range []prometheus.Collector{
		m.linesSent, m.responses, m.alarms, m.realTimeCommands, m.messagesReceived, m.programLine,
		m.programRunning,
	} {
		if err := registerer.Register(collector); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("grbl: failed to register metrics: %w", err)
	}

	return m, nil
}

func (m *streamerMetrics) lineSent(line int) {
	if m == nil {
		return
	}
	m.linesSent.Inc()
	m.programLine.Set(float64(line))
}

func (m *streamerMetrics) messageReceived(message Message) {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
	switch msg := message.(type) {
	case *ResponseMessage:
		result := "ok"
		if !msg.Ok() {
			result = "error"
		}
		m.responses.WithLabelValues(result).Inc()
	case *AlarmPushMessage:
		m.alarms.WithLabelValues(fmt.Sprintf("%d", msg.Code)).Inc()
	}
}

func (m *streamerMetrics) realTimeCommand(rtc RealTimeCommand) {
	if m == nil {
		return
	}
	m.realTimeCommands.WithLabelValues(rtc.String()).Inc()
}

func (m *streamerMetrics) setProgramRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.programRunning.Set(1)
	} else {
		m.programRunning.Set(0)
	}
}
