package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fornellas/cncsender/grbl"
	"github.com/fornellas/cncsender/worker_manager"
)

var validate bool
var defaultValidate = false

var reset bool
var defaultReset = true

var statusInterval time.Duration
var defaultStatusInterval = grbl.DefaultStatusInterval

var statusLogInterval time.Duration
var defaultStatusLogInterval = 5 * time.Second

var metricsAddress string
var defaultMetricsAddress = ""

// resetGrbl soft resets Grbl and waits for its welcome message, so that streaming starts from a
// known state.
func resetGrbl(ctx context.Context, streamer *grbl.Streamer, events <-chan grbl.Message) error {
	logger := log.MustLogger(ctx)
	logger.Info("Resetting Grbl")
	if err := streamer.SendRealTimeCommand(grbl.RealTimeCommandSoftReset); err != nil {
		return err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case message, ok := <-events:
			if !ok {
				return grbl.ErrStreamerStopped
			}
			if _, ok := message.(*grbl.WelcomePushMessage); ok {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("no welcome message after reset")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitIdle waits for the program to be fully sent, then for the machine to stop moving, or for
// the reset that follows validation. It returns how many lines got an error response.
func waitIdle(ctx context.Context, streamer *grbl.Streamer, events <-chan grbl.Message) (int, error) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	errorCount := 0
	ticksSinceSent := 0
	for {
		select {
		case message, ok := <-events:
			if !ok {
				return errorCount, grbl.ErrStreamerStopped
			}
			switch m := message.(type) {
			case *grbl.ResponseMessage:
				errorCount++
			case *grbl.AlarmPushMessage:
				return errorCount, m.Error()
			case *grbl.WelcomePushMessage:
				// leaving check mode resets Grbl
				if validate && !streamer.HasProgram() {
					return errorCount, nil
				}
				return errorCount, fmt.Errorf("grbl was reset")
			}
		case <-ticker.C:
			if validate || streamer.HasProgram() {
				continue
			}
			// skip the first tick, as its status may have been queried before the last line
			ticksSinceSent++
			if ticksSinceSent > 1 && streamer.Status().RunState.State == grbl.StateIdle {
				return errorCount, nil
			}
		case <-ctx.Done():
			return errorCount, ctx.Err()
		}
	}
}

func streamProgram(ctx context.Context, streamer *grbl.Streamer, lines []string) error {
	logger := log.MustLogger(ctx)
	events := streamer.Subscribe("stream", 16)

	if reset {
		if err := resetGrbl(ctx, streamer, events); err != nil {
			return err
		}
	}

	if validate {
		if err := streamer.ValidateProgram(lines); err != nil {
			return err
		}
	} else {
		if err := streamer.StartProgram(lines); err != nil {
			return err
		}
	}

	errorCount, err := waitIdle(ctx, streamer, events)
	if err != nil {
		if stopErr := streamer.StopProgram(); stopErr != nil && !errors.Is(stopErr, grbl.ErrStreamerStopped) {
			err = errors.Join(err, stopErr)
		}
		return fmt.Errorf("failed at line %d: %w", streamer.Line(), err)
	}
	if errorCount > 0 {
		if validate {
			return fmt.Errorf("invalid program at line %d", streamer.Line())
		}
		return fmt.Errorf("%d lines failed", errorCount)
	}
	logger.Info("Finished", "lines", streamer.Line())
	return nil
}

func logStatus(ctx context.Context, streamer *grbl.Streamer, total int) error {
	logger := log.MustLogger(ctx)
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			status := streamer.Status()
			logger.Info("Status",
				"state", status.RunState,
				"line", fmt.Sprintf("%d/%d", streamer.Line(), total),
				"work_position", status.WorkPosition(),
				"feed", status.Feed,
				"speed", status.Speed,
			)
		case <-ctx.Done():
			return nil
		}
	}
}

func serveMetrics(ctx context.Context, registry *prometheus.Registry) error {
	logger := log.MustLogger(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	server := &http.Server{
		Addr:              metricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "address", metricsAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
			err = errors.Join(err, serveErr)
		}
		return err
	}
}

var StreamCmd = &cobra.Command{
	Use:   "stream path",
	Short: "Stream the program at path to Grbl.",
	Long:  "Streams the program line by line, waiting for Grbl to respond to each line before sending the next. With --validate, the program is run with Grbl in check mode instead.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		path := args[0]

		ctx, _ := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"address", address,
			"path", path,
			"validate", validate,
		)
		ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		cmd.SetContext(ctx)

		if statusInterval <= 0 {
			return fmt.Errorf("--status-interval must be positive: %s", statusInterval)
		}
		if statusLogInterval <= 0 {
			return fmt.Errorf("--status-log-interval must be positive: %s", statusLogInterval)
		}

		program, err := loadProgram(ctx, path)
		if err != nil {
			return err
		}
		lines := program.Lines()

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())

		conn, err := OpenConnection(ctx)
		if err != nil {
			return err
		}
		streamer, err := grbl.NewStreamer(conn, grbl.StreamerOptions{
			StatusInterval: statusInterval,
			Registerer:     registry,
		})
		if err != nil {
			return errors.Join(err, conn.Close())
		}

		workerManager := worker_manager.NewWorkerManager()
		workerManager.AddWorker("Streamer", streamer.Run)
		if metricsAddress != "" {
			workerManager.AddWorker("Metrics", func(ctx context.Context) error {
				return serveMetrics(ctx, registry)
			})
		}
		workerManager.AddWorker("Status", func(ctx context.Context) error {
			return logStatus(ctx, streamer, len(lines))
		})
		workerManager.AddWorker("Program", func(ctx context.Context) error {
			return streamProgram(ctx, streamer, lines)
		})
		return workerManager.Run(ctx)
	}),
}

func init() {
	AddPortFlags(StreamCmd)
	StreamCmd.PersistentFlags().BoolVarP(&validate, "validate", "", defaultValidate, "Run the program in check mode, stopping at the first error")
	StreamCmd.PersistentFlags().BoolVarP(&reset, "reset", "", defaultReset, "Soft reset Grbl before streaming")
	StreamCmd.PersistentFlags().DurationVarP(&statusInterval, "status-interval", "", defaultStatusInterval, "How often to query Grbl status")
	StreamCmd.PersistentFlags().DurationVarP(&statusLogInterval, "status-log-interval", "", defaultStatusLogInterval, "How often to log the status")
	StreamCmd.PersistentFlags().StringVarP(&metricsAddress, "metrics-address", "", defaultMetricsAddress, "Serve Prometheus metrics at /metrics on this address (host:port)")

	RootCmd.AddCommand(StreamCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		validate = defaultValidate
		reset = defaultReset
		statusInterval = defaultStatusInterval
		statusLogInterval = defaultStatusLogInterval
		metricsAddress = defaultMetricsAddress
	})
}
