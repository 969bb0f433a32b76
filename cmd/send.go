package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/cncsender/grbl"
)

var realTimeCommandNames []string
var defaultRealTimeCommandNames = []string{}

var wait time.Duration
var defaultWait = 200 * time.Millisecond

func printMessage(w io.Writer) func(grbl.Message) error {
	return func(message grbl.Message) error {
		if _, ok := message.(*grbl.EmptyPushMessage); ok {
			return nil
		}
		_, err := fmt.Fprintln(w, message.String())
		return err
	}
}

// pollFor polls the connection for the given duration, calling fn with received messages.
func pollFor(ctx context.Context, conn *grbl.Connection, d time.Duration, fn func(grbl.Message) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	for ctx.Err() == nil {
		message, err := conn.Poll(ctx)
		if err != nil {
			return err
		}
		if message != nil {
			if err := fn(message); err != nil {
				return err
			}
		}
	}
	return nil
}

var SendCmd = &cobra.Command{
	Use:   "send [line...]",
	Short: "Send real-time commands, then lines, to Grbl and print what it sends back.",
	Long: fmt.Sprintf(
		"Each line is sent after Grbl responds to the previous one. Real-time commands are: %s.",
		strings.Join(grbl.RealTimeCommandNames(), ", "),
	),
	Args: cobra.ArbitraryArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"address", address,
		)
		cmd.SetContext(ctx)

		rtcs := []grbl.RealTimeCommand{}
		for _, name := range realTimeCommandNames {
			rtc, err := grbl.ParseRealTimeCommand(name)
			if err != nil {
				return err
			}
			rtcs = append(rtcs, rtc)
		}
		if len(rtcs) == 0 && len(args) == 0 {
			return errors.New("nothing to send")
		}

		conn, err := OpenConnection(ctx)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, conn.Close()) }()

		fn := printMessage(cmd.OutOrStdout())
		for _, rtc := range rtcs {
			logger.Info("Sending real-time command", "command", rtc)
			if err := conn.ExecuteRealTimeCommand(rtc); err != nil {
				return err
			}
		}
		for _, line := range args {
			if err := Execute(ctx, conn, grbl.RawCommand(line), fn); err != nil {
				return err
			}
		}
		return pollFor(ctx, conn, wait, fn)
	}),
}

func init() {
	AddPortFlags(SendCmd)
	SendCmd.PersistentFlags().StringSliceVarP(
		&realTimeCommandNames, "real-time-command", "", defaultRealTimeCommandNames,
		"Real-time command to send before lines, may be repeated",
	)
	SendCmd.PersistentFlags().DurationVarP(&wait, "wait", "", defaultWait, "How long to keep printing messages after the last line")

	RootCmd.AddCommand(SendCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		realTimeCommandNames = defaultRealTimeCommandNames
		wait = defaultWait
	})
}
