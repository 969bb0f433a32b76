package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/cncsender/grbl"
	"github.com/fornellas/cncsender/serialtcp"
)

var portName string
var defaultPortName = ""

var baudRate int
var defaultBaudRate = grbl.DefaultBaudRate

var address string
var defaultAddress = ""

var timeout time.Duration
var defaultTimeout = 3 * time.Second

func AddPortFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&portName, "port-name", "p", defaultPortName, "Serial port name to open")
	cmd.PersistentFlags().IntVarP(&baudRate, "baud-rate", "", defaultBaudRate, "Serial port baud rate")
	cmd.PersistentFlags().StringVarP(&address, "address", "a", defaultAddress, "TCP address to connect to, as exposed by the serve command")
	cmd.PersistentFlags().DurationVarP(&timeout, "timeout", "", defaultTimeout, "Timeout for connecting and for Grbl responses")
}

// OpenConnection opens a connection to Grbl, either via the serial port or TCP, as given by flags.
func OpenConnection(ctx context.Context) (*grbl.Connection, error) {
	if portName != "" && address != "" {
		return nil, fmt.Errorf("flags --port-name and --address can not be set simultaneously")
	}

	if portName != "" {
		return grbl.OpenSerial(ctx, portName, baudRate)
	}

	if address != "" {
		port, err := serialtcp.Dial(ctx, address, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to dial: %s: %w", address, err)
		}
		return grbl.NewConnection(port)
	}

	return nil, fmt.Errorf("either --port-name or --address must be set")
}

// Execute sends the command and polls until Grbl responds to it, calling fn with every other message
// received meanwhile. It returns an error for error responses.
func Execute(
	ctx context.Context, conn *grbl.Connection, command grbl.Command, fn func(grbl.Message) error,
) error {
	logger := log.MustLogger(ctx)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("Sending", "command", command.Line())
	conn.SendCommand(command)
	for {
		message, err := conn.Poll(ctx)
		if err != nil {
			return err
		}
		if responseMessage, ok := message.(*grbl.ResponseMessage); ok {
			if err := responseMessage.Error(); err != nil {
				return fmt.Errorf("%s: %w", command.Line(), err)
			}
			return nil
		}
		if message != nil && fn != nil {
			if err := fn(message); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: no response: %w", command.Line(), err)
		}
	}
}

func init() {
	resetFlagsFns = append(resetFlagsFns, func() {
		portName = defaultPortName
		baudRate = defaultBaudRate
		address = defaultAddress
		timeout = defaultTimeout
	})
}
