package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"syscall"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/fornellas/cncsender/grbl"
)

var listenAddress string
var defaultListenAddress = "127.0.0.1:9999"

// pipe copies data both ways between the TCP connection and the serial port, until either side
// fails or ctx is done. Both are closed when it returns.
func pipe(ctx context.Context, conn net.Conn, serialPort serial.Port) error {
	logger := log.MustLogger(ctx)

	errCh := make(chan error, 2)
	logger.Info("Copying I/O")
	go func() {
		_, err := io.Copy(conn, serialPort)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(serialPort, conn)
		errCh <- err
	}()

	var err error
	returned := 0
	select {
	case err = <-errCh:
		returned++
	case <-ctx.Done():
	}
	logger.Info("Closing connection")
	err = errors.Join(err, conn.Close())
	logger.Info("Closing port")
	err = errors.Join(err, serialPort.Close())
	logger.Info("Waiting for copy routines to return")
	for ; returned < 2; returned++ {
		<-errCh
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func handleServeConnection(ctx context.Context, conn net.Conn) error {
	logger := log.MustLogger(ctx)

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return errors.Join(fmt.Errorf("failed to set TCP no delay: %w", err), conn.Close())
		}
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	logger.Info("Opening serial port")
	serialPort, err := serial.Open(portName, mode)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to open: %s: %w", portName, err), conn.Close())
	}

	return pipe(ctx, conn, serialPort)
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a TCP server connected to a serial port.",
	Long:  "Opens serial port and a TCP server, and pipes communication between both, one connection at a time. There's NO security implemented, this can only be used in secure networks at your own risk.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"listen-address", listenAddress,
		)
		ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		cmd.SetContext(ctx)

		logger.Info("Listening")
		listenConfig := &net.ListenConfig{}
		listener, err := listenConfig.Listen(ctx, "tcp", listenAddress)
		if err != nil {
			return fmt.Errorf("failed to listen: %s: %w", listenAddress, err)
		}
		go func() {
			<-ctx.Done()
			listener.Close()
		}()

		for {
			logger.Info("Accepting connection")
			conn, err := listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("Failed to accept connection", "err", err)
				continue
			}
			connCtx, connLogger := log.MustWithGroupAttrs(
				ctx,
				"Connection",
				"LocalAddr", conn.LocalAddr(),
				"RemoteAddr", conn.RemoteAddr(),
			)
			connLogger.Info("Accepted")

			if err := handleServeConnection(connCtx, conn); err != nil {
				connLogger.Error("Failed to handle connection", "err", err)
			}
		}
	}),
}

func init() {
	ServeCmd.PersistentFlags().StringVarP(&portName, "port-name", "p", defaultPortName, "Serial port name to open")
	if err := ServeCmd.MarkPersistentFlagRequired("port-name"); err != nil {
		panic(err)
	}
	ServeCmd.PersistentFlags().IntVarP(&baudRate, "baud-rate", "", grbl.DefaultBaudRate, "Serial port baud rate")
	ServeCmd.PersistentFlags().StringVar(&listenAddress, "listen-address", defaultListenAddress, "TCP address to listen on (host:port)")

	RootCmd.AddCommand(ServeCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		listenAddress = defaultListenAddress
	})
}
