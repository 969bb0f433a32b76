package main

import (
	"fmt"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var PortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		logger := log.MustLogger(cmd.Context())

		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return fmt.Errorf("failed to list serial ports: %w", err)
		}
		if len(ports) == 0 {
			logger.Warn("No serial ports found")
			return nil
		}

		output := cmd.OutOrStdout()
		for _, port := range ports {
			if !port.IsUSB {
				if _, err := fmt.Fprintln(output, port.Name); err != nil {
					return err
				}
				continue
			}
			if _, err := fmt.Fprintf(
				output, "%s\tUSB %s:%s %s %s\n",
				port.Name, port.VID, port.PID, port.Product, port.SerialNumber,
			); err != nil {
				return err
			}
		}
		return nil
	}),
}

func init() {
	RootCmd.AddCommand(PortsCmd)
}
