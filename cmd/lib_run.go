package main

import (
	"os"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"
)

// Exit terminates the process. It is a variable so that tests can intercept it.
var Exit = func(code int) {
	os.Exit(code)
}

// GetRunFn adapts fn to cobra's Run, logging any returned error and exiting with a failure code.
func GetRunFn(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if err := fn(cmd, args); err != nil {
			logger := log.MustLogger(cmd.Context())
			logger.Error("Failed", "err", err)
			if logDebugFile != nil {
				logDebugFile.Close()
				logDebugFile = nil
			}
			Exit(1)
		}
	}
}
