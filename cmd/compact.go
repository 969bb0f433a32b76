package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/cncsender/toolpath"
)

var CompactCmd = &cobra.Command{
	Use:   "compact path",
	Short: "Output the lines that would be streamed for the program at path, without comments and spaces.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		path := args[0]

		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"path", path,
			"output", outputValue,
		)
		cmd.SetContext(ctx)
		logger.Info("Running")

		program, err := loadProgram(ctx, path)
		if err != nil {
			return err
		}

		w, err := outputValue.WriterCloser()
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, w.Close()) }()

		for _, line := range program.Lines() {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	}),
}

func loadProgram(ctx context.Context, path string) (*toolpath.Program, error) {
	logger := log.MustLogger(ctx)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	program, err := toolpath.LoadProgram(ctx, path, string(data))
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded",
		"id", program.ID,
		"segments", len(program.Segments),
		"duration", time.Duration(program.Duration()*float64(time.Second)),
	)
	return program, nil
}

func init() {
	AddOutputFlags(CompactCmd)
	RootCmd.AddCommand(CompactCmd)
}
