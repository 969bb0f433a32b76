package main

import (
	"encoding/csv"
	"errors"
	"strconv"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"
)

var ToolpathCmd = &cobra.Command{
	Use:   "toolpath path",
	Short: "Interpret the program at path, and output its motion segments as CSV.",
	Long:  "Outputs one row per motion segment: kind (rapid or linear), X, Y, Z and the time in seconds from the start of the program.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		path := args[0]

		ctx, _ := log.MustWithAttrs(
			cmd.Context(),
			"path", path,
			"output", outputValue,
		)
		cmd.SetContext(ctx)

		program, err := loadProgram(ctx, path)
		if err != nil {
			return err
		}

		w, err := outputValue.WriterCloser()
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, w.Close()) }()

		formatFloat := func(v float64) string {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		csvWriter := csv.NewWriter(w)
		if err := csvWriter.Write([]string{"kind", "x", "y", "z", "time"}); err != nil {
			return err
		}
		for _, segment := range program.Segments {
			if err := csvWriter.Write([]string{
				segment.Kind.String(),
				formatFloat(segment.Position.X),
				formatFloat(segment.Position.Y),
				formatFloat(segment.Position.Z),
				formatFloat(segment.Time),
			}); err != nil {
				return err
			}
		}
		csvWriter.Flush()
		return csvWriter.Error()
	}),
}

func init() {
	AddOutputFlags(ToolpathCmd)
	RootCmd.AddCommand(ToolpathCmd)
}
