package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/cncsender/grbl"
)

var SettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage Grbl settings.",
	Args:  cobra.NoArgs,
}

// readSettings queries settings and startup blocks.
func readSettings(cmd *cobra.Command, conn *grbl.Connection) (*grbl.Settings, []grbl.StartupBlockCommand, error) {
	ctx := cmd.Context()
	if err := Execute(ctx, conn, grbl.SystemCommandViewSettings, nil); err != nil {
		return nil, nil, err
	}
	startupBlocks := []grbl.StartupBlockCommand{}
	if err := Execute(ctx, conn, grbl.SystemCommandViewStartupBlocks, func(message grbl.Message) error {
		if startupBlockMessage, ok := message.(*grbl.StartupBlockPushMessage); ok {
			startupBlocks = append(startupBlocks, grbl.StartupBlockCommand{
				Index: startupBlockMessage.Index,
				Block: startupBlockMessage.Line,
			})
		}
		return nil
	}); err != nil {
		return nil, nil, err
	}
	return conn.Settings(), startupBlocks, nil
}

var SettingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Read Grbl settings and show them with their descriptions.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, _ := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"address", address,
		)
		cmd.SetContext(ctx)

		conn, err := OpenConnection(ctx)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, conn.Close()) }()

		settings, _, err := readSettings(cmd, conn)
		if err != nil {
			return err
		}

		output := cmd.OutOrStdout()
		for _, definition := range grbl.SettingDefinitions {
			value, ok := settings.Value(definition.Number)
			if !ok {
				continue
			}
			valueStr := definition.Format(value)
			switch definition.Kind {
			case grbl.SettingKindAxisMask:
				axisMask, _ := settings.AxisMask(definition.Number)
				valueStr = fmt.Sprintf("%s (%s)", valueStr, axisMask)
			case grbl.SettingKindStatusReportMask:
				statusReportMask, _ := settings.StatusReportMask()
				valueStr = fmt.Sprintf("%s (%s)", valueStr, statusReportMask)
			}
			if definition.Unit != "" {
				valueStr = fmt.Sprintf("%s %s", valueStr, definition.Unit)
			}
			if _, err := fmt.Fprintf(output, "$%d=%s\t%s\n", definition.Number, valueStr, definition.Description); err != nil {
				return err
			}
		}
		return nil
	}),
}

var SettingsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Read Grbl settings and startup blocks, and output them as commands that restore them.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"address", address,
			"output", outputValue,
		)
		cmd.SetContext(ctx)

		conn, err := OpenConnection(ctx)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, conn.Close()) }()

		logger.Info("Requesting settings")
		settings, startupBlocks, err := readSettings(cmd, conn)
		if err != nil {
			return err
		}

		w, err := outputValue.WriterCloser()
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, w.Close()) }()

		commands := []grbl.Command{}
		for _, settingCommand := range settings.Commands() {
			commands = append(commands, settingCommand)
		}
		for _, startupBlockCommand := range startupBlocks {
			commands = append(commands, startupBlockCommand)
		}
		for _, command := range commands {
			if _, err := fmt.Fprintln(w, command.Line()); err != nil {
				return err
			}
		}
		return nil
	}),
}

// parseSettingsFile reads setting and startup block commands, one per line. Empty lines and lines
// starting with ";" are ignored.
func parseSettingsFile(r io.Reader) ([]grbl.Command, error) {
	commands := []grbl.Command{}
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		message, err := grbl.ParseMessage(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber, err)
		}
		switch m := message.(type) {
		case *grbl.SettingPushMessage:
			definition, err := grbl.GetSettingDefinition(m.Number)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNumber, err)
			}
			value, err := definition.Parse(m.Value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNumber, err)
			}
			settingCommand, err := grbl.NewSettingCommand(m.Number, value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNumber, err)
			}
			commands = append(commands, settingCommand)
		case *grbl.StartupBlockPushMessage:
			commands = append(commands, grbl.StartupBlockCommand{Index: m.Index, Block: m.Line})
		default:
			return nil, fmt.Errorf("line %d: not a setting or startup block: %#v", lineNumber, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return commands, nil
}

var SettingsLoadCmd = &cobra.Command{
	Use:   "load path",
	Short: "Write settings and startup blocks from a file, as output by save.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		path := args[0]

		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"address", address,
			"path", path,
		)
		cmd.SetContext(ctx)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, f.Close()) }()
		commands, err := parseSettingsFile(f)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		conn, err := OpenConnection(ctx)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, conn.Close()) }()

		for _, command := range commands {
			logger.Info("Writing", "command", command.Line())
			if err := Execute(ctx, conn, command, nil); err != nil {
				return err
			}
		}
		return nil
	}),
}

func init() {
	AddPortFlags(SettingsCmd)
	AddOutputFlags(SettingsSaveCmd)

	SettingsCmd.AddCommand(SettingsShowCmd)
	SettingsCmd.AddCommand(SettingsSaveCmd)
	SettingsCmd.AddCommand(SettingsLoadCmd)
	RootCmd.AddCommand(SettingsCmd)
}
