package main

import (
	"errors"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/cncsender/grbl"
)

var jogX, jogY, jogZ float64
var jogFeed float64
var defaultJogFeed = 0.0
var jogIncremental bool
var defaultJogIncremental = true
var jogMachineCoordinates bool
var defaultJogMachineCoordinates = false

func getJogCommand(cmd *cobra.Command, args []string) (grbl.JogCommand, error) {
	if len(args) > 0 {
		return grbl.ParseJogCommand(args[0])
	}
	jogCommand := grbl.JogCommand{
		Feed:               jogFeed,
		Incremental:        jogIncremental,
		MachineCoordinates: jogMachineCoordinates,
	}
	if cmd.Flags().Changed("x") {
		jogCommand.X = &jogX
	}
	if cmd.Flags().Changed("y") {
		jogCommand.Y = &jogY
	}
	if cmd.Flags().Changed("z") {
		jogCommand.Z = &jogZ
	}
	if jogCommand.X == nil && jogCommand.Y == nil && jogCommand.Z == nil {
		return jogCommand, errors.New("at least one of --x, --y or --z is required")
	}
	if jogCommand.Feed <= 0 {
		return jogCommand, errors.New("--feed must be positive")
	}
	return jogCommand, nil
}

var JogCmd = &cobra.Command{
	Use:   "jog [$J=line]",
	Short: "Jog the machine.",
	Long:  "Jogs with the given $J= line, or one built from flags. The command returns once Grbl accepts the jog, not when motion ends.",
	Args:  cobra.MaximumNArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		jogCommand, err := getJogCommand(cmd, args)
		if err != nil {
			return err
		}

		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"port-name", portName,
			"address", address,
			"jog", jogCommand.Line(),
		)
		cmd.SetContext(ctx)

		conn, err := OpenConnection(ctx)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, conn.Close()) }()

		logger.Info("Jogging")
		return Execute(ctx, conn, jogCommand, func(message grbl.Message) error {
			if alarmMessage, ok := message.(*grbl.AlarmPushMessage); ok {
				return alarmMessage.Error()
			}
			return nil
		})
	}),
}

func init() {
	AddPortFlags(JogCmd)
	JogCmd.PersistentFlags().Float64VarP(&jogX, "x", "", 0, "X target")
	JogCmd.PersistentFlags().Float64VarP(&jogY, "y", "", 0, "Y target")
	JogCmd.PersistentFlags().Float64VarP(&jogZ, "z", "", 0, "Z target")
	JogCmd.PersistentFlags().Float64VarP(&jogFeed, "feed", "", defaultJogFeed, "Feed rate")
	JogCmd.PersistentFlags().BoolVarP(&jogIncremental, "incremental", "", defaultJogIncremental, "Targets are relative to the current position")
	JogCmd.PersistentFlags().BoolVarP(&jogMachineCoordinates, "machine-coordinates", "", defaultJogMachineCoordinates, "Targets are in machine coordinates")

	RootCmd.AddCommand(JogCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		jogX, jogY, jogZ = 0, 0, 0
		jogFeed = defaultJogFeed
		jogIncremental = defaultJogIncremental
		jogMachineCoordinates = defaultJogMachineCoordinates
	})
}

