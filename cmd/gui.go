package cmd

import (
	"context"

	"FaceVerify/logger"
	"FaceVerify/monitor"
	"FaceVerify/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "Open the desktop window with live video and a Verify button",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGUI(cmd.Context())
	},
}

func runGUI(ctx context.Context) error {
	rt, err := newRuntime(Cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if Cfg.Server.Metrics {
		go func() {
			if err := monitor.StartMon(ctx, Cfg.Server.MetricsPort); err != nil {
				logger.Log().Warn("metrics server", zap.Error(err))
			}
		}()
	}

	app := ui.New(rt.camera, rt.verifier, ui.Options{
		Interval: Cfg.FrameInterval(),
		OnFrame:  monitor.ObserveFrame,
	})
	app.Run(ctx)
	return nil
}

func init() {
	rootCmd.AddCommand(guiCmd)
}
