package cmd

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"FaceVerify/api"
	backend "FaceVerify/gRPC"
	"FaceVerify/logger"
	"FaceVerify/monitor"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run headless with the HTTP API, gRPC service and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" HTTP  Port:", Cfg.Server.HTTPPort)
	fmt.Println(" gRPC  Port:", Cfg.Server.GRPCPort)
	if Cfg.Server.Metrics {
		fmt.Println(" Metrics Port:", Cfg.Server.MetricsPort)
	}
	fmt.Println(strings.Repeat("#", 64))

	rt, err := newRuntime(Cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	hub := api.NewHub()
	rt.verifier.AddObserver(hub.Observe)
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if Cfg.Server.Metrics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.StartMon(ctx, Cfg.Server.MetricsPort); err != nil {
				logger.Log().Warn("metrics server", zap.Error(err))
			}
		}()
	}

	if rt.notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.notifier.SendAliveMessage(ctx, 0)
		}()
	} else {
		logger.Log().Info("no webhook configured, skipping alive messages")
	}

	grpcServer, err := backend.StartGRPCServer(Cfg.Server.GRPCPort, rt.verifier)
	if err != nil {
		return err
	}
	defer grpcServer.GracefulStop()

	if !Cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(&api.Server{
		Verifier: rt.verifier,
		History:  historyStore(rt),
		Frames:   rt.camera,
		Hub:      hub,
		Metrics:  monitor.Handler(),
	})
	err = api.Run(ctx, Cfg.Server.HTTPPort, router)
	cancel()
	wg.Wait()
	logger.Log().Info("Safely exited")
	return err
}

// historyStore keeps a nil *history.Store from becoming a non-nil interface.
func historyStore(rt *appRuntime) api.HistoryStore {
	if rt.history == nil {
		return nil
	}
	return rt.history
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
