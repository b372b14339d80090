package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeshVSC/SparkV2/internal/client"
	"github.com/MeshVSC/SparkV2/internal/logging"
	"github.com/MeshVSC/SparkV2/internal/presence"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverURL   string
	token       string
	workspaceID string
	idleSeconds int
	awaySeconds int
	logLevel    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spark-client",
		Short: "Terminal client for the Spark presence relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", "ws://localhost:8080/ws", "Relay WebSocket URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token from /auth/login")
	rootCmd.PersistentFlags().StringVar(&workspaceID, "workspace", "", "Workspace to join")
	rootCmd.PersistentFlags().IntVar(&idleSeconds, "idle-seconds", 60, "Seconds without input before reporting idle")
	rootCmd.PersistentFlags().IntVar(&awaySeconds, "away-seconds", 300, "Seconds without input before reporting away")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runClient(ctx context.Context) error {
	logger, err := logging.NewLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := client.NewManager(client.Config{
		URL:   serverURL,
		Token: token,
		OnState: func(state client.State) {
			logger.Info("connection state changed", zap.String("state", string(state)))
		},
		OnFrame: func(frame presence.Frame) {
			logger.Info("frame received",
				zap.String("type", frame.Type),
				zap.ByteString("data", frame.Data))
		},
		Logger: logger,
	})

	if err := manager.Connect(signalCtx); err != nil {
		return err
	}
	defer manager.Close()

	if workspaceID != "" {
		if err := manager.Join(workspaceID, ""); err != nil {
			return err
		}
	}

	monitor := client.NewActivityMonitor(client.ActivityConfig{
		IdleAfter: time.Duration(idleSeconds) * time.Second,
		AwayAfter: time.Duration(awaySeconds) * time.Second,
		OnChange: func(status presence.Status) {
			logger.Info("status changed", zap.String("status", string(status)))
			if err := manager.Send(presence.StatusUpdateEvent{Status: status}); err != nil {
				logger.Warn("status update failed", zap.Error(err))
			}
		},
	})
	go monitor.Run(signalCtx, time.Second)

	// Each line typed counts as input activity for idle/away detection.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			monitor.Input()
		}
	}()

	<-signalCtx.Done()
	return nil
}
