package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeshVSC/SparkV2/internal/auth"
	"github.com/MeshVSC/SparkV2/internal/config"
	"github.com/MeshVSC/SparkV2/internal/database"
	"github.com/MeshVSC/SparkV2/internal/logging"
	"github.com/MeshVSC/SparkV2/internal/notify"
	"github.com/MeshVSC/SparkV2/internal/presence"
	"github.com/MeshVSC/SparkV2/internal/server"
	"github.com/MeshVSC/SparkV2/internal/sparks"
	"github.com/MeshVSC/SparkV2/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spark-api",
		Short: "Spark idea board backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("allowed-origin", defaults.GetString("cors.allowed_origin"), "CORS allowed origin")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for notification publishing (optional)")
	cmd.PersistentFlags().String("redis-topic", defaults.GetString("redis.topic"), "Redis pub/sub topic for notifications")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "cors.allowed_origin", "allowed-origin")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.topic", "redis-topic")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "spark-auth",
		Audience:      "spark-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	sparksService, err := sparks.NewService(sparks.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: sparks.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := presence.NewHub(presence.NewTracker(presence.WithLogger(logger)), logger)
	go hub.Run(signalCtx)

	channels := []notify.Channel{
		notify.NewLogChannel(logger),
		notify.NewRealtimeChannel(hub),
	}
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		defer redisClient.Close()
		channels = append(channels, notify.NewRedisChannel(redisClient, appConfig.RedisTopic))
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Database:   db,
		Channels:   channels,
		IDProvider: sparks.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Users:         usersService,
		Sparks:        sparksService,
		Notifications: dispatcher,
		Hub:           hub,
		AllowedOrigin: appConfig.AllowedOrigin,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
