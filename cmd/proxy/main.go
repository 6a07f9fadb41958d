package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/obsidianlabs/rpc-proxy/internal/config"
	"github.com/obsidianlabs/rpc-proxy/internal/metrics"
	"github.com/obsidianlabs/rpc-proxy/internal/server"
	"go.uber.org/zap"
)

func main() {
	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	logger, loggerErr := setupGlobalLogger(env)
	if loggerErr != nil {
		panic(loggerErr)
	}

	defer func() {
		// Flushes buffer, if any.
		if err := logger.Sync(); err != nil {
			// There could be something wrong with the logger if it's not Syncing, so
			// print using `fmt.Println`.
			fmt.Println("Failed to sync logger.", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config.", zap.Error(err))
	}

	zap.L().Info("Starting RPC proxy.",
		zap.String("env", env),
		zap.Int("port", cfg.Port),
		zap.Strings("upstreams", cfg.RPCURLs()),
		zap.Uint64("chainID", cfg.ChainID))

	rpcServer := server.NewRPCServer(cfg, logger)

	go func() {
		if err := rpcServer.Start(); err != http.ErrServerClosed {
			zap.L().Fatal("Failed to start RPC server.", zap.Error(err))
		}
	}()

	zap.L().Info("Starting metrics server.", zap.Int("port", cfg.MetricsPort))

	metricsServer := metrics.NewMetricsServer(cfg.MetricsPort)

	go func() {
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			zap.L().Fatal("Failed to start metrics server.", zap.Error(err))
		}
	}()

	// Wait for an Unix exit signal.
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	exitSignal := <-signalChannel
	zap.L().Info("Exiting due to signal.", zap.Any("signal", exitSignal))

	if err := rpcServer.Shutdown(); err != nil {
		zap.L().Fatal("Failed to gracefully shut down RPC server.", zap.Error(err))
	}

	if err := metricsServer.Shutdown(context.Background()); err != nil {
		zap.L().Fatal("Failed to gracefully shut down metrics server.", zap.Error(err))
	}
}

func setupGlobalLogger(env string) (logger *zap.Logger, err error) {
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err == nil {
		zap.ReplaceGlobals(logger)
	}

	return logger, err
}
