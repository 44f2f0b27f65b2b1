package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentiment-labeler/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the labeling API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	a, err := setup(c, true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	logger.Info("Starting Sentiment Labeler...")

	// Jobs interrupted by a previous shutdown never finish.
	if _, err := a.runs.FailStaleRuns("interrupted by restart"); err != nil {
		logger.Warn("Failed to mark stale runs", zap.Error(err))
	}

	apiHandler := handler.NewHandler(a.runner, a.reports, logger)

	if !a.cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	apiHandler.RegisterRoutes(router, []byte(a.cfg.Server.JWTSecret))
	if a.cfg.Server.JWTSecret == "" {
		logger.Warn("JWT secret not configured, API is unauthenticated")
	}

	port := a.cfg.Server.Port
	if c.IsSet("port") {
		port = c.String("port")
	}
	serverAddr := fmt.Sprintf(":%s", port)

	// Graceful shutdown
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	logger.Info("Sentiment Labeler is running",
		zap.String("address", serverAddr),
		zap.Strings("models", a.runner.Models()))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := a.runner.Shutdown(ctx); err != nil {
		logger.Error("Active run did not stop in time", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}
