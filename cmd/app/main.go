package main

import (
	"VehicleCollector/database/postgres"
	"VehicleCollector/internal/config"
	"VehicleCollector/pkg/log"
	"VehicleCollector/pkg/platerecognizer"
	"VehicleCollector/pkg/synology"
	websocketPkg "VehicleCollector/pkg/websocket"
	"VehicleCollector/pkg/worker"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.NewLogger().Warnf("No .env file loaded: %v", err)
	}
	logger := log.NewLogger()

	env, err := config.LoadEnv()
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	fiberApp := config.NewFiber(logger)
	validator := config.NewValidator()
	dispatcher := worker.New(logger, env.WorkerConcurrency)
	feed := websocketPkg.NewHub(logger, 32)
	camera := synology.New(logger, synology.Options{
		Timeout:     env.CameraTimeout,
		InsecureTLS: env.SynologyInsecureTLS,
	})
	recognizer := platerecognizer.New(logger, platerecognizer.Options{
		URL:         env.RecognizerURL,
		APIKey:      env.RecognizerAPIKey,
		AuthScheme:  env.RecognizerAuthScheme,
		Regions:     env.RecognizerRegions,
		MMC:         env.RecognizerMMC,
		Direction:   env.RecognizerDirection,
		Timeout:     env.RecognizerTimeout,
		MaxAttempts: env.RecognizerMaxAttempts,
		RetryDelay:  env.RecognizerRetryDelay,
	})

	db, err := postgres.New(env.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	server, err := config.NewServer(
		config.WithFiber(fiberApp),
		config.WithLogger(logger),
		config.WithEnv(env),
		config.WithValidator(validator),
		config.WithDatabase(db),
		config.WithRedisLocker(),
		config.WithCamera(camera),
		config.WithRecognizer(recognizer),
		config.WithRegionTable(),
		config.WithDispatcher(dispatcher),
		config.WithFeed(feed),
		config.WithS3Client(),
		config.WithBcryptUtils(),
		config.WithMiddleware(),
		config.WithUtils(),
	)
	if err != nil {
		logger.Fatal(err)
	}

	server.RegisterHandler()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	logger.Info("Server started successfully")

	<-sigChan
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown incomplete: %v", err)
		return
	}
	logger.Info("Server stopped")
}
