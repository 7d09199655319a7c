package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/config"
	"github.com/zerovault/api/src/server"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Fail fast if secrets are missing
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"port":         cfg.Port,
		"environment":  cfg.Environment,
		"log_level":    cfg.LogLevel,
		"cors_origins": cfg.CORSOrigins,
		"rate_limit":   cfg.RateLimitPerMin,
	}).Info("Starting vault API server")

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize server")
	}
	defer srv.Close()

	if err := srv.Run(); err != nil {
		logger.WithError(err).Fatal("Server terminated with error")
	}
}
