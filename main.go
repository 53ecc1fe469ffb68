package main

import (
	"log"

	"github.com/joho/godotenv"

	"invoicemap/cmd"
	"invoicemap/internal/config"
	"invoicemap/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Logger setup must not depend on a valid config; a broken environment
	// still gets readable error output.
	cfg, err := config.Load()
	if err != nil {
		if setupErr := logger.Setup(logger.DefaultConfig()); setupErr != nil {
			logger.Fatal(setupErr, "Failed to initialize logger")
		}
		mainLogger := logger.WithComponent("main")
		mainLogger.Warn().Err(err).Msg("Could not load configuration, using defaults")
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			logger.Fatal(err, "Failed to initialize logger")
		}
	}

	cmd.Execute()
}
