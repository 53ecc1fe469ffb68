package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"invoicemap/internal/config"
	"invoicemap/internal/provider"
)

// signalContext returns a context bounded by the timeout and canceled on
// SIGINT/SIGTERM so in-flight API calls stop cleanly.
func signalContext(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func providerConfig(cfg *config.Config) provider.Config {
	return provider.Config{
		Provider:       cfg.Provider,
		VisionProvider: cfg.VisionProvider,
	}
}

func providerDefaults(cfg *config.Config) provider.Defaults {
	return provider.Defaults{
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		GeminiAPIKey: cfg.GeminiAPIKey,
	}
}
