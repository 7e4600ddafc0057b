package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdougie/vidclassify/internal/classifier"
	"github.com/bdougie/vidclassify/internal/config"
	"github.com/bdougie/vidclassify/internal/inference"
)

func retryPolicy(cfg config.Config) classifier.RetryPolicy {
	return classifier.RetryPolicy{
		MaxAttempts:      cfg.MaxRetries,
		RateLimitBackoff: cfg.RateLimitBackoff(),
		RetryDelay:       cfg.RetryDelay(),
		Sleep:            classifier.SleepContext,
	}
}

// buildStrategy wires the classification strategy selected in cfg. Failing
// to reach the model is a configuration error: nothing has been processed yet.
func buildStrategy(ctx context.Context, cfg config.Config, logger *slog.Logger) (classifier.Strategy, error) {
	policy := retryPolicy(cfg)

	switch cfg.Strategy {
	case config.StrategyZeroShot, config.StrategyCustom:
		client, err := inference.NewClient(inference.Config{
			Token:       cfg.Token,
			EndpointURL: cfg.EndpointURL,
			BaseURL:     cfg.APIBaseURL,
			Model:       cfg.DefaultModel,
			Timeout:     cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
		}
		logger.Info("inference client ready", "strategy", cfg.Strategy, "url", client.URL())
		if cfg.Strategy == config.StrategyCustom {
			return classifier.NewCustomEndpoint(client, policy, logger), nil
		}
		return classifier.NewZeroShot(client, policy, cfg.RequestDelay(), logger), nil

	case config.StrategyLocalVision:
		model, err := classifier.NewOllamaModel(ctx, classifier.OllamaConfig{
			BaseURL: cfg.Vision.OllamaURL,
			Port:    cfg.Vision.OllamaPort,
			Model:   cfg.Vision.Model,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
		}
		logger.Info("vision model ready", "model", cfg.Vision.Model, "frames", cfg.Vision.Frames)
		return classifier.NewLocalVision(model, nil, cfg.Vision.FrameDir, cfg.Vision.Frames, policy, logger), nil

	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", config.ErrConfiguration, cfg.Strategy)
	}
}
