package config

import (
	"fmt"
	"strings"
)

// Validate checks the startup preconditions. Every failure wraps
// ErrConfiguration and carries a remediation hint where one exists.
func (c Config) Validate() error {
	var problems []string

	switch c.Strategy {
	case StrategyZeroShot, StrategyCustom, StrategyLocalVision:
	default:
		problems = append(problems, fmt.Sprintf("unknown strategy %q (want %s, %s or %s)", c.Strategy, StrategyZeroShot, StrategyCustom, StrategyLocalVision))
	}
	if c.Strategy == StrategyCustom && strings.TrimSpace(c.EndpointURL) == "" {
		problems = append(problems, "the custom strategy requires endpoint_url")
	}
	if c.RemoteStrategy() && c.Token == "" {
		problems = append(problems, fmt.Sprintf("%s not found in environment or .env file; get a token from https://huggingface.co/settings/tokens", TokenEnv))
	}

	if strings.TrimSpace(c.CorpusDir) == "" {
		problems = append(problems, "corpus_dir is required")
	}
	if len(c.Extensions) == 0 {
		problems = append(problems, "at least one video extension is required")
	}
	if c.StartFrom < 1 {
		problems = append(problems, fmt.Sprintf("start_from must be >= 1, got %d", c.StartFrom))
	}
	if c.EndAt < 0 {
		problems = append(problems, fmt.Sprintf("end_at must be >= 0, got %d", c.EndAt))
	}
	if c.EndAt > 0 && c.EndAt < c.StartFrom {
		problems = append(problems, fmt.Sprintf("end_at (%d) is before start_from (%d)", c.EndAt, c.StartFrom))
	}
	if c.MaxRetries < 1 {
		problems = append(problems, "max_retries must be >= 1")
	}
	if c.RateLimitBackoffSeconds < 0 || c.RetryDelaySeconds < 0 || c.RequestDelaySeconds < 0 {
		problems = append(problems, "delays must not be negative")
	}

	switch c.Checkpoint.Backend {
	case BackendCSV, BackendSQLite:
		if strings.TrimSpace(c.Checkpoint.Path) == "" {
			problems = append(problems, "checkpoint.path is required for the "+c.Checkpoint.Backend+" backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Checkpoint.DSN) == "" {
			problems = append(problems, "checkpoint.dsn is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}

	if c.Strategy == StrategyLocalVision && c.Vision.Frames < 1 {
		problems = append(problems, "vision.frames must be >= 1")
	}

	if _, err := c.LabelSet(); err != nil {
		problems = append(problems, strings.TrimPrefix(err.Error(), ErrConfiguration.Error()+": "))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}
