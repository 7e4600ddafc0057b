package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agent-api/core"
	"github.com/agent-api/core/agent"
	"github.com/agent-api/core/agent/bootstrap"
	"github.com/agent-api/core/memory/array"
	"github.com/agent-api/ollama"
	"github.com/go-logr/logr"
)

const visionSystemPrompt = "You are a visual analysis assistant specialized in recognising human actions in still frames taken from short video clips. Always answer with a single JSON object and nothing else."

// VisionModel answers a prompt about one image.
type VisionModel interface {
	Describe(ctx context.Context, prompt, imagePath string) (string, error)
}

// OllamaConfig locates the local ollama server and model.
type OllamaConfig struct {
	BaseURL string
	Port    int
	Model   string
}

// OllamaModel is a VisionModel backed by an agent running on ollama.
type OllamaModel struct {
	provider core.Provider
	logger   logr.Logger
}

// NewOllamaModel checks that ollama is reachable and selects the vision model.
func NewOllamaModel(ctx context.Context, cfg OllamaConfig, logger *slog.Logger) (*OllamaModel, error) {
	if err := pingOllama(ctx, cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := logr.FromSlogHandler(logger.Handler())

	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  &l,
		BaseURL: cfg.BaseURL,
		Port:    cfg.Port,
	})
	return newOllamaModel(ctx, provider, cfg.Model, l)
}

func newOllamaModel(ctx context.Context, provider core.Provider, model string, l logr.Logger) (*OllamaModel, error) {
	if err := provider.UseModel(ctx, &core.Model{ID: model}); err != nil {
		return nil, fmt.Errorf("ollama: use model %s: %w", model, err)
	}
	return &OllamaModel{provider: provider, logger: l}, nil
}

// Describe runs the prompt against the image and returns the model's reply.
// Each call gets a fresh agent so earlier frames never leak into the context.
func (m *OllamaModel) Describe(ctx context.Context, prompt, imagePath string) (string, error) {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}

	a, err := agent.NewAgent(
		bootstrap.WithProvider(m.provider),
		bootstrap.WithSystemPrompt(visionSystemPrompt),
		bootstrap.WithLogger(&m.logger),
		bootstrap.WithMemory(array.NewArrayMemoryBackend()),
		bootstrap.WithMaxSteps(2),
	)
	if err != nil {
		return "", fmt.Errorf("ollama: new agent: %w", err)
	}

	agg, err := a.Run(ctx,
		agent.WithInput(visionSystemPrompt+"\n\n"+prompt),
		agent.WithImageBase64(base64.StdEncoding.EncodeToString(image), imageMimeType(imagePath)),
	)
	if err != nil {
		return "", err
	}
	return replyText(agg)
}

// replyText returns the last assistant message of a run.
func replyText(agg *agent.AgentRunAggregator) (string, error) {
	if agg != nil {
		for i := len(agg.Messages) - 1; i >= 0; i-- {
			msg := agg.Messages[i]
			if msg != nil && msg.Role == core.AssistantMessageRole && strings.TrimSpace(msg.Content) != "" {
				return msg.Content, nil
			}
		}
	}
	return "", fmt.Errorf("no response messages received from model")
}

func imageMimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

func pingOllama(ctx context.Context, cfg OllamaConfig) error {
	url := fmt.Sprintf("%s:%d/api/tags", strings.TrimRight(cfg.BaseURL, "/"), cfg.Port)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("ollama: build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama is not reachable at %s: http %d", url, resp.StatusCode)
	}
	return nil
}
