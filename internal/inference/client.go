// Package inference talks to the hosted model inference service over HTTP.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdougie/vidclassify/internal/models"
)

const defaultHTTPTimeout = 120 * time.Second

// Config captures what is needed to reach a model.
type Config struct {
	Token string
	// EndpointURL targets a dedicated endpoint. When empty the shared
	// model at BaseURL/Model is used.
	EndpointURL string
	BaseURL     string
	Model       string
	Timeout     time.Duration
}

// Client posts classification requests to one model URL.
type Client struct {
	token      string
	url        string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient selects the dedicated endpoint or the shared model URL.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("inference client: token required")
	}
	target := strings.TrimSpace(cfg.EndpointURL)
	if target == "" {
		base := strings.TrimSpace(cfg.BaseURL)
		model := strings.TrimSpace(cfg.Model)
		if base == "" || model == "" {
			return nil, errors.New("inference client: endpoint url or base url and model required")
		}
		joined, err := url.JoinPath(base, model)
		if err != nil {
			return nil, fmt.Errorf("inference client: build url: %w", err)
		}
		target = joined
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &Client{
		token:      token,
		url:        target,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// URL returns the model URL requests are sent to.
func (c *Client) URL() string {
	return c.url
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
}

// ZeroShot submits raw media bytes with every candidate label in one call and
// returns the service's ranking, best first.
func (c *Client) ZeroShot(ctx context.Context, media []byte, labels []string) ([]models.Candidate, error) {
	payload := zeroShotRequest{
		Inputs:     base64.StdEncoding.EncodeToString(media),
		Parameters: zeroShotParameters{CandidateLabels: labels},
	}
	body, err := c.Post(ctx, payload)
	if err != nil {
		return nil, err
	}
	var ranking []models.Candidate
	if err := json.Unmarshal(body, &ranking); err != nil {
		return nil, fmt.Errorf("inference request: decode ranking: %w", err)
	}
	return ranking, nil
}

// Post sends payload as JSON and returns the raw response body.
func (c *Client) Post(ctx context.Context, payload any) (json.RawMessage, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("inference request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("inference request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransientError{Kind: Network, Err: fmt.Errorf("inference request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransientError{Kind: Network, Err: fmt.Errorf("inference request: read body: %w", err)}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, classifyStatus(&StatusError{
			StatusCode: resp.StatusCode,
			Body:       errorMessage(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		})
	}
	return json.RawMessage(body), nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to the raw text.
func errorMessage(body []byte) string {
	var parsed struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		switch v := parsed.Error.(type) {
		case string:
			return truncate(v, maxErrorMessage)
		default:
			if b, err := json.Marshal(v); err == nil {
				return truncate(string(b), maxErrorMessage)
			}
		}
	}
	return truncate(strings.TrimSpace(string(body)), maxErrorMessage)
}

const maxErrorMessage = 512

// truncate cuts s to at most n bytes on a rune boundary. Invalid UTF-8 from
// the remote body is replaced so the message can be persisted as text.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
