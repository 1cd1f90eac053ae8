package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/rendis/flowsketch/pkg/schema"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ModelInfo describes one model offered by the provider.
type ModelInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName,omitempty"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"supportedActions,omitempty"`
}

// GeminiConfig configures a GeminiGenerator.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the public one.
	BaseURL string
}

// GeminiGenerator calls the Gemini API through the genai SDK.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a client for cfg. A missing key is a config error.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "API key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "create gemini client").WithCause(err)
	}
	return &GeminiGenerator{client: client, model: cfg.Model}, nil
}

// Model returns the configured model name.
func (g *GeminiGenerator) Model() string {
	return g.model
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", classifyAPIError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", schema.NewError(schema.ErrCodeUpstream, "unexpected response structure from API")
	}
	return resp.Text(), nil
}

// ListModels returns every model visible to the API key.
func (g *GeminiGenerator) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var models []ModelInfo
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, classifyAPIError(err)
		}
		models = append(models, ModelInfo{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Description: m.Description,
			Actions:     m.SupportedActions,
		})
	}
	return models, nil
}

// classifyAPIError maps SDK errors onto error codes so callers can decide on
// retries: 429 is a quota problem, 4xx are permanent, everything else is an
// upstream failure worth retrying.
func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeTimeout, "gemini request timed out").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		details := map[string]any{"status": apiErr.Status, "code": apiErr.Code}
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return schema.NewError(schema.ErrCodeQuotaExceeded, apiErr.Message).WithCause(err).WithDetails(details)
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return schema.NewErrorf(schema.ErrCodeValidation, "API request failed: %d", apiErr.Code).WithCause(err).WithDetails(details)
		default:
			return schema.NewErrorf(schema.ErrCodeUpstream, "API request failed: %d", apiErr.Code).WithCause(err).WithDetails(details)
		}
	}

	if strings.Contains(strings.ToLower(err.Error()), "resource_exhausted") {
		return schema.NewError(schema.ErrCodeQuotaExceeded, err.Error()).WithCause(err)
	}
	return schema.NewError(schema.ErrCodeUpstream, err.Error()).WithCause(err)
}
