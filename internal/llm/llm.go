// Package llm wraps the Gemini API for embeddings, candidate verification,
// briefing curation, narrative drafting and thread titling.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"storyline/internal/config"
	"storyline/internal/embedding"
	"storyline/internal/retry"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model for generation.
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultEmbeddingModel is the default model for generating embeddings
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = int32(768)
)

// ErrEmptyResponse is returned when the model answers with no text
var ErrEmptyResponse = errors.New("empty response from model")

// Client is a Gemini client with per-capability retry policies
type Client struct {
	gClient        *genai.Client
	modelName      string
	verifyModel    string
	embeddingModel string
	dimensions     int32
	maxTokens      int32
	temperature    float32
	retries        retry.Set
}

// TextGenerationOptions contains options for text generation
type TextGenerationOptions struct {
	MaxTokens      int32         // Maximum number of tokens to generate
	Temperature    float32       // Temperature for randomness (0.0 to 1.0)
	Model          string        // Model to use (optional, defaults to client's model)
	ResponseSchema *genai.Schema // Optional schema for structured JSON output
}

// NewClient creates a Gemini client from configuration
func NewClient(ctx context.Context, cfg config.GeminiConfig, retries retry.Set) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file")
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		gClient:        gClient,
		modelName:      orDefault(cfg.Model, DefaultModel),
		verifyModel:    orDefault(cfg.VerifyModel, cfg.Model),
		embeddingModel: orDefault(cfg.EmbeddingModel, DefaultEmbeddingModel),
		dimensions:     cfg.EmbeddingDimensions,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		retries:        retries,
	}
	if c.verifyModel == "" {
		c.verifyModel = c.modelName
	}
	if c.dimensions <= 0 {
		c.dimensions = DefaultEmbeddingDimensions
	}
	return c, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ModelName returns the generation model used by this client
func (c *Client) ModelName() string {
	return c.modelName
}

// GenerateText generates text using the model with the generate retry policy
func (c *Client) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	return c.generate(ctx, c.retries.Generate, prompt, options)
}

func (c *Client) generate(ctx context.Context, policy retry.Policy, prompt string, options TextGenerationOptions) (string, error) {
	if prompt == "" {
		return "", retry.Permanent(fmt.Errorf("prompt cannot be empty"))
	}

	modelName := c.modelName
	if options.Model != "" {
		modelName = options.Model
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	cfg := &genai.GenerateContentConfig{}
	maxTokens := options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = maxTokens
	}
	temp := options.Temperature
	if temp == 0 {
		temp = c.temperature
	}
	if temp > 0 {
		cfg.Temperature = &temp
	}
	if options.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = options.ResponseSchema
	}

	var text string
	err := policy.Do(ctx, func(ctx context.Context) error {
		resp, err := c.gClient.Models.GenerateContent(ctx, modelName, contents, cfg)
		if err != nil {
			return fmt.Errorf("failed to generate text: %w", err)
		}
		text = resp.Text()
		if text == "" {
			return ErrEmptyResponse
		}
		return nil
	})
	return text, err
}

// generateJSON runs a structured generation and decodes the answer into out
func (c *Client) generateJSON(ctx context.Context, policy retry.Policy, prompt string, options TextGenerationOptions, out interface{}) error {
	text, err := c.generate(ctx, policy, prompt, options)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), out); err != nil {
		return fmt.Errorf("failed to decode model response: %w", err)
	}
	return nil
}

// Embed generates a vector embedding for text using the configured embedding model
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: truncateRunes(text, 8000)}},
		Role:  "user",
	}}
	dims := c.dimensions
	cfg := &genai.EmbedContentConfig{OutputDimensionality: &dims}

	var vector []float64
	err := c.retries.Embed.Do(ctx, func(ctx context.Context) error {
		resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, cfg)
		if err != nil {
			return fmt.Errorf("failed to generate embedding: %w", err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
			return fmt.Errorf("no embedding values returned from API")
		}
		vector = embedding.ToFloat64(resp.Embeddings[0].Values)
		return nil
	})
	return vector, err
}

// EmbeddingModel identifies the embedding model and dimensions, used as a cache namespace
func (c *Client) EmbeddingModel() string {
	return fmt.Sprintf("%s/%d", c.embeddingModel, c.dimensions)
}

// stripCodeFence removes a surrounding ```json fence some models add despite the MIME type
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
