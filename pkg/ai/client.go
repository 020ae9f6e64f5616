// Package ai talks to an OpenAI-compatible endpoint for the similarity oracle and usage insights.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/sashabaranov/go-openai"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	ModeChat       = "chat"
	ModeEmbeddings = "embeddings"
)

// Config holds configuration for the AI client
type Config struct {
	APIKey string
	// BaseURL overrides the OpenAI endpoint, e.g. for a compatible gateway.
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	// Mode selects how EmbedSimilarity scores a pair: chat or embeddings.
	Mode string
}

// Client wraps go-openai
type Client struct {
	client *openai.Client
	cfg    Config
	logger ectologger.Logger
}

func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT3Dot5Turbo
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeChat
	}
	if cfg.Mode != ModeChat && cfg.Mode != ModeEmbeddings {
		return nil, fmt.Errorf("unknown ai mode %q", cfg.Mode)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger,
	}, nil
}

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// EmbedSimilarity scores how likely two record texts describe the same entity, in [0, 1].
func (c *Client) EmbedSimilarity(ctx context.Context, textA, textB string) (float64, error) {
	ctx, span := tracing.StartSpan(ctx, "ai.EmbedSimilarity")
	defer span.End()

	if c.cfg.Mode == ModeEmbeddings {
		return c.embeddingSimilarity(ctx, textA, textB)
	}
	return c.chatSimilarity(ctx, textA, textB)
}

func (c *Client) chatSimilarity(ctx context.Context, textA, textB string) (float64, error) {
	content, err := c.complete(ctx,
		"You are a duplicate detection expert. Compare two entities and return a similarity score from 0 to 1.",
		fmt.Sprintf("Entity 1: %s\n\nEntity 2: %s\n\nAre these the same person/entity? Return only a number from 0 to 1.", textA, textB),
	)
	if err != nil {
		return 0, err
	}
	return ParseScore(content)
}

// ParseScore reads the first number in a model reply and clamps it to [0, 1].
func ParseScore(reply string) (float64, error) {
	match := numberPattern.FindString(reply)
	if match == "" {
		return 0, fmt.Errorf("no score in reply %q", reply)
	}
	score, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q: %w", match, err)
	}
	return math.Max(0, math.Min(1, score)), nil
}

func (c *Client) embeddingSimilarity(ctx context.Context, textA, textB string) (float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Input: []string{textA, textB},
	})
	if err != nil {
		return 0, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != 2 {
		return 0, fmt.Errorf("expected 2 embeddings, got %d", len(resp.Data))
	}
	return math.Max(0, Cosine(resp.Data[0].Embedding, resp.Data[1].Embedding)), nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is empty or zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Insights asks the chat model for a short analysis of usage statistics.
func (c *Client) Insights(ctx context.Context, stats any) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "ai.Insights")
	defer span.End()

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return "", err
	}
	return c.complete(ctx,
		"You are a business intelligence analyst. Analyze usage patterns and provide actionable insights.",
		fmt.Sprintf("Analyze these usage statistics and provide 3-5 insights:\n\n%s", data),
	)
}

func (c *Client) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("chat completion failed")
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("chat completion finished")
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
