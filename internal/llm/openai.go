package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// chatSleepFunc is swapped out in tests to avoid real retry delays.
var chatSleepFunc = time.Sleep

// OpenAIClient implements Client on the OpenAI chat and embedding APIs.
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	retryDelay     time.Duration
	log            zerolog.Logger
}

// OpenAIConfig holds what the client needs from process configuration.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
	RetryDelay     time.Duration
}

// NewOpenAIClient creates a client from configuration.
func NewOpenAIClient(cfg OpenAIConfig, log zerolog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientConfig),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		retryDelay:     retryDelay,
		log:            log,
	}, nil
}

// ChatJSON makes a JSON-mode chat call. A rate-limited rejection gets
// exactly one retry after a fixed delay; every other failure is returned
// immediately.
func (c *OpenAIClient) ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	raw, err := c.chatOnce(ctx, systemPrompt, userPrompt)
	if err == nil {
		return raw, nil
	}
	if !IsRateLimited(err) {
		return nil, err
	}

	c.log.Warn().Dur("retry_delay", c.retryDelay).Msg("chat call rate limited, retrying once")
	chatSleepFunc(c.retryDelay)
	return c.chatOnce(ctx, systemPrompt, userPrompt)
}

func (c *OpenAIClient) chatOnce(ctx context.Context, systemPrompt, userPrompt string) (json.RawMessage, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, &Error{Kind: classify(err), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindBadResponse, Err: fmt.Errorf("no choices in response")}
	}

	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		return nil, &Error{Kind: KindBadResponse, Err: fmt.Errorf("response is not valid JSON")}
	}
	return json.RawMessage(content), nil
}

// Embed returns one vector per text. Upstream failure yields empty vectors
// so callers degrade gracefully instead of failing the claim job.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		c.log.Error().Err(err).Int("texts", len(texts)).Msg("embedding call failed, returning empty vectors")
		return make([][]float32, len(texts)), nil
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

func classify(err error) Kind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return KindRateLimited
	}
	return KindTransport
}
