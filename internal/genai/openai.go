package genai

import (
	"context"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines the interface for creating chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// chatServiceAdapter adapts openai.ChatCompletionService to chatService.
type chatServiceAdapter struct {
	svc *openai.ChatCompletionService
}

func (a *chatServiceAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// openAIBackend sends prompts as single user messages to an
// OpenAI-compatible chat completions endpoint. One SDK client is kept per
// base URL.
type openAIBackend struct {
	apiKey  string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]chatService
	factory func(endpoint string) chatService
}

func newOpenAIBackend(apiKey string, timeout time.Duration) *openAIBackend {
	b := &openAIBackend{
		apiKey:  apiKey,
		timeout: timeout,
		clients: make(map[string]chatService),
	}
	b.factory = b.newChatService
	return b
}

func (b *openAIBackend) newChatService(endpoint string) chatService {
	opts := []option.RequestOption{
		option.WithAPIKey(b.apiKey),
		option.WithRequestTimeout(b.timeout),
		option.WithMaxRetries(0),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := openai.NewClient(opts...)
	return &chatServiceAdapter{svc: &client.Chat.Completions}
}

func (b *openAIBackend) service(endpoint string) chatService {
	b.mu.Lock()
	defer b.mu.Unlock()
	svc, ok := b.clients[endpoint]
	if !ok {
		svc = b.factory(endpoint)
		b.clients[endpoint] = svc
	}
	return svc
}

func (b *openAIBackend) Generate(ctx context.Context, endpoint string, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Model:       openai.ChatModel(req.Model),
		Temperature: openai.Float(req.Temperature),
		TopP:        openai.Float(req.TopP),
	}
	resp, err := b.service(endpoint).Create(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
