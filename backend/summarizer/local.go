package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// LocalBackend talks the OpenAI chat-completions dialect to a local model
// server (Ollama, llama.cpp, vLLM). No data leaves the machine.
type LocalBackend struct {
	client openai.Client
	model  string
}

func NewLocalBackend(baseURL, model string) (*LocalBackend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("local backend base URL is required")
	}
	if model == "" {
		return nil, fmt.Errorf("local backend model is required")
	}

	return &LocalBackend{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			// Local servers ignore the key but the client requires one.
			option.WithAPIKey("local"),
		),
		model: model,
	}, nil
}

func (b *LocalBackend) Name() string {
	return "local"
}

func (b *LocalBackend) Summarize(ctx context.Context, req *Request) (string, error) {
	completion, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(renderPrompt(req)),
		},
	})
	if err != nil {
		return "", b.parseError(err)
	}

	if len(completion.Choices) == 0 {
		return "", NewBackendError(b.Name(), ErrorKindUnknown, fmt.Errorf("response contained no choices"))
	}

	text := completion.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", NewBackendError(b.Name(), ErrorKindUnknown, fmt.Errorf("response contained no text"))
	}
	return text, nil
}

func (b *LocalBackend) parseError(err error) *BackendError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewBackendError(b.Name(), ErrorKindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewBackendError(b.Name(), ErrorKindCanceled, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return NewBackendError(b.Name(), ErrorKindRateLimitExceeded, err)
		case apiErr.StatusCode >= 500:
			return NewBackendError(b.Name(), ErrorKindInternal, err)
		case apiErr.StatusCode >= 400:
			return NewBackendError(b.Name(), ErrorKindInvalidRequest, err)
		}
	}

	// A local server that is not running yet shows up as a connection error;
	// treat it as retryable so the task is not abandoned on the first try.
	return NewBackendError(b.Name(), ErrorKindOverloaded, err)
}
