package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cohesion-org/deepseek-go"
	"github.com/cohesion-org/deepseek-go/constants"
)

type DeepSeekBackend struct {
	client *deepseek.Client
	model  string
}

func NewDeepSeekBackend(apiKey, model string) (*DeepSeekBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}
	if model == "" {
		model = deepseek.DeepSeekChat
	}

	return &DeepSeekBackend{
		client: deepseek.NewClient(apiKey),
		model:  model,
	}, nil
}

func (b *DeepSeekBackend) Name() string {
	return "deepseek"
}

func (b *DeepSeekBackend) Summarize(ctx context.Context, req *Request) (string, error) {
	response, err := b.client.CreateChatCompletion(ctx, &deepseek.ChatCompletionRequest{
		Model: b.model,
		Messages: []deepseek.ChatCompletionMessage{
			{Role: constants.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: constants.ChatMessageRoleUser, Content: renderPrompt(req)},
		},
	})
	if err != nil {
		return "", b.parseError(err)
	}

	if len(response.Choices) == 0 {
		return "", NewBackendError(b.Name(), ErrorKindUnknown, fmt.Errorf("response contained no choices"))
	}

	text := response.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", NewBackendError(b.Name(), ErrorKindUnknown, fmt.Errorf("response contained no text"))
	}
	return text, nil
}

func (b *DeepSeekBackend) parseError(err error) *BackendError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewBackendError(b.Name(), ErrorKindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewBackendError(b.Name(), ErrorKindCanceled, err)
	}

	// The DeepSeek client surfaces HTTP failures as wrapped errors without
	// structured status codes, so classify from the message.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return NewBackendError(b.Name(), ErrorKindRateLimitExceeded, err)
	case strings.Contains(msg, "503"), strings.Contains(msg, "502"):
		return NewBackendError(b.Name(), ErrorKindOverloaded, err)
	case strings.Contains(msg, "500"):
		return NewBackendError(b.Name(), ErrorKindInternal, err)
	case strings.Contains(msg, "400"), strings.Contains(msg, "422"):
		return NewBackendError(b.Name(), ErrorKindInvalidRequest, err)
	default:
		return NewBackendError(b.Name(), ErrorKindUnknown, err)
	}
}
