package summarizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicBackend struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

type AnthropicOption func(*anthropicOptions)

type anthropicOptions struct {
	url       string
	maxTokens int64
}

func WithAnthropicURL(url string) AnthropicOption {
	return func(o *anthropicOptions) {
		o.url = url
	}
}

func WithAnthropicMaxTokens(n int64) AnthropicOption {
	return func(o *anthropicOptions) {
		o.maxTokens = n
	}
}

func NewAnthropicBackend(apiKey, model string, opts ...AnthropicOption) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}

	options := &anthropicOptions{maxTokens: 1024}
	for _, opt := range opts {
		opt(options)
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.url != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(options.url))
	}

	return &AnthropicBackend{
		client:    anthropic.NewClient(clientOptions...),
		model:     model,
		maxTokens: options.maxTokens,
	}, nil
}

func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

func (b *AnthropicBackend) Summarize(ctx context.Context, req *Request) (string, error) {
	message, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: b.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(renderPrompt(req))),
		},
	})
	if err != nil {
		return "", b.parseError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", NewBackendError(b.Name(), ErrorKindUnknown, fmt.Errorf("response contained no text"))
	}
	return text.String(), nil
}

func (b *AnthropicBackend) parseError(err error) *BackendError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewBackendError(b.Name(), ErrorKindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewBackendError(b.Name(), ErrorKindCanceled, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		backendErr := NewBackendError(b.Name(), ErrorKindUnknown, err)
		switch {
		case apiErr.StatusCode == 429:
			backendErr.Kind = ErrorKindRateLimitExceeded
			if apiErr.Response != nil {
				if retryAfter := apiErr.Response.Header.Get("Retry-After"); retryAfter != "" {
					if seconds, err := strconv.Atoi(retryAfter); err == nil {
						backendErr.RetryAfter = time.Duration(seconds) * time.Second
					}
				}
			}
		case apiErr.StatusCode == 529:
			backendErr.Kind = ErrorKindOverloaded
			backendErr.RetryAfter = 10 * time.Second
		case apiErr.StatusCode >= 500:
			backendErr.Kind = ErrorKindInternal
		case apiErr.StatusCode >= 400:
			backendErr.Kind = ErrorKindInvalidRequest
		}
		return backendErr
	}

	return NewBackendError(b.Name(), ErrorKindUnknown, err)
}

// renderPrompt flattens the digest and context bundles into the single user
// message sent to narrative backends.
func renderPrompt(req *Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pane %s, %s to %s.\n\n",
		req.Key,
		req.WindowStart.Format(time.RFC3339),
		req.WindowEnd.Format(time.RFC3339),
	)
	sb.WriteString(req.Digest)

	names := make([]string, 0, len(req.Context))
	for name := range req.Context {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "\n\n[context: %s]\n%s", name, req.Context[name])
	}
	return sb.String()
}
