package summarizer

import (
	"fmt"
	"os"

	"github.com/Waridley/crumbeez/backend/config"
)

// FromSettings builds the one configured backend. API keys come from the
// environment variable named in the settings, never from the file itself.
func FromSettings(settings config.BackendSettings) (Backend, error) {
	switch settings.Kind {
	case config.BackendNoop:
		return NewNoopBackend(), nil

	case config.BackendAnthropic:
		apiKey := os.Getenv(settings.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("environment variable %s is empty", settings.APIKeyEnv)
		}
		var opts []AnthropicOption
		if settings.BaseURL != "" {
			opts = append(opts, WithAnthropicURL(settings.BaseURL))
		}
		return NewAnthropicBackend(apiKey, settings.Model, opts...)

	case config.BackendDeepSeek:
		apiKey := os.Getenv(settings.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("environment variable %s is empty", settings.APIKeyEnv)
		}
		return NewDeepSeekBackend(apiKey, settings.Model)

	case config.BackendLocal:
		return NewLocalBackend(settings.BaseURL, settings.Model)

	default:
		return nil, fmt.Errorf("unknown backend kind %q", settings.Kind)
	}
}
