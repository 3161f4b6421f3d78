package llm

import (
	"github.com/codexec/codebot/internal/config"
	"github.com/sashabaranov/go-openai"
)

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg config.LLMConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(clientCfg)
}
