package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"prepareup/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// Completer produces a single non-streamed completion.
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

var ErrNotConfigured = errors.New("generation provider not configured")

type chatService struct {
	chatModel   model.BaseChatModel
	provider    string
	modelName   string
	temperature float32
}

// NewChatService builds the eino chat model for provider ("openai", "gemini"
// or "claude").
func NewChatService(ctx context.Context, provider string, provCfg config.ProviderConfig) (*chatService, error) {
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s has no api key", ErrNotConfigured, provider)
	}
	if provCfg.Model == "" {
		return nil, fmt.Errorf("%w: %s has no model", ErrNotConfigured, provider)
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 4096,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &chatService{
		chatModel:   chatModel,
		provider:    provider,
		modelName:   provCfg.Model,
		temperature: 0.4,
	}, nil
}

func (s *chatService) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	resp, err := s.chatModel.Generate(ctx, convertMessages(system, messages), model.WithTemperature(s.temperature))
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", s.provider, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%s generate: empty response", s.provider)
	}
	return strings.TrimSpace(resp.Content), nil
}

func convertMessages(system string, messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages)+1)
	if system != "" {
		out = append(out, schema.SystemMessage(system))
	}
	for _, msg := range messages {
		var role schema.RoleType
		switch msg.Role {
		case RoleAssistant:
			role = schema.Assistant
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}

// Unconfigured is a Completer that always fails; it stands in when no
// provider credentials are available so the rest of the API still serves.
type Unconfigured struct{ Reason error }

func (u Unconfigured) Complete(context.Context, string, []Message) (string, error) {
	if u.Reason != nil {
		return "", u.Reason
	}
	return "", ErrNotConfigured
}
