package responder

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI generates drafts with a chat completion. The active persona becomes
// the system message.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if sys := systemPrompt(req); sys != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.LastMessage,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func systemPrompt(req Request) string {
	p := req.Prompt
	if p == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Content))
	if p.AssistantName != "" {
		fmt.Fprintf(&b, "\n\nYour name is %s.", p.AssistantName)
	}
	if p.Tone != "" {
		fmt.Fprintf(&b, "\nAnswer in a %s tone.", p.Tone)
	}
	return strings.TrimSpace(b.String())
}
