package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/talkgpt/backend/internal/config"
	"github.com/zhouzirui/talkgpt/backend/internal/model/chat"
)

// Service adapts the conversation history to the completion provider. It
// offers a blocking full-response call and an incremental streaming call
// over the same prompt chain.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the completion client. Model name, temperature, max
// tokens and credentials are fixed for the process lifetime.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Complete replays the full history plus the new user message and returns
// the provider's complete response.
func (s *Service) Complete(ctx context.Context, history []chat.Message, userMessage string) (*schema.Message, error) {
	input := s.buildChainInput(history, userMessage)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	log.Printf("[ai] generated response, history=%d, length=%d", len(history), len(response.Content))
	return response, nil
}

// Stream returns a finite forward-only fragment stream for the same input.
// The reader ends with io.EOF once the provider is done.
func (s *Service) Stream(ctx context.Context, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	input := s.buildChainInput(history, userMessage)

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream completion: %w", err)
	}

	return stream, nil
}

func (s *Service) buildChainInput(history []chat.Message, userMessage string) map[string]any {
	return map[string]any{
		"system":  s.cfg.SystemPrompt,
		"history": buildHistoryMessages(history),
		"query":   userMessage,
	}
}

// buildHistoryMessages converts the stored transcript, in sequence order,
// into the schema the model consumes. The whole history is replayed; the
// transcript is the only conversation state the provider ever sees.
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
