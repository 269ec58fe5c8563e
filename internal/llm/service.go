package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepchat-dev/deepchat/internal/models"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

const (
	chatSystemPrompt  = "你是一个有用的AI助手，请用中文回答用户的问题。回答要准确、有帮助，并且简洁明了。"
	titleSystemPrompt = "你是一个标题生成助手，请根据用户消息生成简洁的对话标题。"

	// FallbackTitle labels a conversation when title generation fails.
	FallbackTitle = "新对话"

	maxTitleRunes = 20

	// historyWindow bounds the trailing context to the last 10
	// user/assistant pairs.
	historyWindow = 20
)

// Service turns user messages into assistant replies and conversation
// titles via a completion Provider.
type Service struct {
	provider Provider
	logger   *zap.Logger
}

func NewService(provider Provider, logger *zap.Logger) *Service {
	return &Service{provider: provider, logger: logger}
}

// GenerateReply answers userMessage given the trailing window of prior
// turns. On any provider failure it returns an apologetic reply instead
// of an error, so the turn is still recorded.
func (s *Service) GenerateReply(ctx context.Context, userMessage string, history []models.Message) string {
	window := history
	if len(window) > historyWindow {
		window = window[len(window)-historyWindow:]
	}

	messages := make([]llms.MessageContent, 0, len(window)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, chatSystemPrompt))
	for _, msg := range window {
		role := llms.ChatMessageTypeHuman
		if msg.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, msg.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, userMessage))

	reply, err := s.provider.Generate(WithCallSite(ctx, "chat.reply"), messages)
	if err != nil {
		s.logger.Error("failed to generate reply", zap.Error(err))
		return fmt.Sprintf("抱歉，生成回复时出现错误：%v", err)
	}
	return reply
}

// GenerateTitle derives a short conversation title from the first user
// message. The result is truncated to 20 characters, counted in runes,
// with an ellipsis marker appended when truncated. On failure it
// returns FallbackTitle.
func (s *Service) GenerateTitle(ctx context.Context, firstMessage string) string {
	prompt := fmt.Sprintf("请为以下对话生成一个简洁的标题（不超过20个字符）：\n\n用户消息：%s\n\n标题：", firstMessage)
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, titleSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	title, err := s.provider.Generate(WithCallSite(ctx, "chat.title"), messages)
	if err != nil {
		s.logger.Error("failed to generate title", zap.Error(err))
		return FallbackTitle
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return FallbackTitle
	}
	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes]) + "..."
	}
	return title
}
