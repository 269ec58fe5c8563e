package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deepchat-dev/deepchat/internal/db"
	"github.com/deepchat-dev/deepchat/internal/models"
	"go.uber.org/zap"
)

type sendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage appends a user turn and its assistant reply to a
// conversation. All writes of one request share a transaction: the
// user message, the generated title on a first message, the assistant
// message and the updated_at refresh commit together or not at all. A
// failing completion call does not fail the request; the apologetic
// reply text from the chat service is recorded instead.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := h.conversationID(r)
	if err != nil {
		h.fail(w, http.StatusNotFound, "会话不存在")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "无效的请求数据")
		return
	}

	text := strings.TrimSpace(req.Message)
	if text == "" {
		h.fail(w, http.StatusBadRequest, "消息内容不能为空")
		return
	}
	if len([]rune(text)) > h.cfg.MaxMessageLength {
		h.fail(w, http.StatusBadRequest, "消息内容过长")
		return
	}

	ctx := r.Context()

	tx, err := h.store.Begin(ctx)
	if err != nil {
		h.logger.Error("failed to begin transaction", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("发送消息失败: %v", err))
		return
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			h.logger.Error("failed to roll back transaction", zap.Error(rbErr))
		}
	}()

	conversation, err := tx.GetConversation(ctx, id)
	if errors.Is(err, db.ErrConversationNotFound) {
		h.fail(w, http.StatusNotFound, "会话不存在")
		return
	}
	if err != nil {
		h.sendFailed(w, id, err)
		return
	}

	userMsg := &models.Message{
		ConversationID: id,
		Role:           models.RoleUser,
		Content:        text,
	}
	if err := tx.AppendMessage(ctx, userMsg); err != nil {
		h.sendFailed(w, id, err)
		return
	}

	// First message of the conversation names it.
	if conversation.MessageCount == 0 {
		title := h.chat.GenerateTitle(ctx, text)
		if err := tx.UpdateTitle(ctx, id, title); err != nil {
			h.sendFailed(w, id, err)
			return
		}
		conversation.Title = title
	}

	history, err := tx.RecentMessages(ctx, id, h.cfg.MaxConversationMessages)
	if err != nil {
		h.sendFailed(w, id, err)
		return
	}
	// The reload includes the message appended above; the reply prompt
	// wants only the turns that preceded it.
	if n := len(history); n > 0 && history[n-1].ID == userMsg.ID {
		history = history[:n-1]
	}

	reply := h.chat.GenerateReply(ctx, text, history)

	aiMsg := &models.Message{
		ConversationID: id,
		Role:           models.RoleAssistant,
		Content:        reply,
	}
	if err := tx.AppendMessage(ctx, aiMsg); err != nil {
		h.sendFailed(w, id, err)
		return
	}

	if err := tx.Touch(ctx, id, aiMsg.CreatedAt); err != nil {
		h.sendFailed(w, id, err)
		return
	}

	if err := tx.Commit(); err != nil {
		h.sendFailed(w, id, err)
		return
	}
	committed = true

	conversation.UpdatedAt = aiMsg.CreatedAt
	conversation.MessageCount += 2

	h.ok(w, map[string]any{
		"user_message": userMsg,
		"ai_message":   aiMsg,
		"conversation": conversation,
	})
}

func (h *Handler) sendFailed(w http.ResponseWriter, conversationID int64, err error) {
	h.logger.Error("failed to send message",
		zap.Int64("conversation_id", conversationID),
		zap.Error(err))
	h.fail(w, http.StatusInternalServerError, fmt.Sprintf("发送消息失败: %v", err))
}
