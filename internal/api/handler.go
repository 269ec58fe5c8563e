package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/deepchat-dev/deepchat/internal/config"
	"github.com/deepchat-dev/deepchat/internal/db"
	"github.com/deepchat-dev/deepchat/internal/models"
	"go.uber.org/zap"
)

// ChatService generates assistant replies and conversation titles. Both
// operations degrade internally and never fail the request.
type ChatService interface {
	GenerateReply(ctx context.Context, userMessage string, history []models.Message) string
	GenerateTitle(ctx context.Context, firstMessage string) string
}

type Handler struct {
	store  *db.Database
	chat   ChatService
	cfg    *config.Config
	logger *zap.Logger
}

func NewHandler(store *db.Database, chat ChatService, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		chat:   chat,
		cfg:    cfg,
		logger: logger,
	}
}

// Register mounts the JSON API and the liveness endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations", h.ListConversations)
	mux.HandleFunc("POST /api/conversations", h.CreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}", h.GetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.DeleteConversation)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.SendMessage)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.ListMessages)
	mux.HandleFunc("GET /health", h.Health)
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) ok(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

func (h *Handler) fail(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, response{Success: false, Message: message})
}

func (h *Handler) conversationID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "AI聊天助手运行正常",
	})
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.store.ListConversations(r.Context())
	if err != nil {
		h.logger.Error("failed to list conversations", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("获取会话列表失败: %v", err))
		return
	}
	h.ok(w, conversations)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	conversation, err := h.store.CreateConversation(r.Context())
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("创建会话失败: %v", err))
		return
	}
	h.ok(w, conversation)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := h.conversationID(r)
	if err != nil {
		h.fail(w, http.StatusNotFound, "会话不存在")
		return
	}

	conversation, err := h.store.GetConversation(r.Context(), id)
	if errors.Is(err, db.ErrConversationNotFound) {
		h.fail(w, http.StatusNotFound, "会话不存在")
		return
	}
	if err != nil {
		h.logger.Error("failed to get conversation", zap.Int64("conversation_id", id), zap.Error(err))
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("获取会话详情失败: %v", err))
		return
	}

	messages, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Int64("conversation_id", id), zap.Error(err))
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("获取会话详情失败: %v", err))
		return
	}

	h.ok(w, map[string]any{
		"conversation": conversation,
		"messages":     messages,
	})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := h.conversationID(r)
	if err != nil {
		h.fail(w, http.StatusNotFound, "会话不存在")
		return
	}

	err = h.store.DeleteConversation(r.Context(), id)
	if errors.Is(err, db.ErrConversationNotFound) {
		h.fail(w, http.StatusNotFound, "会话不存在")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete conversation", zap.Int64("conversation_id", id), zap.Error(err))
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("删除会话失败: %v", err))
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "会话删除成功"})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := h.conversationID(r)
	if err != nil {
		h.fail(w, http.StatusNotFound, "会话不存在")
		return
	}

	if _, err := h.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrConversationNotFound) {
			h.fail(w, http.StatusNotFound, "会话不存在")
			return
		}
		h.logger.Error("failed to get conversation", zap.Int64("conversation_id", id), zap.Error(err))
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("获取消息列表失败: %v", err))
		return
	}

	messages, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Int64("conversation_id", id), zap.Error(err))
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("获取消息列表失败: %v", err))
		return
	}

	h.ok(w, messages)
}
