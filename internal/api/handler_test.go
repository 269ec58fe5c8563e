package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/deepchat-dev/deepchat/internal/api"
	"github.com/deepchat-dev/deepchat/internal/config"
	"github.com/deepchat-dev/deepchat/internal/db"
	"github.com/deepchat-dev/deepchat/internal/llm"
	"github.com/deepchat-dev/deepchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

var errDatabaseDown = errors.New("database is down")

type fakeChat struct {
	reply      string
	title      string
	titleCalls int
}

func (f *fakeChat) GenerateReply(_ context.Context, _ string, _ []models.Message) string {
	return f.reply
}

func (f *fakeChat) GenerateTitle(_ context.Context, _ string) string {
	f.titleCalls++
	return f.title
}

func newTestServer(t *testing.T, chat api.ChatService) http.Handler {
	t.Helper()

	logger := zap.NewNop()
	database, err := db.Open(filepath.Join(t.TempDir(), "chat_test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{MaxMessageLength: 2000, MaxConversationMessages: 100}
	handler := api.NewHandler(database, chat, cfg, logger)

	mux := http.NewServeMux()
	handler.Register(mux)
	return mux
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type sendData struct {
	UserMessage  models.Message      `json:"user_message"`
	AIMessage    models.Message      `json:"ai_message"`
	Conversation models.Conversation `json:"conversation"`
}

type detailData struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w.Code, env
}

func createConversation(t *testing.T, srv http.Handler) models.Conversation {
	t.Helper()

	code, env := doJSON(t, srv, http.MethodPost, "/api/conversations", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var conv models.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	return conv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeChat{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "AI聊天助手运行正常", body["message"])
}

func TestCreateConversation(t *testing.T) {
	srv := newTestServer(t, &fakeChat{})

	first := createConversation(t, srv)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "新对话", first.Title)
	assert.Zero(t, first.MessageCount)

	second := createConversation(t, srv)
	assert.Greater(t, second.ID, first.ID)
}

func TestSendMessageFlow(t *testing.T) {
	chat := &fakeChat{reply: "你好！很高兴见到你。", title: "打招呼"}
	srv := newTestServer(t, chat)
	conv := createConversation(t, srv)

	code, env := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var data sendData
	require.NoError(t, json.Unmarshal(env.Data, &data))

	assert.Equal(t, "hello", data.UserMessage.Content)
	assert.Equal(t, models.RoleUser, data.UserMessage.Role)
	assert.Equal(t, models.RoleAssistant, data.AIMessage.Role)
	assert.Equal(t, "你好！很高兴见到你。", data.AIMessage.Content)
	assert.Equal(t, conv.ID, data.UserMessage.ConversationID)

	assert.Equal(t, "打招呼", data.Conversation.Title)
	assert.Equal(t, 2, data.Conversation.MessageCount)
	assert.Equal(t, 1, chat.titleCalls)
	assert.False(t, data.Conversation.UpdatedAt.Before(conv.UpdatedAt))

	// The title is generated on the first message only.
	code, env = doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", `{"message":"再来一条"}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 4, data.Conversation.MessageCount)
	assert.Equal(t, 1, chat.titleCalls)

	code, env = doJSON(t, srv, http.MethodGet, "/api/conversations/1", "")
	require.Equal(t, http.StatusOK, code)
	var detail detailData
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, 4, detail.Conversation.MessageCount)
	require.Len(t, detail.Messages, 4)
	assert.Equal(t, "hello", detail.Messages[0].Content)
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	srv := newTestServer(t, &fakeChat{reply: "ok", title: "t"})
	createConversation(t, srv)

	for _, body := range []string{`{"message":""}`, `{"message":"   \n\t "}`, `{}`} {
		code, env := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", body)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.False(t, env.Success)
		assert.Equal(t, "消息内容不能为空", env.Message)
	}

	// Nothing was persisted.
	code, env := doJSON(t, srv, http.MethodGet, "/api/conversations/1/messages", "")
	require.Equal(t, http.StatusOK, code)
	var messages []models.Message
	require.NoError(t, json.Unmarshal(env.Data, &messages))
	assert.Empty(t, messages)
}

func TestSendMessageRejectsOverlongText(t *testing.T) {
	srv := newTestServer(t, &fakeChat{reply: "ok", title: "t"})
	createConversation(t, srv)

	body := `{"message":"` + strings.Repeat("a", 2001) + `"}`
	code, env := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "消息内容过长", env.Message)
}

func TestSendMessageUnknownConversation(t *testing.T) {
	srv := newTestServer(t, &fakeChat{reply: "ok", title: "t"})

	code, env := doJSON(t, srv, http.MethodPost, "/api/conversations/99/messages", `{"message":"hello"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "会话不存在", env.Message)

	code, env = doJSON(t, srv, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, code)
	var conversations []models.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conversations))
	assert.Empty(t, conversations)
}

func TestGetConversationNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeChat{})

	code, env := doJSON(t, srv, http.MethodGet, "/api/conversations/5", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)

	code, _ = doJSON(t, srv, http.MethodGet, "/api/conversations/not-a-number", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteConversationCascades(t *testing.T) {
	srv := newTestServer(t, &fakeChat{reply: "ok", title: "t"})
	createConversation(t, srv)

	code, _ := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, code)

	code, env := doJSON(t, srv, http.MethodDelete, "/api/conversations/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "会话删除成功", env.Message)

	// Listing messages of a deleted conversation is a 404, not an
	// empty list.
	code, _ = doJSON(t, srv, http.MethodGet, "/api/conversations/1/messages", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = doJSON(t, srv, http.MethodGet, "/api/conversations/1", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteConversationNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeChat{})

	code, env := doJSON(t, srv, http.MethodDelete, "/api/conversations/3", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	srv := newTestServer(t, &fakeChat{reply: "ok", title: "t"})
	first := createConversation(t, srv)
	second := createConversation(t, srv)

	code, _ := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, code)

	code, env := doJSON(t, srv, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, code)
	var conversations []models.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conversations))
	require.Len(t, conversations, 2)
	assert.Equal(t, first.ID, conversations[0].ID)
	assert.Equal(t, second.ID, conversations[1].ID)
}

type failingProvider struct{}

func (failingProvider) Generate(context.Context, []llms.MessageContent) (string, error) {
	return "", errors.New("connection refused")
}

// A failing completion call degrades the reply but not the request: the
// user message and a synthetic error reply are still committed.
func TestSendMessageDegradesOnLLMFailure(t *testing.T) {
	chat := llm.NewService(failingProvider{}, zap.NewNop())
	srv := newTestServer(t, chat)
	createConversation(t, srv)

	code, env := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", `{"message":"你好"}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var data sendData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, models.RoleAssistant, data.AIMessage.Role)
	assert.Contains(t, data.AIMessage.Content, "抱歉，生成回复时出现错误")
	assert.Equal(t, llm.FallbackTitle, data.Conversation.Title)
	assert.Equal(t, 2, data.Conversation.MessageCount)

	code, env = doJSON(t, srv, http.MethodGet, "/api/conversations/1/messages", "")
	require.Equal(t, http.StatusOK, code)
	var messages []models.Message
	require.NoError(t, json.Unmarshal(env.Data, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "你好", messages[0].Content)
}

func newMockServer(t *testing.T, chat api.ChatService) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cfg := &config.Config{MaxMessageLength: 2000, MaxConversationMessages: 100}
	handler := api.NewHandler(db.New(conn, false, zap.NewNop()), chat, cfg, zap.NewNop())

	mux := http.NewServeMux()
	handler.Register(mux)
	return mux, mock
}

func conversationRow(messageCount int) *sqlmock.Rows {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "title", "created_at", "updated_at", "count"}).
		AddRow(1, models.DefaultTitle, now, now, messageCount)
}

func TestSendMessageUserWriteFailureRollsBack(t *testing.T) {
	srv, mock := newMockServer(t, &fakeChat{reply: "回答", title: "标题"})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT c.id").WillReturnRows(conversationRow(0))
	mock.ExpectQuery("INSERT INTO messages").WillReturnError(errDatabaseDown)
	mock.ExpectRollback()

	code, env := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", `{"message":"你好"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "发送消息失败")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendMessageAssistantWriteFailureRollsBackUserMessage(t *testing.T) {
	srv, mock := newMockServer(t, &fakeChat{reply: "回答", title: "标题"})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT c.id").WillReturnRows(conversationRow(0))
	mock.ExpectQuery("INSERT INTO messages").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("UPDATE conversations SET title").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, conversation_id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "created_at"}).
			AddRow(1, 1, models.RoleUser, "你好", now))
	mock.ExpectQuery("INSERT INTO messages").WillReturnError(errDatabaseDown)
	mock.ExpectRollback()

	code, env := doJSON(t, srv, http.MethodPost, "/api/conversations/1/messages", `{"message":"你好"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "发送消息失败")
	// The rollback expectation proves the already-inserted user message
	// does not survive the failed request.
	assert.NoError(t, mock.ExpectationsWereMet())
}
