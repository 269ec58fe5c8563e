package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newViews(t *testing.T) *Views {
	t.Helper()
	views, err := New(zap.NewNop())
	require.NoError(t, err)
	return views
}

func TestChatView(t *testing.T) {
	views := newViews(t)

	req := httptest.NewRequest(http.MethodGet, "/?conversation=3", nil)
	w := httptest.NewRecorder()
	views.Chat(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "AI聊天助手")
}

func TestUnknownPathFallsBackToChatView(t *testing.T) {
	views := newViews(t)

	req := httptest.NewRequest(http.MethodGet, "/no/such/page", nil)
	w := httptest.NewRecorder()
	views.Chat(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "AI聊天助手")
}

func TestConversationsView(t *testing.T) {
	views := newViews(t)

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	w := httptest.NewRecorder()
	views.Conversations(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "会话记录")
}
