package web

import (
	"embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Views serves the two server-rendered pages. They consume the JSON API
// from the browser.
type Views struct {
	templates *template.Template
	logger    *zap.Logger
}

func New(logger *zap.Logger) (*Views, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Views{templates: templates, logger: logger}, nil
}

// Chat renders the chat view. Unknown paths land here too, with a 404
// status, keeping the page as the catch-all front end.
func (v *Views) Chat(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if r.URL.Path != "/" {
		status = http.StatusNotFound
	}
	v.render(w, "chat.html", status, map[string]any{
		"ConversationID": r.URL.Query().Get("conversation"),
	})
}

// Conversations renders the conversation-list view.
func (v *Views) Conversations(w http.ResponseWriter, r *http.Request) {
	v.render(w, "conversations.html", http.StatusOK, nil)
}

func (v *Views) render(w http.ResponseWriter, name string, status int, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := v.templates.ExecuteTemplate(w, name, data); err != nil {
		v.logger.Error("failed to render template",
			zap.String("template", name),
			zap.Error(err))
	}
}
