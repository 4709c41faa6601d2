package main

import (
	"embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"dbquery/internal/config"
	"dbquery/internal/copilot"
	"dbquery/internal/session"
	"dbquery/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// WebHandler handles HTML page requests
type WebHandler struct {
	Service   *copilot.Service
	Logger    *zap.Logger
	templates *template.Template
}

// NewWebHandler creates a new WebHandler with parsed templates
func NewWebHandler(svc *copilot.Service, logger *zap.Logger) *WebHandler {
	tmpl := template.Must(template.New("").Funcs(template.FuncMap{
		"cell": store.Cell,
	}).ParseFS(templateFS, "templates/*.html"))
	return &WebHandler{
		Service:   svc,
		Logger:    logger,
		templates: tmpl,
	}
}

// pageData is shared by every page
type pageData struct {
	Title     string
	ThemeName string
	Theme     config.Palette
	Themes    []string
	Demo      bool
	SessionID string
}

func (h *WebHandler) page(w http.ResponseWriter, r *http.Request, title string) (*session.Session, pageData) {
	sess := resolveSession(h.Service, w, r)
	sess.Lock()
	defer sess.Unlock()

	name, palette := config.Theme(sess.Theme)
	return sess, pageData{
		Title:     title,
		ThemeName: name,
		Theme:     palette,
		Themes:    config.ThemeNames,
		Demo:      sess.DemoMode,
		SessionID: sess.ID,
	}
}

func (h *WebHandler) render(w http.ResponseWriter, name string, data interface{}) {
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.Logger.Error("Template error", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// ConsolePage renders the prompt, review and result canvas
func (h *WebHandler) ConsolePage(w http.ResponseWriter, r *http.Request) {
	sess, base := h.page(w, r, "DBQuery Copilot")

	data := struct {
		pageData
		Review  copilot.Review
		Result  *store.Result
		Pinned  []session.Insight
		History []string
	}{
		pageData: base,
		Review:   h.Service.Review(sess),
		Result:   h.Service.LastResult(sess),
		Pinned:   h.Service.Pinned(sess),
		History:  h.Service.History(sess, 20),
	}
	if data.Result != nil {
		data.Result = data.Result.Head(maxTableRows)
	}

	h.render(w, "console.html", data)
}

// SettingsPage renders the configuration cockpit with secrets masked
func (h *WebHandler) SettingsPage(w http.ResponseWriter, r *http.Request) {
	sess, base := h.page(w, r, "Settings")

	data := struct {
		pageData
		Settings *config.Settings
		Locked   bool
	}{
		pageData: base,
		Settings: h.Service.Settings(),
		Locked:   h.Service.AdminLocked(sess),
	}

	h.render(w, "settings.html", data)
}

// DemoPage renders the guided walkthrough
func (h *WebHandler) DemoPage(w http.ResponseWriter, r *http.Request) {
	_, base := h.page(w, r, "Demo Script")

	data := struct {
		pageData
		Script string
	}{
		pageData: base,
		Script:   h.Service.DemoScript(),
	}

	h.render(w, "demo.html", data)
}
