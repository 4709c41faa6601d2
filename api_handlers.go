package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"dbquery/internal/config"
	"dbquery/internal/copilot"
	"dbquery/internal/deck"
	"dbquery/internal/graph"
	"dbquery/internal/mailer"
	"dbquery/internal/session"
	"dbquery/internal/store"
	"dbquery/internal/vector"
	"dbquery/internal/warehouse"
)

const (
	sessionCookie = "dbquery_session"
	sessionHeader = "X-Session-ID"
	pptxMIME      = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// APIHandler handles JSON API requests
type APIHandler struct {
	Service *copilot.Service
	Logger  *zap.Logger
}

// resolveSession returns the caller's session from the X-Session-ID header or
// the session cookie, creating one when missing or expired
func resolveSession(svc *copilot.Service, w http.ResponseWriter, r *http.Request) *session.Session {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			id = c.Value
		}
	}

	sess := svc.Sessions().GetOrCreate(id)
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID,
			Path:     "/",
			MaxAge:   int(session.TTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set(sessionHeader, sess.ID)
	return sess
}

func (h *APIHandler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	return resolveSession(h.Service, w, r)
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, copilot.ErrEmptyPrompt),
		errors.Is(err, copilot.ErrNoSQL),
		errors.Is(err, copilot.ErrNoResult),
		errors.Is(err, copilot.ErrNothingToSave),
		errors.Is(err, store.ErrEmptyStatement),
		errors.Is(err, store.ErrWriteStatement),
		errors.Is(err, config.ErrInvalidSettings),
		errors.Is(err, vector.ErrInvalidFileName):
		return http.StatusBadRequest
	case errors.Is(err, copilot.ErrAdminLocked),
		errors.Is(err, copilot.ErrBadPassword):
		return http.StatusForbidden
	case errors.Is(err, copilot.ErrNotConfigured),
		errors.Is(err, warehouse.ErrNotConfigured),
		errors.Is(err, graph.ErrNotConfigured),
		errors.Is(err, mailer.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.Logger.Warn("Request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid JSON body: " + err.Error(),
		})
		return false
	}
	return true
}

// GenerateSQL handles {"prompt": "..."} and returns the SQL with its review
func (h *APIHandler) GenerateSQL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := h.session(w, r)
	if _, err := h.Service.GenerateSQL(r.Context(), sess, req.Prompt); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.Service.Review(sess))
}

func (h *APIHandler) RefineSQL(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if _, err := h.Service.RefineSQL(r.Context(), sess); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.Service.Review(sess))
}

func (h *APIHandler) ClearSQL(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	h.Service.Clear(sess)
	respondJSON(w, http.StatusOK, h.Service.Review(sess))
}

func (h *APIHandler) ReviewSQL(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Service.Review(h.session(w, r)))
}

// resultJSON is a result plus its row count and automatic chart
type resultJSON struct {
	*store.Result
	RowCount int             `json:"row_count"`
	Chart    *deck.ChartSpec `json:"chart,omitempty"`
}

func newResultJSON(res *store.Result) resultJSON {
	return resultJSON{Result: res, RowCount: res.Len(), Chart: deck.AutoChart(res)}
}

func (h *APIHandler) ExecuteSQL(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	res, err := h.Service.Execute(r.Context(), sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newResultJSON(res))
}

func (h *APIHandler) Result(w http.ResponseWriter, r *http.Request) {
	res := h.Service.LastResult(h.session(w, r))
	if res == nil {
		h.fail(w, r, copilot.ErrNothingToSave)
		return
	}
	respondJSON(w, http.StatusOK, newResultJSON(res))
}

func (h *APIHandler) ResultCSV(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)

	var buf bytes.Buffer
	if err := h.Service.LastResultCSV(sess, &buf); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.Service.ResultFileName()))
	_, _ = w.Write(buf.Bytes())
}

// ChartPNG draws the last result. The chart defaults to the automatic spec;
// x, y and type query parameters override it.
func (h *APIHandler) ChartPNG(w http.ResponseWriter, r *http.Request) {
	res := h.Service.LastResult(h.session(w, r))
	if res == nil {
		h.fail(w, r, copilot.ErrNothingToSave)
		return
	}

	spec := deck.AutoChart(res)
	q := r.URL.Query()
	if q.Get("x") != "" || q.Get("y") != "" || q.Get("type") != "" {
		if spec == nil {
			spec = &deck.ChartSpec{Type: deck.ChartBar}
		}
		custom := *spec
		if v := q.Get("x"); v != "" {
			custom.X = v
		}
		if v := q.Get("y"); v != "" {
			custom.Y = v
		}
		if v := q.Get("type"); v == deck.ChartBar || v == deck.ChartLine {
			custom.Type = v
		}
		spec = &custom
	}
	if spec == nil || !spec.Valid(res) {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "result has no plottable numeric column",
		})
		return
	}

	var buf bytes.Buffer
	if err := deck.RenderChart(res, spec, &buf); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (h *APIHandler) Pin(w http.ResponseWriter, r *http.Request) {
	ins, err := h.Service.Pin(h.session(w, r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ins)
}

// Pins lists pinned insights, newest first
func (h *APIHandler) Pins(w http.ResponseWriter, r *http.Request) {
	pins := h.Service.Pinned(h.session(w, r))
	if pins == nil {
		pins = []session.Insight{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pins":  pins,
		"count": len(pins),
	})
}

func (h *APIHandler) ClearPins(w http.ResponseWriter, r *http.Request) {
	h.Service.ClearPinned(h.session(w, r))
	respondJSON(w, http.StatusOK, map[string]interface{}{"pins": []session.Insight{}, "count": 0})
}

func (h *APIHandler) ExportPPTX(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)

	var buf bytes.Buffer
	if err := h.Service.ExportPinned(sess, &buf); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", pptxMIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.Service.DeckFileName()))
	_, _ = w.Write(buf.Bytes())
}

// EmailDeck handles {"to": "..."}
func (h *APIHandler) EmailDeck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To string `json:"to"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.To == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "recipient is required"})
		return
	}

	if err := h.Service.EmailPinned(h.session(w, r), req.To); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent", "to": req.To})
}

// History returns up to ?limit entries, newest first
func (h *APIHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries := h.Service.History(h.session(w, r), limit)
	if entries == nil {
		entries = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// UploadGrounding accepts multipart "files" and embeds them
func (h *APIHandler) UploadGrounding(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid upload: " + err.Error()})
		return
	}
	sess := h.session(w, r)

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "no files uploaded"})
		return
	}

	var uploads []copilot.Upload
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.fail(w, r, fmt.Errorf("failed to read %s: %w", fh.Filename, err))
			return
		}
		defer f.Close()
		uploads = append(uploads, copilot.Upload{Name: fh.Filename, Reader: f})
	}

	files, err := h.Service.Ground(r.Context(), demoOf(sess), uploads)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"files": files, "count": len(files)})
}

func (h *APIHandler) SearchGrounding(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	k, err := strconv.Atoi(r.URL.Query().Get("k"))
	if err != nil || k <= 0 {
		k = copilot.GroundingHits
	}

	hits := h.Service.SearchGrounding(r.Context(), demoOf(h.session(w, r)), q, k)
	respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "hits": hits})
}

// SyncSchema exports the schema and mirrors it into Neo4j. When Neo4j is not
// configured the export is still reported, with a 503.
func (h *APIHandler) SyncSchema(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.SyncSchema(r.Context(), demoOf(h.session(w, r)))
	if err != nil {
		status := statusFor(err)
		h.Logger.Warn("Schema sync incomplete", zap.Int("status", status), zap.Error(err))
		respondJSON(w, status, map[string]interface{}{"error": err.Error(), "result": res})
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type configResponse struct {
	Settings *config.Settings `json:"settings"`
	Locked   bool             `json:"locked"`
	Themes   []string         `json:"themes"`
}

func (h *APIHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	respondJSON(w, http.StatusOK, configResponse{
		Settings: h.Service.Settings(),
		Locked:   h.Service.AdminLocked(sess),
		Themes:   config.ThemeNames,
	})
}

func (h *APIHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var next config.Settings
	if !decodeJSON(w, r, &next) {
		return
	}
	sess := h.session(w, r)
	if err := h.Service.UpdateSettings(sess, next); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, configResponse{
		Settings: h.Service.Settings(),
		Locked:   h.Service.AdminLocked(sess),
		Themes:   config.ThemeNames,
	})
}

func (h *APIHandler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	path, err := h.Service.SaveSettings(h.session(w, r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": path})
}

func (h *APIHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Service.TestConnection(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": msg})
}

// UnlockAdmin handles {"password": "..."}
func (h *APIHandler) UnlockAdmin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Service.UnlockAdmin(h.session(w, r), req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"unlocked": true})
}

// SetMode handles {"demo": true|false}
func (h *APIHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Demo bool `json:"demo"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.Service.SetDemoMode(h.session(w, r), req.Demo)
	respondJSON(w, http.StatusOK, map[string]bool{"demo": req.Demo})
}

// SetTheme handles {"theme": "..."}; unknown names fall back to the default theme
func (h *APIHandler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	applied := h.Service.SetTheme(h.session(w, r), req.Theme)
	_, palette := config.Theme(applied)
	respondJSON(w, http.StatusOK, map[string]interface{}{"theme": applied, "palette": palette})
}

func (h *APIHandler) DemoScript(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"script": h.Service.DemoScript()})
}

func demoOf(sess *session.Session) bool {
	sess.Lock()
	defer sess.Unlock()
	return sess.DemoMode
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("JSON encoding error", zap.Error(err))
	}
}
