package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"dbquery/internal/copilot"
	"dbquery/internal/logging"
)

// maxUploadBytes bounds multipart grounding uploads
const maxUploadBytes = 32 << 20

// NewRouter wires the web pages and the JSON API
func NewRouter(svc *copilot.Service, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger)
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Web handlers (HTML responses)
	webHandler := NewWebHandler(svc, logger)
	r.Get("/", webHandler.ConsolePage)
	r.Get("/settings", webHandler.SettingsPage)
	r.Get("/demo", webHandler.DemoPage)

	// API handlers (JSON responses)
	apiHandler := &APIHandler{Service: svc, Logger: logger}
	r.Route("/api", func(r chi.Router) {
		r.Post("/sql/generate", apiHandler.GenerateSQL)
		r.Post("/sql/refine", apiHandler.RefineSQL)
		r.Post("/sql/clear", apiHandler.ClearSQL)
		r.Get("/sql/review", apiHandler.ReviewSQL)
		r.Post("/sql/execute", apiHandler.ExecuteSQL)

		r.Get("/result", apiHandler.Result)
		r.Get("/result.csv", apiHandler.ResultCSV)
		r.Get("/chart.png", apiHandler.ChartPNG)

		r.Post("/pins", apiHandler.Pin)
		r.Get("/pins", apiHandler.Pins)
		r.Delete("/pins", apiHandler.ClearPins)
		r.Get("/export.pptx", apiHandler.ExportPPTX)
		r.Post("/export/email", apiHandler.EmailDeck)
		r.Get("/history", apiHandler.History)

		r.Post("/grounding", apiHandler.UploadGrounding)
		r.Get("/grounding/search", apiHandler.SearchGrounding)
		r.Post("/schema/sync", apiHandler.SyncSchema)

		r.Get("/config", apiHandler.GetConfig)
		r.Put("/config", apiHandler.PutConfig)
		r.Post("/config/save", apiHandler.SaveConfig)
		r.Post("/config/test", apiHandler.TestConnection)
		r.Post("/admin/unlock", apiHandler.UnlockAdmin)

		r.Post("/mode", apiHandler.SetMode)
		r.Post("/theme", apiHandler.SetTheme)
		r.Get("/demo-script", apiHandler.DemoScript)
	})

	return r
}

// StartServer initializes and starts the HTTP server
func StartServer(svc *copilot.Service, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting server", zap.String("addr", "http://localhost"+addr))
	return http.ListenAndServe(addr, NewRouter(svc, logger))
}
