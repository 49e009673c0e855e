package app

import (
	"database/sql"
	"net/http"
	"time"

	"surveydesk/internal/app/observability"
	"surveydesk/internal/ask"
	"surveydesk/internal/auth"
	"surveydesk/internal/export"
	"surveydesk/internal/report"
	"surveydesk/internal/roster"
	"surveydesk/internal/study"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	authSvc := auth.NewService(db, auth.ServiceConfig{SessionTTL: cfg.SessionTTL})
	authHandler := auth.NewHandler(authSvc)

	askHandler := ask.NewHandler(ask.NewService(db))
	studyStore := study.NewStore(db)
	studyHandler := study.NewHandler(study.NewService(db))
	replyHandler := study.NewReplyHandler(studyStore, cfg.UploadDir)
	exportHandler := export.NewHandler(export.NewService(
		studyStore,
		export.DirUploadStore{Root: cfg.UploadDir},
	))

	rosterHandler := roster.NewHandler(roster.NewService(db))
	reportHandler := report.NewHandler(report.NewService(db))

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)
	heavyLimit := RateLimitMiddleware(NewIPRateLimiter(cfg.HeavyRateLimitPerMin, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login", authHandler.LoginPassword)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Group(func(editors chi.Router) {
				editors.Use(auth.RequireGroups(auth.GroupResearcher, auth.GroupResearchAssistant))
				editors.Post("/askers", askHandler.CreateAsker)
				editors.Get("/askers/{id}", askHandler.GetAsker)
				editors.Get("/askers/{id}/yaml", askHandler.GetYAML)
				editors.With(heavyLimit).Put("/askers/{id}/yaml", askHandler.PutYAML)
				editors.With(heavyLimit).Post("/askers/{id}/yaml", askHandler.PutYAML)
				editors.Get("/askers/{id}/summary", reportHandler.AskerSummary)

				editors.Post("/askers/{id}/replies", replyHandler.Start)
				editors.Put("/replies/{id}/answers", replyHandler.SaveAnswer)
				editors.Post("/replies/{id}/uploads", replyHandler.Upload)
				editors.Post("/replies/{id}/submit", replyHandler.Submit)
			})

			secure.Group(func(researchers chi.Router) {
				researchers.Use(auth.RequireGroups(auth.GroupResearcher))
				researchers.With(heavyLimit).Post("/exports", exportHandler.Export)
				researchers.Post("/memberships/{id}/dateshift", studyHandler.ShiftDates)
				researchers.Post("/studies", rosterHandler.CreateStudy)
				researchers.With(heavyLimit).Post("/memberships/import", rosterHandler.ImportMembershipsCSV)
				researchers.Post("/memberships/{id}/observations", rosterHandler.ScheduleObservations)
			})
		})
	})

	return r
}
