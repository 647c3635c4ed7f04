package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/middleware"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		if h.hub != nil {
			r.Get("/events", h.Events)
		}

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Get("/campaigns", h.ListCampaigns)
			r.Get("/campaigns/{campaignID}", h.GetCampaign)
			r.Get("/accounts/{accountID}/transactions", h.Transactions)

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleAuthor))

				r.Post("/campaigns", h.CreateCampaign)
				r.Get("/credits", h.Credits)
			})

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleAuthor, model.RoleAdmin))

				r.Post("/campaigns/{campaignID}/activate", h.ActivateCampaign())
				r.Post("/campaigns/{campaignID}/pause", h.PauseCampaign())
				r.Post("/campaigns/{campaignID}/resume", h.ResumeCampaign())
				r.Post("/campaigns/{campaignID}/cancel", h.CancelCampaign())
				r.Get("/campaigns/{campaignID}/assignments", h.CampaignAssignments)
			})

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleReader))

				r.Post("/campaigns/{campaignID}/apply", h.Apply)
				r.Get("/assignments", h.ReaderAssignments)
				r.Post("/assignments/{assignmentID}/withdraw", h.Withdraw)
				r.Post("/assignments/{assignmentID}/access", h.Access)
				r.Post("/assignments/{assignmentID}/review", h.SubmitReview)
				r.Get("/wallet", h.Wallet)
				r.Post("/wallet/payout", h.Payout)
			})

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleReader, model.RoleAdmin))

				r.Get("/assignments/{assignmentID}", h.GetAssignment)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleAdmin))

				r.Post("/campaigns/{campaignID}/complete", h.ForceCompleteCampaign)
				r.Put("/campaigns/{campaignID}/distribution", h.AdjustDistribution)
				r.Delete("/campaigns/{campaignID}/distribution", h.ResumeDistribution)
				r.Put("/campaigns/{campaignID}/overbooking", h.AdjustOverbooking)
				r.Post("/campaigns/{campaignID}/readers/{readerID}/remove", h.RemoveReader)

				r.Post("/assignments/{assignmentID}/grant", h.GrantAccess)
				r.Post("/assignments/{assignmentID}/validate", h.ValidateReview)
				r.Post("/assignments/{assignmentID}/settle", h.SettleAssignment)
				r.Post("/assignments/{assignmentID}/expire", h.ExpireAssignment)

				r.Post("/credits/purchase", h.PurchaseCredits)
				r.Post("/readers/{readerID}/bonus", h.GrantBonus)
				r.Get("/accounts/{accountID}/verify", h.VerifyAccount)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
