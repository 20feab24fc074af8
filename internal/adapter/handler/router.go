package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	// JWTSecret enables bearer auth on every route except the catalog reads
	// and the health check. Empty leaves the API open.
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(bookings *BookingHandler, inventory *InventoryHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Get("/items", inventory.ListItems)
		r.Get("/items/{id}", inventory.GetItem)

		r.Group(func(r chi.Router) {
			if cfg.JWTSecret != "" {
				r.Use(JWTAuth(cfg.JWTSecret))
			}

			r.Post("/bookings", bookings.CreateBooking)
			r.Get("/bookings/{id}", bookings.GetBooking)
			r.Post("/bookings/{id}/cancel", bookings.CancelBooking)
			r.Get("/requesters/{id}/bookings", bookings.ListRequesterBookings)

			r.Group(func(r chi.Router) {
				if cfg.JWTSecret != "" {
					r.Use(RequireRole(RoleAdmin))
				}
				r.Patch("/bookings/{id}/status", bookings.UpdateStatus)
				r.Post("/items", inventory.CreateItem)
				r.Delete("/items/{id}", inventory.DeactivateItem)
				r.Post("/items/{id}/activate", inventory.ActivateItem)
			})
		})
	})

	return r
}
