// Package handler exposes the discount engine over HTTP: the storefront
// validation and usage-recording endpoints and the admin management API.
package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lonestarfoods/discount-engine/internal/domain/discount"
)

// Handler wires the domain services to HTTP routes.
type Handler struct {
	validator *discount.Validator
	recorder  discount.Recorder
	manager   *discount.Manager
	security  *SecurityHandler
}

// NewHandler constructs a Handler with the required domain dependencies.
// security may be nil, in which case admin routes are left unauthenticated
// (tests only; the app always passes one).
func NewHandler(
	validator *discount.Validator,
	recorder discount.Recorder,
	manager *discount.Manager,
	security *SecurityHandler,
) *Handler {
	return &Handler{
		validator: validator,
		recorder:  recorder,
		manager:   manager,
		security:  security,
	}
}

// Routes returns the chi router for all discount endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api/discount", func(r chi.Router) {
		r.Post("/validate", h.ValidateDiscount)
		r.Post("/usage", h.RecordUsage)
	})

	r.Route("/api/admin/discounts", func(r chi.Router) {
		if h.security != nil {
			r.Use(h.security.RequireAPIKey)
		}
		r.Get("/", h.ListDiscounts)
		r.Post("/", h.CreateDiscount)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetDiscount)
			r.Patch("/", h.UpdateDiscount)
			r.Delete("/", h.DeleteDiscount)
			r.Get("/stats", h.GetDiscountStats)
		})
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps a backend failure to 503. Business rejections never
// reach this path; they are encoded in the response body with a 200/409.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("store failure", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// auditIP picks the IP stored on ledger rows. Server-to-server callers pass
// the customer's IP in the request body; when absent, the transport address
// of the caller itself is the best available.
func auditIP(bodyIP string, r *http.Request) string {
	if ip := strings.TrimSpace(bodyIP); ip != "" {
		return ip
	}
	return clientIP(r)
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
