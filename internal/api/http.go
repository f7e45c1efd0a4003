package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inward-app/inward/internal/catalog"
	"github.com/inward-app/inward/internal/coaching"
	"github.com/inward-app/inward/internal/profile"
	"github.com/inward-app/inward/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// EffectivenessReader lists recent effectiveness records for display.
// Implemented by storage.Store.
type EffectivenessReader interface {
	RecentEffectiveness(userID string, limit int) ([]storage.EffectivenessRecord, error)
}

// AppDeps holds dependencies for the coaching HTTP API.
type AppDeps struct {
	Coach         *coaching.Coach
	Catalog       *catalog.Catalog
	Profiles      *profile.Manager
	Effectiveness EffectivenessReader
	Token         string
}

// NewAppHandler returns the coaching HTTP API. All routes except /health
// require the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/recommendations", handleRecommendations(deps))
		r.Post("/v1/feedback", handleFeedback(deps))
		r.Get("/v1/users/{userID}/profile", handleGetProfile(deps))
		r.Get("/v1/users/{userID}/adjustments", handleGetAdjustments(deps))
		r.Get("/v1/users/{userID}/effectiveness", handleListEffectiveness(deps))
		r.Get("/v1/catalog/protocols", handleListProtocols(deps))
		r.Get("/v1/catalog/rules", handleListRules(deps))
		r.Post("/v1/catalog/import", handleCatalogImport(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type recommendationsRequest struct {
	UserID  string               `json:"user_id"`
	Context coaching.UserContext `json:"context"`
}

type recommendationsResponse struct {
	Recommendations []coaching.ScoredProtocol `json:"recommendations"`
}

func handleRecommendations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req recommendationsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		recs, err := deps.Coach.Recommend(r.Context(), req.UserID, req.Context)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "scoring recommendations: %v", err)
			return
		}

		writeJSON(w, recommendationsResponse{Recommendations: recs})
	}
}

type feedbackRequest struct {
	UserID           string `json:"user_id"`
	InterventionType string `json:"intervention_type"`
	Satisfaction     int    `json:"satisfaction"`
	Notes            string `json:"notes"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		ev := coaching.FeedbackEvent{
			InterventionType: req.InterventionType,
			Satisfaction:     req.Satisfaction,
			Notes:            req.Notes,
		}
		if err := ev.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		updated, err := deps.Coach.RecordFeedback(r.Context(), req.UserID, ev)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "recording feedback: %v", err)
			return
		}

		writeJSON(w, updated)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		p, err := deps.Profiles.Get(userID)
		if errors.Is(err, profile.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no profile for user %s", userID)
			return
		}
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "loading profile: %v", err)
			return
		}

		writeJSON(w, p)
	}
}

func handleGetAdjustments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		adj, err := deps.Coach.Adjustments(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "resolving adjustments: %v", err)
			return
		}

		writeJSON(w, map[string]catalog.Adjustments{"adjustments": adj})
	}
}

func handleListEffectiveness(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 200 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be an integer 1-200")
				return
			}
			limit = n
		}

		records, err := deps.Effectiveness.RecentEffectiveness(userID, limit)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "listing effectiveness: %v", err)
			return
		}

		writeJSON(w, map[string]any{"records": records})
	}
}

func handleListProtocols(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		protocols, err := deps.Catalog.Protocols()
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "listing protocols: %v", err)
			return
		}
		writeJSON(w, map[string]any{"protocols": protocols})
	}
}

func handleListRules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := deps.Catalog.Rules()
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "listing rules: %v", err)
			return
		}
		writeJSON(w, map[string]any{"rules": rules})
	}
}

func handleCatalogImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		ct := r.Header.Get("Content-Type")
		if ct != "" && !strings.Contains(ct, "yaml") && !strings.Contains(ct, "text/plain") {
			httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "catalog import expects a YAML body")
			return
		}

		result, err := deps.Catalog.Import(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "importing catalog: %v", err)
			return
		}

		writeJSON(w, result)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
