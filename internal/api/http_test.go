package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/inward-app/inward/internal/catalog"
	"github.com/inward-app/inward/internal/coaching"
	"github.com/inward-app/inward/internal/effectiveness"
	"github.com/inward-app/inward/internal/profile"
	"github.com/inward-app/inward/internal/storage"
)

const testToken = "test-token-12345"

func setupAppHandler(t *testing.T) (http.Handler, *catalog.Catalog) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cat := catalog.New(store)
	profiles := profile.NewManager(store)
	recorder := effectiveness.NewRecorder(store)
	coach := coaching.NewCoach(cat, profiles, recorder)

	handler := NewAppHandler(AppDeps{
		Coach:         coach,
		Catalog:       cat,
		Profiles:      profiles,
		Effectiveness: store,
		Token:         testToken,
	})
	return handler, cat
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func seedProtocol(t *testing.T, cat *catalog.Catalog) {
	t.Helper()
	err := cat.SaveProtocol(catalog.Protocol{
		Name:     "Physiological Sigh",
		Category: "breathwork",
		Targets:  catalog.TargetConditions{Conditions: []string{"anxiety", "stress"}},
	}, 0)
	if err != nil {
		t.Fatalf("seeding protocol failed: %v", err)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAuth_Required(t *testing.T) {
	h, _ := setupAppHandler(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong token", "wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/catalog/protocols", "", tt.token))
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRecommendations(t *testing.T) {
	h, cat := setupAppHandler(t)
	seedProtocol(t, cat)

	body := `{"user_id":"u1","context":{"conditions":["anxiety"]}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/recommendations", body, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		Recommendations []coaching.ScoredProtocol `json:"recommendations"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(resp.Recommendations) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(resp.Recommendations))
	}
	rec := resp.Recommendations[0]
	if rec.Name != "Physiological Sigh" {
		t.Errorf("name = %q", rec.Name)
	}
	if rec.Confidence < 0.49 || rec.Confidence > 0.51 {
		t.Errorf("confidence = %v, want 0.5", rec.Confidence)
	}
	if rec.Reason == "" {
		t.Error("reason is empty")
	}
}

func TestRecommendations_RequiresUserID(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/recommendations", `{"context":{}}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRecommendations_MalformedBody(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/recommendations", `{broken`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestFeedback_UpdatesProfile(t *testing.T) {
	h, _ := setupAppHandler(t)

	body := `{"user_id":"u1","intervention_type":"breathwork","satisfaction":5}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/feedback", body, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var p profile.LearningProfile
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if p.UserID != "u1" || p.TotalInteractions != 1 || p.SuccessfulInterventions != 1 {
		t.Errorf("profile = %+v", p)
	}

	// The profile is now readable.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/users/u1/profile", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("profile status = %d; body = %s", rr.Code, rr.Body.String())
	}

	// And so is the effectiveness log.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/users/u1/effectiveness", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("effectiveness status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var list struct {
		Records []storage.EffectivenessRecord `json:"records"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(list.Records) != 1 || list.Records[0].InterventionType != "breathwork" {
		t.Errorf("records = %+v", list.Records)
	}
}

func TestFeedback_RejectsOutOfRangeSatisfaction(t *testing.T) {
	h, _ := setupAppHandler(t)

	for _, sat := range []string{"0", "6", "-1"} {
		body := `{"user_id":"u1","intervention_type":"breathwork","satisfaction":` + sat + `}`
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/feedback", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("satisfaction %s: status = %d, want %d", sat, rr.Code, http.StatusBadRequest)
		}
	}

	// Nothing was recorded.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/users/u1/profile", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("profile status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestProfile_NotFound(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/users/nobody/profile", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error.Type != "not_found_error" {
		t.Errorf("error type = %q, want not_found_error", errResp.Error.Type)
	}
}

func TestAdjustments_EmptyForUnknownUser(t *testing.T) {
	h, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/users/nobody/adjustments", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		Adjustments catalog.Adjustments `json:"adjustments"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !resp.Adjustments.IsZero() {
		t.Errorf("adjustments = %+v, want empty", resp.Adjustments)
	}
}

func TestAdjustments_Resolved(t *testing.T) {
	h, cat := setupAppHandler(t)

	err := cat.SaveRule(catalog.AdaptiveRule{
		Name:        "struggling",
		Priority:    10,
		Criteria:    catalog.RuleCriteria{HabitCompletion: catalog.HabitCompletionBelow50},
		Adjustments: catalog.Adjustments{Tone: "gentle"},
	})
	if err != nil {
		t.Fatalf("seeding rule failed: %v", err)
	}

	// One low rating: rate 0/1.
	body := `{"user_id":"u1","intervention_type":"breathwork","satisfaction":2}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/feedback", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("feedback status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/users/u1/adjustments", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Adjustments catalog.Adjustments `json:"adjustments"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Adjustments.Tone != "gentle" {
		t.Errorf("Tone = %q, want gentle", resp.Adjustments.Tone)
	}
}

func TestEffectiveness_LimitValidation(t *testing.T) {
	h, _ := setupAppHandler(t)

	for _, limit := range []string{"0", "201", "abc"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/users/u1/effectiveness?limit="+limit, "", testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit %s: status = %d, want %d", limit, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestCatalogImport(t *testing.T) {
	h, _ := setupAppHandler(t)

	doc := `
protocols:
  - name: Physiological Sigh
    category: breathwork
    target_conditions:
      conditions: [anxiety]
`
	req := authReq(http.MethodPost, "/v1/catalog/import", doc, testToken)
	req.Header.Set("Content-Type", "application/yaml")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var result catalog.ImportResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Protocols != 1 {
		t.Errorf("result = %+v, want 1 protocol", result)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/catalog/protocols", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Physiological Sigh") {
		t.Errorf("protocol list missing import: %s", rr.Body.String())
	}
}

func TestCatalogImport_RejectsWrongContentType(t *testing.T) {
	h, _ := setupAppHandler(t)

	req := authReq(http.MethodPost, "/v1/catalog/import", `{}`, testToken)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnsupportedMediaType)
	}
}

func TestCatalogImport_InvalidDocument(t *testing.T) {
	h, _ := setupAppHandler(t)

	doc := `
rules:
  - name: bad
    adjust: {}
`
	req := authReq(http.MethodPost, "/v1/catalog/import", doc, testToken)
	req.Header.Set("Content-Type", "application/yaml")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, http.StatusBadRequest, rr.Body.String())
	}
}

func TestCatalogRules_List(t *testing.T) {
	h, cat := setupAppHandler(t)

	err := cat.SaveRule(catalog.AdaptiveRule{
		Name:        "stress-override",
		Priority:    10,
		Criteria:    catalog.RuleCriteria{StressIndicators: []string{"anxious"}},
		Adjustments: catalog.Adjustments{ProtocolPreference: "breathwork"},
	})
	if err != nil {
		t.Fatalf("seeding rule failed: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/catalog/rules", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp struct {
		Rules []catalog.AdaptiveRule `json:"rules"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(resp.Rules) != 1 || resp.Rules[0].Name != "stress-override" {
		t.Errorf("rules = %+v", resp.Rules)
	}
}
