package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ratings-backend/internal/database"
	"ratings-backend/internal/engine"
	"ratings-backend/internal/events"
	"ratings-backend/internal/fhe"
	"ratings-backend/internal/handlers"
	"ratings-backend/internal/logger"
	"ratings-backend/internal/middleware"
	"ratings-backend/internal/models"
	"ratings-backend/internal/utils"
)

const (
	testJWTSecret     = "testsecret"
	testCallbackToken = "cb-token"
)

type stubVault struct {
	requests int
}

func (v *stubVault) Encrypt(_ context.Context, value uint8) (fhe.Handle, error) {
	return fhe.Handle(fmt.Sprintf("ct-%s-v%d", uuid.NewString()[:8], value)), nil
}

func (v *stubVault) GrantAccess(context.Context, fhe.Handle, string) error { return nil }

func (v *stubVault) RequestDecryption(_ context.Context, _ []fhe.Handle, _ string) (string, error) {
	v.requests++
	return fmt.Sprintf("req-%d", v.requests), nil
}

func (v *stubVault) Verify(context.Context, string, []int64, []byte) (bool, error) {
	return true, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logger.NewNop()
	eng := engine.New(db, log, &stubVault{}, events.NewNopBus(), engine.Config{
		CallbackURL:     "http://localhost:8080/api/aggregation/callback",
		EnginePrincipal: "ratings-engine",
	})
	am := middleware.NewAuthMiddleware(log, testJWTSecret, testCallbackToken)
	router := NewRouter(RouterConfig{
		AuthHandler:        handlers.NewAuthHandler(db, log, testJWTSecret, time.Hour),
		AuthMiddleware:     am,
		DoctorHandler:      handlers.NewDoctorHandler(eng, log),
		ReviewHandler:      handlers.NewReviewHandler(eng, log),
		AggregationHandler: handlers.NewAggregationHandler(eng, log),
	})
	return router, db
}

func seedOperator(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	hashed, err := utils.HashPassword("operator-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	op := &models.User{
		ID:       uuid.New(),
		Username: "ops",
		Password: hashed,
		Role:     models.RoleOperator,
	}
	if err := db.Create(op).Error; err != nil {
		t.Fatalf("seed operator: %v", err)
	}
	return op
}

func do(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine, username string) string {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": username,
		"password": "longenough",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register %s: status %d: %s", username, w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, "/api/auth/login", "", gin.H{
		"username": username,
		"password": "longenough",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", username, w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, w, &resp)
	if resp.Token == "" {
		t.Fatalf("empty token for %s", username)
	}
	return resp.Token
}

func operatorToken(t *testing.T, router *gin.Engine, db *gorm.DB) string {
	t.Helper()
	seedOperator(t, db)
	w := do(t, router, http.MethodPost, "/api/auth/login", "", gin.H{
		"username": "ops",
		"password": "operator-pass",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("operator login: status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, w, &resp)
	return resp.Token
}

func createDoctor(t *testing.T, router *gin.Engine, opToken string) uuid.UUID {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/doctors", opToken, gin.H{"name": "Dr. House"})
	if w.Code != http.StatusOK {
		t.Fatalf("create doctor: status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Doctor models.Doctor `json:"doctor"`
	}
	decode(t, w, &resp)
	return resp.Doctor.ID
}

func reviewBody(overall int) gin.H {
	return gin.H{
		"overall":         overall,
		"professionalism": 4,
		"communication":   3,
		"wait_time":       2,
	}
}

func TestHealthcheck(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(t, router, http.MethodGet, "/healthcheck", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestDoctorRegistration_OperatorOnly(t *testing.T) {
	router, db := newTestRouter(t)
	reviewer := registerAndLogin(t, router, "alice")

	w := do(t, router, http.MethodPost, "/api/doctors", reviewer, gin.H{"name": "Dr. House"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("reviewer creating doctor: status %d, want 403", w.Code)
	}
	w = do(t, router, http.MethodPost, "/api/doctors", "", gin.H{"name": "Dr. House"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous creating doctor: status %d, want 401", w.Code)
	}

	op := operatorToken(t, router, db)
	doctorID := createDoctor(t, router, op)

	w = do(t, router, http.MethodGet, "/api/doctors/"+doctorID.String(), "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get doctor: status %d", w.Code)
	}
}

func TestReviewSubmissionFlow(t *testing.T) {
	router, db := newTestRouter(t)
	op := operatorToken(t, router, db)
	doctorID := createDoctor(t, router, op)
	alice := registerAndLogin(t, router, "alice")

	w := do(t, router, http.MethodPost, "/api/doctors/"+doctorID.String()+"/reviews", "", reviewBody(5))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous review: status %d, want 401", w.Code)
	}

	w = do(t, router, http.MethodPost, "/api/doctors/"+doctorID.String()+"/reviews", alice, reviewBody(5))
	if w.Code != http.StatusOK {
		t.Fatalf("submit review: status %d: %s", w.Code, w.Body.String())
	}
	var submitResp struct {
		Review models.Review `json:"review"`
	}
	decode(t, w, &submitResp)
	if submitResp.Review.OverallHandle == "" {
		t.Fatalf("review must carry an encrypted handle: %+v", submitResp.Review)
	}

	// Duplicate from the same account.
	w = do(t, router, http.MethodPost, "/api/doctors/"+doctorID.String()+"/reviews", alice, reviewBody(4))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate review: status %d, want 409: %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/api/doctors/"+doctorID.String()+"/reviews/mine", alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("mine: status %d", w.Code)
	}
	var mineResp struct {
		Reviewed bool `json:"reviewed"`
	}
	decode(t, w, &mineResp)
	if !mineResp.Reviewed {
		t.Fatalf("expected reviewed=true")
	}

	w = do(t, router, http.MethodGet, "/api/doctors/"+doctorID.String()+"/reviews/count", "", nil)
	var countResp struct {
		Count int `json:"count"`
	}
	decode(t, w, &countResp)
	if countResp.Count != 1 {
		t.Fatalf("count = %d, want 1", countResp.Count)
	}
}

func TestAggregationFlowOverHTTP(t *testing.T) {
	router, db := newTestRouter(t)
	op := operatorToken(t, router, db)
	doctorID := createDoctor(t, router, op)

	for i, overall := range []int{5, 4, 3} {
		token := registerAndLogin(t, router, fmt.Sprintf("reviewer%d", i))
		w := do(t, router, http.MethodPost, "/api/doctors/"+doctorID.String()+"/reviews", token, reviewBody(overall))
		if w.Code != http.StatusOK {
			t.Fatalf("review %d: status %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := do(t, router, http.MethodGet, "/api/doctors/"+doctorID.String()+"/aggregation/eligibility", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("eligibility: status %d", w.Code)
	}
	var elig struct {
		Eligible bool `json:"eligible"`
	}
	decode(t, w, &elig)
	if !elig.Eligible {
		t.Fatalf("expected eligible after 3 reviews: %s", w.Body.String())
	}

	// Reviewer may not trigger aggregation.
	reviewer := registerAndLogin(t, router, "nosy")
	w = do(t, router, http.MethodPost, "/api/doctors/"+doctorID.String()+"/aggregation", reviewer, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("reviewer aggregation: status %d, want 403", w.Code)
	}

	w = do(t, router, http.MethodPost, "/api/doctors/"+doctorID.String()+"/aggregation", op, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("request aggregation: status %d: %s", w.Code, w.Body.String())
	}
	var reqResp struct {
		Request models.AggregationRequest `json:"request"`
	}
	decode(t, w, &reqResp)
	if reqResp.Request.RequestID == "" || reqResp.Request.ReviewCount != 3 {
		t.Fatalf("unexpected request row: %+v", reqResp.Request)
	}

	cleartexts := []int64{5, 4, 3, 2, 4, 4, 3, 2, 3, 4, 3, 2}
	callback := gin.H{
		"request_id": reqResp.Request.RequestID,
		"cleartexts": cleartexts,
		"proof":      base64.StdEncoding.EncodeToString([]byte("proof")),
	}

	w = do(t, router, http.MethodPost, "/api/aggregation/callback", "", callback)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("callback without gateway token: status %d, want 401", w.Code)
	}

	w = do(t, router, http.MethodPost, "/api/aggregation/callback", testCallbackToken, callback)
	if w.Code != http.StatusOK {
		t.Fatalf("callback: status %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/api/doctors/"+doctorID.String()+"/aggregate", "", nil)
	var aggResp struct {
		Aggregate models.AggregatedRating `json:"aggregate"`
	}
	decode(t, w, &aggResp)
	if !aggResp.Aggregate.Revealed || aggResp.Aggregate.AvgOverall != 4 || aggResp.Aggregate.TotalReviews != 3 {
		t.Fatalf("aggregate after reveal: %+v", aggResp.Aggregate)
	}

	// Slot is free again: eligibility now reports the cooldown instead.
	w = do(t, router, http.MethodGet, "/api/doctors/"+doctorID.String()+"/aggregation/eligibility", "", nil)
	var elig2 struct {
		Eligible         bool `json:"eligible"`
		NoPendingRequest bool `json:"no_pending_request"`
		CooldownElapsed  bool `json:"cooldown_elapsed"`
	}
	decode(t, w, &elig2)
	if elig2.Eligible || !elig2.NoPendingRequest || elig2.CooldownElapsed {
		t.Fatalf("expected cooldown-blocked but clear slot: %s", w.Body.String())
	}
}
