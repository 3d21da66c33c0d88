package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"leaguehub.com/app/internal/database"
	apphttp "leaguehub.com/app/internal/http"
	"leaguehub.com/app/internal/modules/payments"
)

var jwtSecret = []byte("test-secret")

type apiFixture struct {
	router *gin.Engine
	mock   *payments.MockProcessor
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open("sqlite", ":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := payments.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := payments.NewMockProcessor("whsec_test")
	svc := payments.NewService(db, mock, payments.DefaultConfig())
	svc.SetLogger(logger)
	ws := payments.NewWebhookService(db, svc)
	ws.SetLogger(logger)

	r := apphttp.NewRouter(logger, apphttp.Deps{
		Payments:  svc,
		Webhooks:  ws,
		Processor: mock,
		JWTSecret: jwtSecret,
	})
	return &apiFixture{router: r, mock: mock}
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString(jwtSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func (f *apiFixture) do(t *testing.T, method, path, principal string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, principal))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestCreateIntentAndFetch(t *testing.T) {
	f := newAPI(t)

	w, body := f.do(t, http.MethodPost, "/api/payments/intents", "user-1", map[string]any{
		"resourceId": "league-42", "amount": 500, "currency": "usd", "description": "season fee",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["status"] != "CREATED" || body["currency"] != "USD" || body["clientSecret"] == "" {
		t.Fatalf("body = %v", body)
	}
	paymentID, _ := body["paymentId"].(string)

	w, body = f.do(t, http.MethodGet, "/api/payments/"+paymentID, "user-1", nil)
	if w.Code != http.StatusOK || body["resourceId"] != "league-42" {
		t.Fatalf("get status = %d, body = %v", w.Code, body)
	}

	w, _ = f.do(t, http.MethodGet, "/api/payments/"+paymentID, "user-2", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign get status = %d, want 403", w.Code)
	}

	w, _ = f.do(t, http.MethodGet, "/api/payments/missing", "user-1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing get status = %d, want 404", w.Code)
	}

	w, _ = f.do(t, http.MethodPost, "/api/payments/intents", "user-1", map[string]any{
		"resourceId": "league-42", "amount": 500, "currency": "usd",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("second create status = %d, want 409", w.Code)
	}
}

func TestCreateIntentErrors(t *testing.T) {
	f := newAPI(t)

	tests := []struct {
		name      string
		principal string
		body      map[string]any
		want      int
	}{
		{"no token", "", map[string]any{"resourceId": "r", "amount": 500, "currency": "usd"}, http.StatusUnauthorized},
		{"missing resource", "user-1", map[string]any{"amount": 500, "currency": "usd"}, http.StatusBadRequest},
		{"bad currency", "user-1", map[string]any{"resourceId": "r", "amount": 500, "currency": "dollars"}, http.StatusBadRequest},
		{"below minimum", "user-1", map[string]any{"resourceId": "r", "amount": 10, "currency": "usd"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := f.do(t, http.MethodPost, "/api/payments/intents", tt.principal, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
			if body["request_id"] == nil || body["error"] == nil {
				t.Fatalf("error body = %v", body)
			}
		})
	}

	f.mock.FailNext(payments.ErrProcessorRejected)
	w, _ := f.do(t, http.MethodPost, "/api/payments/intents", "user-1", map[string]any{"resourceId": "r", "amount": 500, "currency": "usd"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("rejected status = %d, want 422", w.Code)
	}

	f.mock.FailNext(payments.ErrProcessorUnavailable)
	w, _ = f.do(t, http.MethodPost, "/api/payments/intents", "user-1", map[string]any{"resourceId": "r", "amount": 500, "currency": "usd"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unavailable status = %d, want 503", w.Code)
	}
}

func TestWebhookSettlesPayment(t *testing.T) {
	f := newAPI(t)

	_, body := f.do(t, http.MethodPost, "/api/payments/intents", "user-1", map[string]any{
		"resourceId": "team-7", "amount": 1200, "currency": "eur",
	})
	intentID, _ := body["processorIntentId"].(string)

	var p payments.MockWebhookPayload
	p.ID = "evt_1"
	p.Type = "payment.succeeded"
	p.Data.IntentID = intentID
	p.Data.Amount = 1200
	p.Data.Currency = "eur"
	raw, _ := json.Marshal(p)

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/mock", bytes.NewReader(raw))
		req.Header.Set(payments.MockSignatureHeader, sig)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w
	}

	if w := send("t=1,v1=deadbeef"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad signature status = %d, want 400", w.Code)
	}

	sig := payments.SignMockWebhook([]byte("whsec_test"), time.Now(), raw)
	w := send(sig)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, body = %s", w.Code, w.Body.String())
	}
	var res map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res["outcome"] != payments.OutcomeProcessed {
		t.Fatalf("outcome = %v", res["outcome"])
	}

	w = send(sig)
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || res["outcome"] != payments.OutcomeDuplicate {
		t.Fatalf("redelivery = %d %v", w.Code, res)
	}

	w2, latest := f.do(t, http.MethodGet, "/api/resources/team-7/payments/latest", "user-1", nil)
	if w2.Code != http.StatusOK || latest["status"] != "SUCCEEDED" {
		t.Fatalf("latest = %d %v", w2.Code, latest)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}
