package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arena-service/pkg/response"

	"github.com/gin-gonic/gin"
)

func perform(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, response.Body) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/hit", handler)
	req := httptest.NewRequest(http.MethodGet, "/hit", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var body response.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return rec, body
}

func TestSuccessEchoesStatusAsCode(t *testing.T) {
	rec, body := perform(t, func(c *gin.Context) {
		response.Success(c, gin.H{"ok": true})
	})
	if rec.Code != http.StatusOK || body.Code != http.StatusOK {
		t.Fatalf("unexpected status/code: %d/%d", rec.Code, body.Code)
	}
}

func TestFailCarriesAppCode(t *testing.T) {
	rec, body := perform(t, func(c *gin.Context) {
		response.Fail(c, http.StatusPaymentRequired, response.CodeInsufficientPoints, nil, "insufficient points")
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if body.Code != response.CodeInsufficientPoints {
		t.Fatalf("expected code %d, got %d", response.CodeInsufficientPoints, body.Code)
	}
	if body.Msg != "insufficient points" {
		t.Fatalf("unexpected msg %q", body.Msg)
	}
}
