package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
)

func TestStatusFor(t *testing.T) {
	cases := map[domainagg.ErrorCode]int{
		domainagg.CodeValidation:           http.StatusBadRequest,
		domainagg.CodeNotFound:             http.StatusNotFound,
		domainagg.CodeConflict:             http.StatusConflict,
		domainagg.CodeStaleState:           http.StatusConflict,
		domainagg.CodeBusy:                 http.StatusConflict,
		domainagg.CodeGenerationInProgress: http.StatusConflict,
		domainagg.CodeAIUnavailable:        http.StatusServiceUnavailable,
		domainagg.CodePartialGeneration:    http.StatusBadGateway,
		domainagg.CodeStorage:              http.StatusInternalServerError,
		domainagg.CodeInternal:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := StatusFor(code); got != want {
			t.Fatalf("%s: want=%d got=%d", code, want, got)
		}
	}
}

func respond(err error) (*httptest.ResponseRecorder, ErrorEnvelope) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	RespondDomainError(c, err)
	var env ErrorEnvelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestRespondDomainError_StorageCarriesCorrelationID(t *testing.T) {
	err := domainagg.WithCorrelation(domainagg.NewError(domainagg.CodeStorage, "Session.Save", "storage failure", errors.New("disk")), "req-42")
	rec, env := respond(err)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: want=%d got=%d", http.StatusInternalServerError, rec.Code)
	}
	if env.Error.Code != "storage" || env.Error.CorrelationID != "req-42" {
		t.Fatalf("envelope: %+v", env.Error)
	}
}

func TestRespondDomainError_BusyHasNoCorrelationID(t *testing.T) {
	rec, env := respond(domainagg.NewError(domainagg.CodeBusy, "Dispatcher.Submit", "a turn for this session is already in progress", nil))
	if rec.Code != http.StatusConflict || env.Error.Code != "busy" || env.Error.CorrelationID != "" {
		t.Fatalf("busy: status=%d envelope=%+v", rec.Code, env.Error)
	}
	if env.Error.Message != "a turn for this session is already in progress" {
		t.Fatalf("message: got=%q", env.Error.Message)
	}
}

func TestRespondDomainError_PlainErrorIsInternal(t *testing.T) {
	rec, env := respond(errors.New("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError || env.Error.Message != "internal error" {
		t.Fatalf("plain error: status=%d envelope=%+v", rec.Code, env.Error)
	}
}
