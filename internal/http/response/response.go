package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/platform/ctxutil"
)

type APIError struct {
	Message       string `json:"message"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondDomainError maps a domain error code to its HTTP status. Internal details
// stay in the logs; the client gets the message and a correlation id.
func RespondDomainError(c *gin.Context, err error) {
	code := domainagg.CodeOf(err)
	msg := domainagg.MessageOf(err)
	if code == "" {
		code, msg = domainagg.CodeInternal, "internal error"
	}
	status := StatusFor(code)
	apiErr := APIError{Message: msg, Code: string(code)}
	if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
		apiErr.CorrelationID = domainagg.CorrelationOf(err)
		if apiErr.CorrelationID == "" {
			apiErr.CorrelationID = ctxutil.CorrelationID(c.Request.Context())
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	c.JSON(status, ErrorEnvelope{Error: apiErr})
}

func StatusFor(code domainagg.ErrorCode) int {
	switch code {
	case domainagg.CodeValidation, domainagg.CodeParseFailure:
		return http.StatusBadRequest
	case domainagg.CodeNotFound:
		return http.StatusNotFound
	case domainagg.CodeConflict, domainagg.CodeStaleState, domainagg.CodeBusy, domainagg.CodeGenerationInProgress:
		return http.StatusConflict
	case domainagg.CodeAIUnavailable, domainagg.CodeRetryable:
		return http.StatusServiceUnavailable
	case domainagg.CodePartialGeneration:
		return http.StatusBadGateway
	case domainagg.CodeCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
