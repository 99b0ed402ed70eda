package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
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

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAppError maps the error taxonomy onto HTTP statuses. Internal
// errors are not echoed back to the client.
func RespondAppError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindValidation:
		RespondError(c, http.StatusBadRequest, string(kind), err)
	case apperr.KindAuth:
		RespondError(c, http.StatusUnauthorized, string(kind), err)
	case apperr.KindNotFound:
		RespondError(c, http.StatusNotFound, string(kind), err)
	case apperr.KindQuotaExceeded:
		RespondError(c, http.StatusTooManyRequests, string(kind), err)
	case apperr.KindTimeout:
		RespondError(c, http.StatusGatewayTimeout, string(kind), err)
	case apperr.KindUpstreamClient, apperr.KindUpstreamServer:
		RespondError(c, http.StatusBadGateway, string(kind), err)
	default:
		c.JSON(http.StatusInternalServerError, ErrorEnvelope{
			Error: APIError{Message: "internal error", Code: string(apperr.KindInternal)},
		})
	}
}
