package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/medprep/session-engine/internal/response"
	"github.com/medprep/session-engine/internal/service"
	"github.com/rs/zerolog"
)

// errorStatus maps engine errors to an HTTP status and API error code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrQuestionNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrQuestionNotInSession):
		return http.StatusNotFound, response.ErrQuestionNotInSession
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrInvalidOption):
		return http.StatusBadRequest, response.ErrInvalidOption
	case errors.Is(err, service.ErrPoolExhausted):
		return http.StatusUnprocessableEntity, response.ErrPoolExhausted
	case errors.Is(err, service.ErrSessionFinished):
		return http.StatusConflict, response.ErrSessionFinished
	case errors.Is(err, service.ErrPauseNotAllowed):
		return http.StatusConflict, response.ErrPauseNotAllowed
	case errors.Is(err, service.ErrAttemptConflict):
		return http.StatusConflict, response.ErrAttemptConflict
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failFromError writes the error envelope for err. Unexpected errors are
// logged; their text never reaches the client.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := errorStatus(err)
	switch code {
	case response.ErrInternal:
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
		response.Fail(c, status, code)
	case response.ErrValidation:
		response.FailWithFields(c, status, code, map[string]string{"detail": err.Error()})
	default:
		response.Fail(c, status, code)
	}
}
