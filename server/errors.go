package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"iris/dto"
	"iris/errs"
)

func errorBody(err error) (int, dto.ErrorBody) {
	var (
		transcription *errs.TranscriptionFailed
		analysis      *errs.AnalysisFailed
	)
	message := strings.ReplaceAll(err.Error(), "\n", ": ")
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, dto.ErrorBody{Code: "invalid_input", Message: message}
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, dto.ErrorBody{Code: "not_found", Message: message}
	case errors.Is(err, errs.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, dto.ErrorBody{Code: "storage_unavailable", Message: message}
	case errors.As(err, &transcription):
		return http.StatusBadGateway, dto.ErrorBody{Code: "transcription_failed", Message: transcription.Error()}
	case errors.As(err, &analysis):
		return http.StatusBadGateway, dto.ErrorBody{Code: "analysis_failed", Message: analysis.Error()}
	case errors.Is(err, errs.ErrIntegrationFailed):
		return http.StatusBadGateway, dto.ErrorBody{Code: "integration_failed", Message: message}
	default:
		return http.StatusInternalServerError, dto.ErrorBody{Code: "internal", Message: "internal error"}
	}
}

func respondError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: body})
}

// bindJSON reports malformed payloads as invalid input.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		respondError(c, errs.Invalid("malformed request: %v", err))
		return false
	}
	return true
}
