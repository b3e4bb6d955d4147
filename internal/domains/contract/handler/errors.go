package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/shared/middleware"
	"owlfenc-backend/internal/shared/response"
	"owlfenc-backend/internal/shared/utils"
)

// =====================================================
// ERROR MAPPING
// =====================================================

var statusByCode = map[string]int{
	model.ErrCodeContractNotFound:     http.StatusNotFound,
	model.ErrCodeNotEditable:          http.StatusConflict,
	model.ErrCodeInvalidTransition:    http.StatusConflict,
	model.ErrCodeValidation:           http.StatusUnprocessableEntity,
	model.ErrCodeVersionMismatch:      http.StatusConflict,
	model.ErrCodeInvalidStatus:        http.StatusBadRequest,
	model.ErrCodeSigningLinkInvalid:   http.StatusGone,
	model.ErrCodeAllChannelsFailed:    http.StatusBadGateway,
	model.ErrCodeUnknownChannel:       http.StatusBadRequest,
	model.ErrCodeMissingRecipient:     http.StatusUnprocessableEntity,
	model.ErrCodeNotAwaitingSignature: http.StatusConflict,
	model.ErrCodeAlreadySigned:        http.StatusConflict,
	model.ErrCodePersistence:          http.StatusServiceUnavailable,
	model.ErrCodeGenerationFailed:     http.StatusBadGateway,
	model.ErrCodeUnknownClause:        http.StatusUnprocessableEntity,
	model.ErrCodeInvalidWebhook:       http.StatusUnauthorized,
	model.ErrCodeUnauthorized:         http.StatusUnauthorized,
	model.ErrCodePaymentRejected:      http.StatusUnprocessableEntity,
}

// getHTTPStatusFromErrorCode maps a domain error code to an HTTP status.
func getHTTPStatusFromErrorCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// handleServiceError maps service layer errors to HTTP responses.
func handleServiceError(c *gin.Context, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		response.Error(c, http.StatusUnprocessableEntity, "Validation failed", gin.H{
			"code":   model.ErrCodeValidation,
			"fields": verr.Fields,
		})
		return
	}

	var cerr *model.ContractError
	if errors.As(err, &cerr) {
		status := getHTTPStatusFromErrorCode(cerr.Code)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Contract request failed")
		}
		response.Error(c, status, cerr.Message, map[string]string{
			"code": cerr.Code,
		})
		return
	}

	if errors.Is(err, model.ErrContractNotFound) {
		response.Error(c, http.StatusNotFound, "Contract not found", map[string]string{
			"code": model.ErrCodeContractNotFound,
		})
		return
	}

	log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Unhandled contract error")
	response.Error(c, http.StatusInternalServerError, "Internal server error", nil)
}

// =====================================================
// REQUEST HELPERS
// =====================================================

// getUserIDFromContext reads the owner id set by the auth middleware.
func getUserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(middleware.ContextUserID)
	if !exists {
		return uuid.Nil, false
	}

	switch id := v.(type) {
	case uuid.UUID:
		return id, id != uuid.Nil
	case string:
		parsed := utils.ParseStringToUUID(id)
		return parsed, parsed != uuid.Nil
	}
	return uuid.Nil, false
}

func unauthorized(c *gin.Context) {
	response.Error(c, http.StatusUnauthorized, "Unauthorized", map[string]string{
		"code": model.ErrCodeUnauthorized,
	})
}

func contractIDParam(c *gin.Context) (uuid.UUID, bool) {
	id := utils.ParseStringToUUID(c.Param("id"))
	if id == uuid.Nil {
		response.Error(c, http.StatusBadRequest, "Invalid contract ID", map[string]string{
			"error": "Contract ID must be a valid UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}

func badBody(c *gin.Context, err error) {
	response.Error(c, http.StatusBadRequest, "Invalid request body", map[string]string{
		"error": err.Error(),
	})
}
