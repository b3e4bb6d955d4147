package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/service"
	"owlfenc-backend/internal/shared/response"
)

// HeaderSignature carries the hex HMAC-SHA256 of the raw webhook body.
const HeaderSignature = "X-Signature"

const maxWebhookBody = 64 << 10

// =====================================================
// SIGNING HANDLER (public)
// =====================================================
type SigningHandler struct {
	signatures    service.SignatureService
	webhookSecret []byte
}

// NewSigningHandler serves signing links and the signature webhook. With an
// empty webhookSecret every webhook call is rejected.
func NewSigningHandler(signatures service.SignatureService, webhookSecret string) *SigningHandler {
	return &SigningHandler{
		signatures:    signatures,
		webhookSecret: []byte(webhookSecret),
	}
}

// RegisterRoutes registers the unauthenticated routes. The link token is the
// credential.
func (h *SigningHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/sign/:token", h.ResolveLink)
	router.POST("/sign/:token", h.Sign)
	router.POST("/webhooks/signatures", h.SignatureWebhook)
}

// ResolveLink returns what the signer needs to review before signing.
func (h *SigningHandler) ResolveLink(c *gin.Context) {
	view, err := h.signatures.ResolveLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "OK", view)
}

// Sign records the signature of the party the link was issued to. Signing
// twice is absorbed and reported as duplicate.
func (h *SigningHandler) Sign(c *gin.Context) {
	var req model.SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	result, err := h.signatures.SignWithLink(c.Request.Context(), c.Param("token"), req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	message := "Signature recorded"
	switch {
	case result.Duplicate:
		message = "Already signed"
	case result.Completed:
		message = "Contract completed"
	}
	response.Success(c, http.StatusOK, message, result)
}

// =====================================================
// SIGNATURE WEBHOOK
// =====================================================

// SignatureWebhook accepts signature events from an external signing source.
// Events are at-least-once; redeliveries come back as duplicate.
func (h *SigningHandler) SignatureWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badBody(c, err)
		return
	}

	if !h.verify(body, c.GetHeader(HeaderSignature)) {
		log.Warn().
			Str("request_id", c.GetString("request_id")).
			Str("ip", c.ClientIP()).
			Msg("Signature webhook rejected")
		response.Error(c, http.StatusUnauthorized, "Invalid webhook signature", map[string]string{
			"code": model.ErrCodeInvalidWebhook,
		})
		return
	}

	var event model.SignatureEvent
	if err := json.Unmarshal(body, &event); err != nil {
		badBody(c, err)
		return
	}

	result, err := h.signatures.RecordSignature(c.Request.Context(), event)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Event processed", result)
}

func (h *SigningHandler) verify(body []byte, signature string) bool {
	if len(h.webhookSecret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignWebhookBody computes the X-Signature value for body. Used by signature
// sources and tests.
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
