package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/service"
	"owlfenc-backend/internal/shared/response"
)

// HeaderEditSession identifies one open editor for debounced autosave.
const HeaderEditSession = "X-Edit-Session"

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// =====================================================
// CONTRACT HANDLER
// =====================================================
type ContractHandler struct {
	drafts     service.DraftService
	autosave   *service.AutoSaveRegistry
	lifecycle  service.LifecycleService
	signatures service.SignatureService
	delivery   service.DeliveryService
	query      service.QueryService
}

func NewContractHandler(
	drafts service.DraftService,
	autosave *service.AutoSaveRegistry,
	lifecycle service.LifecycleService,
	signatures service.SignatureService,
	delivery service.DeliveryService,
	query service.QueryService,
) *ContractHandler {
	return &ContractHandler{
		drafts:     drafts,
		autosave:   autosave,
		lifecycle:  lifecycle,
		signatures: signatures,
		delivery:   delivery,
		query:      query,
	}
}

// =====================================================
// ROUTES REGISTRATION
// =====================================================

// RegisterRoutes registers owner routes. The group must already carry the
// auth middleware.
func (h *ContractHandler) RegisterRoutes(router *gin.RouterGroup) {
	contracts := router.Group("/contracts")
	{
		// drafts and autosave (X-Edit-Session header)
		contracts.PUT("/drafts", h.SaveDraft)
		contracts.POST("/drafts/autosave", h.ScheduleAutoSave)
		contracts.GET("/drafts/autosave", h.AutoSaveStatus)
		contracts.POST("/drafts/autosave/flush", h.FlushAutoSave)
		contracts.DELETE("/drafts/autosave", h.CloseAutoSave)
		contracts.GET("/drafts", h.listView(model.ViewDrafts))
		contracts.GET("/in-progress", h.listView(model.ViewInProgress))
		contracts.GET("/completed", h.listView(model.ViewCompleted))

		// one contract
		contracts.GET("/:id", h.GetContract)
		contracts.GET("/:id/draft", h.LoadDraft)
		contracts.GET("/:id/audit.xlsx", h.ExportAudit)
		contracts.POST("/:id/generate", h.Generate)
		contracts.POST("/:id/cancel", h.Cancel)
		contracts.POST("/:id/send", h.Send)
		contracts.POST("/:id/resend", h.Send)
		contracts.POST("/:id/links/:party/reissue", h.ReissueLink)
		contracts.POST("/:id/payments", h.RecordPayment)
	}
}

// =====================================================
// DRAFTS
// =====================================================

// SaveDraft persists the editor state immediately. Without contract_id a new
// draft is minted.
func (h *ContractHandler) SaveDraft(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req model.SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	result, err := h.drafts.Save(c.Request.Context(), ownerID, req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, "Draft saved", result)
}

func (h *ContractHandler) LoadDraft(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	form, err := h.drafts.Load(c.Request.Context(), ownerID, contractID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "OK", form)
}

// =====================================================
// AUTOSAVE
// =====================================================

func editSession(c *gin.Context) (string, bool) {
	session := c.GetHeader(HeaderEditSession)
	if session == "" || len(session) > 128 {
		response.Error(c, http.StatusBadRequest, "Missing or invalid "+HeaderEditSession+" header", nil)
		return "", false
	}
	return session, true
}

// ScheduleAutoSave queues a debounced save. Rapid calls coalesce into one write.
func (h *ContractHandler) ScheduleAutoSave(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	session, ok := editSession(c)
	if !ok {
		return
	}

	var req model.SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	status, err := h.autosave.Schedule(ownerID, session, req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, "Save scheduled", status)
}

func (h *ContractHandler) AutoSaveStatus(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	session, ok := editSession(c)
	if !ok {
		return
	}

	status, _ := h.autosave.Status(ownerID, session)
	response.Success(c, http.StatusOK, "OK", status)
}

func (h *ContractHandler) FlushAutoSave(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	session, ok := editSession(c)
	if !ok {
		return
	}

	result, err := h.autosave.Flush(c.Request.Context(), ownerID, session)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Draft saved", result)
}

// CloseAutoSave ends the session. An edit still inside the quiet window is dropped.
func (h *ContractHandler) CloseAutoSave(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	session, ok := editSession(c)
	if !ok {
		return
	}

	h.autosave.Close(ownerID, session)
	response.Success(c, http.StatusOK, "Session closed", nil)
}

// =====================================================
// QUERIES
// =====================================================

func (h *ContractHandler) listView(view model.View) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := getUserIDFromContext(c)
		if !ok {
			unauthorized(c)
			return
		}

		var q model.ListQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			response.Error(c, http.StatusBadRequest, "Invalid query parameters", map[string]string{
				"error": err.Error(),
			})
			return
		}

		list, err := h.query.List(c.Request.Context(), ownerID, view, q)
		if err != nil {
			handleServiceError(c, err)
			return
		}

		response.SuccessWithMeta(c, http.StatusOK, "OK", list.Items, &response.Meta{
			Page:  list.Page,
			Limit: list.Limit,
			Total: list.Total,
		})
	}
}

func (h *ContractHandler) GetContract(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	detail, err := h.query.Get(c.Request.Context(), ownerID, contractID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "OK", detail)
}

func (h *ContractHandler) ExportAudit(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	data, err := h.query.ExportAudit(c.Request.Context(), ownerID, contractID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="contract-%s-audit.xlsx"`, contractID))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// =====================================================
// LIFECYCLE
// =====================================================

// Generate renders the frozen document and issues both signing links.
// Replays return the current state with replayed=true.
func (h *ContractHandler) Generate(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	result, err := h.lifecycle.Generate(c.Request.Context(), ownerID, contractID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	message := "Contract generated"
	if result.Replayed {
		message = "Contract already generated"
	}
	response.Success(c, http.StatusOK, message, result)
}

func (h *ContractHandler) Cancel(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	// body is optional
	var req model.CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badBody(c, err)
			return
		}
	}
	if err := req.Validate(); err != nil {
		handleServiceError(c, model.FromValidation(err))
		return
	}

	contract, err := h.lifecycle.Cancel(c.Request.Context(), ownerID, contractID, req.Reason)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Contract cancelled", contract.ToSummary())
}

func (h *ContractHandler) RecordPayment(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	var req model.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	result, err := h.lifecycle.RecordPayment(c.Request.Context(), ownerID, contractID, req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	response.Success(c, status, "Payment recorded", result)
}

// =====================================================
// DELIVERY
// =====================================================

// Send delivers the signing link on every requested channel. A partial
// failure is still a 200; the per-channel results say which failed.
func (h *ContractHandler) Send(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	var req model.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	result, err := h.delivery.Send(c.Request.Context(), ownerID, contractID, req)
	if err != nil {
		if result != nil {
			response.Error(c, http.StatusBadGateway, "Delivery failed on every channel", gin.H{
				"code":    model.ErrCodeAllChannelsFailed,
				"results": result.Results,
			})
			return
		}
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Contract sent", result)
}

func (h *ContractHandler) ReissueLink(c *gin.Context) {
	ownerID, ok := getUserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	contractID, ok := contractIDParam(c)
	if !ok {
		return
	}

	link, err := h.signatures.ReissueLink(c.Request.Context(), ownerID, contractID, model.Party(c.Param("party")))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Signing link reissued", gin.H{
		"party": c.Param("party"),
		"link":  link,
	})
}
