package api

import (
	"net/http"

	"inventory-service/internal/models"
	"inventory-service/internal/service"

	"github.com/gin-gonic/gin"
)

type reasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// createSale records a sale and deducts stock synchronously
func (h *Handler) createSale(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}

	var req service.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.sales.CreateSale(c.Request.Context(), ownerFrom(c), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, resp, "Sale recorded")
}

// listSales lists sales with filters and pagination
func (h *Handler) listSales(c *gin.Context) {
	productID, err := parseInt64Query(c, "product_id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}
	paymentStatus := models.PaymentStatus(c.Query("payment_status"))
	if paymentStatus != "" && !paymentStatus.Valid() {
		respondValidation(c, "unknown payment_status")
		return
	}
	page, limit := parsePagination(c)

	sales, total, err := h.sales.ListSales(c.Request.Context(), ownerFrom(c), models.SaleFilter{
		ProductID:     productID,
		PaymentStatus: paymentStatus,
		From:          from,
		To:            to,
		Page:          page,
		Limit:         limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, listData(sales, total, page, limit), "")
}

// getSale retrieves a single sale
func (h *Handler) getSale(c *gin.Context) {
	saleID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	sale, err := h.sales.GetSale(c.Request.Context(), ownerFrom(c), saleID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, sale, "")
}

// requestSaleEdit stages a sale change for approval
func (h *Handler) requestSaleEdit(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}
	saleID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	var req service.EditSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body: "+err.Error())
		return
	}

	audit, err := h.sales.RequestEdit(c.Request.Context(), ownerFrom(c), actor, saleID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusAccepted, audit, "Edit recorded, pending approval")
}

// requestSaleDelete stages a sale deletion for approval
func (h *Handler) requestSaleDelete(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}
	saleID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "reason is required")
		return
	}

	audit, err := h.sales.RequestDelete(c.Request.Context(), ownerFrom(c), actor, saleID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusAccepted, audit, "Deletion recorded, pending approval")
}

// listSaleAudits lists sale audits with filters and pagination
func (h *Handler) listSaleAudits(c *gin.Context) {
	saleID, err := parseInt64Query(c, "sale_id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}
	page, limit := parsePagination(c)

	audits, total, err := h.sales.ListSaleAudits(c.Request.Context(), ownerFrom(c), models.AuditFilter{
		SaleID:    saleID,
		AuditType: models.SaleAuditType(c.Query("audit_type")),
		Status:    models.SaleAuditStatus(c.Query("status")),
		From:      from,
		To:        to,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, listData(audits, total, page, limit), "")
}

// getSaleAudit retrieves a single sale audit
func (h *Handler) getSaleAudit(c *gin.Context) {
	auditID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	audit, err := h.sales.GetSaleAudit(c.Request.Context(), ownerFrom(c), auditID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, audit, "")
}

// approveSaleAudit executes a pending sale audit
func (h *Handler) approveSaleAudit(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}
	auditID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	result, err := h.sales.ApproveAudit(c.Request.Context(), ownerFrom(c), actor, auditID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result, "Audit approved and applied")
}

// rejectSaleAudit rejects a pending sale audit
func (h *Handler) rejectSaleAudit(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}
	auditID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "reason is required")
		return
	}

	audit, err := h.sales.RejectAudit(c.Request.Context(), ownerFrom(c), actor, auditID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, audit, "Audit rejected")
}
