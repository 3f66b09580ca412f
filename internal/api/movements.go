package api

import (
	"net/http"

	"inventory-service/internal/models"
	"inventory-service/internal/service"

	"github.com/gin-gonic/gin"
)

// createMovement stages a stock or catalog change for approval
func (h *Handler) createMovement(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}

	var req service.CreateMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid request body: "+err.Error())
		return
	}

	movement, err := h.movements.CreateMovement(c.Request.Context(), ownerFrom(c), actor, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, movement, "Movement recorded, pending approval")
}

// listMovements lists movements with filters and pagination
func (h *Handler) listMovements(c *gin.Context) {
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
	kind := models.MovementKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		respondValidation(c, "unknown movement kind")
		return
	}
	page, limit := parsePagination(c)

	movements, total, err := h.movements.ListMovements(c.Request.Context(), ownerFrom(c), models.MovementFilter{
		ProductID: productID,
		Kind:      kind,
		Status:    models.MovementStatus(c.Query("status")),
		From:      from,
		To:        to,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, listData(movements, total, page, limit), "")
}

// getMovement retrieves a single movement
func (h *Handler) getMovement(c *gin.Context) {
	movementID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	movement, err := h.movements.GetMovement(c.Request.Context(), ownerFrom(c), movementID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, movement, "")
}

// approveMovement executes a pending movement
func (h *Handler) approveMovement(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}
	movementID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	result, err := h.movements.Approve(c.Request.Context(), ownerFrom(c), actor, movementID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result, "Movement approved and executed")
}

// rejectMovement rejects a pending movement
func (h *Handler) rejectMovement(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}
	movementID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "reason is required")
		return
	}

	movement, err := h.movements.Reject(c.Request.Context(), ownerFrom(c), actor, movementID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, movement, "Movement rejected")
}

// cancelMovement lets the requester withdraw their own pending movement
func (h *Handler) cancelMovement(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		respondValidation(c, "X-Actor-ID header is required")
		return
	}
	movementID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	movement, err := h.movements.Cancel(c.Request.Context(), ownerFrom(c), actor, movementID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, movement, "Movement cancelled")
}

// listDamageRecords lists damage loss records, optionally per product
func (h *Handler) listDamageRecords(c *gin.Context) {
	productID, err := parseInt64Query(c, "product_id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	records, err := h.movements.ListDamageRecords(c.Request.Context(), ownerFrom(c), productID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, records, "")
}
