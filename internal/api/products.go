package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listProducts lists the owner's catalog with derived stock figures
func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.stocks.ListProducts(c.Request.Context(), ownerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, products, "")
}

// getProduct retrieves a single product with derived stock figures
func (h *Handler) getProduct(c *gin.Context) {
	productID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	product, err := h.stocks.GetProduct(c.Request.Context(), ownerFrom(c), productID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, product, "")
}

// getProductStock serves a product's stock level from the snapshot cache,
// falling back to the database
func (h *Handler) getProductStock(c *gin.Context) {
	productID, err := parseIDParam(c, "id")
	if err != nil {
		respondValidation(c, err.Error())
		return
	}

	snap, err := h.stocks.GetStockSnapshot(c.Request.Context(), ownerFrom(c), productID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, snap, "")
}
