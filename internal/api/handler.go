// Package api exposes the engine over HTTP. Handlers bind and parse,
// services decide, and every response is wrapped in the same envelope:
// {"success":true,"data":…} or {"success":false,"error":…,"details":…}.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"inventory-service/internal/service"
	"inventory-service/internal/stock"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	sales     *service.SaleService
	movements *service.MovementService
	stocks    *service.StockReader
}

// NewHandler creates a new HTTP handler
func NewHandler(sales *service.SaleService, movements *service.MovementService, stocks *service.StockReader) *Handler {
	return &Handler{
		sales:     sales,
		movements: movements,
		stocks:    stocks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(ownerMiddleware())
	{
		v1.POST("/sales", h.createSale)
		v1.GET("/sales", h.listSales)
		v1.GET("/sales/:id", h.getSale)
		v1.POST("/sales/:id/edit", h.requestSaleEdit)
		v1.POST("/sales/:id/delete", h.requestSaleDelete)

		v1.GET("/sale-audits", h.listSaleAudits)
		v1.GET("/sale-audits/:id", h.getSaleAudit)
		v1.POST("/sale-audits/:id/approve", h.approveSaleAudit)
		v1.POST("/sale-audits/:id/reject", h.rejectSaleAudit)

		v1.POST("/movements", h.createMovement)
		v1.GET("/movements", h.listMovements)
		v1.GET("/movements/:id", h.getMovement)
		v1.POST("/movements/:id/approve", h.approveMovement)
		v1.POST("/movements/:id/reject", h.rejectMovement)
		v1.POST("/movements/:id/cancel", h.cancelMovement)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/stock", h.getProductStock)

		v1.GET("/damage-records", h.listDamageRecords)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// ownerMiddleware requires the tenant id on every API route. The engine
// trusts it: authentication happens upstream.
func ownerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader("X-Owner-ID")
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "validation_failed",
				"details": "X-Owner-ID header is required",
			})
			return
		}
		c.Set("owner_id", owner)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) string {
	return c.GetString("owner_id")
}

// actorFrom reads the acting user from the X-Actor-ID header. Mutating
// endpoints refuse to run without one; the audit trail needs a name.
func actorFrom(c *gin.Context) (string, bool) {
	actor := c.GetHeader("X-Actor-ID")
	return actor, actor != ""
}

func respondOK(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
		"message": message,
	})
}

func respondValidation(c *gin.Context, details string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "validation_failed",
		"details": details,
	})
}

// respondError maps service and store errors onto the envelope. Unknown
// errors are logged and answered with a generic internal_error; raw storage
// errors never reach the client.
func respondError(c *gin.Context, err error) {
	var verr *service.ValidationError
	var shortage *stock.InsufficientStockError

	switch {
	case errors.As(err, &verr):
		respondValidation(c, verr.Message)

	case errors.Is(err, stock.ErrInvalidRequest), errors.Is(err, stock.ErrInvalidRatio):
		respondValidation(c, err.Error())

	case errors.Is(err, service.ErrNoChange):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "no_change",
			"details": "the request matches the current state",
		})

	case errors.As(err, &shortage):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "insufficient_stock",
			"details": gin.H{"shortage_kg": shortage.ShortageKg},
		})

	case errors.Is(err, store.ErrOutOfStock):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "out_of_stock",
			"details": "the change would drive stock negative",
		})

	case errors.Is(err, store.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "already_processed",
			"details": err.Error(),
		})

	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "not_found",
			"details": err.Error(),
		})

	default:
		util.GetLogger().Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal_error",
		})
	}
}

func parseIDParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(store.DefaultPageSize)))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = store.DefaultPageSize
	}
	if limit > store.MaxPageSize {
		limit = store.MaxPageSize
	}
	return page, limit
}

func parseInt64Query(c *gin.Context, name string) (*int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &id, nil
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339 or YYYY-MM-DD", name)
	}
	return &ts, nil
}

// listData wraps list results with their pagination echo.
func listData(items interface{}, total int64, page, limit int) gin.H {
	return gin.H{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
