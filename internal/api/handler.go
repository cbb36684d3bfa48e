package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/DarioJr13/invenbank-order-service/internal/service"
	"github.com/DarioJr13/invenbank-order-service/internal/store"
	"github.com/DarioJr13/invenbank-order-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	placementService *service.PlacementService
}

// NewHandler creates a new HTTP handler
func NewHandler(placementService *service.PlacementService) *Handler {
	return &Handler{
		placementService: placementService,
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
	{
		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders/:number", h.getOrder)
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

// placeOrderRequest is the inbound cart payload. Buyer identity comes
// from the X-Buyer-ID header set by the upstream auth gateway.
type placeOrderRequest struct {
	ShippingAddress string                `json:"shipping_address" binding:"required"`
	Items           []service.LineRequest `json:"items" binding:"required,min=1"`
}

// placeOrder handles order placement
func (h *Handler) placeOrder(c *gin.Context) {
	var req placeOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	buyerID, err := strconv.ParseInt(c.GetHeader("X-Buyer-ID"), 10, 64)
	if err != nil || buyerID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Missing or invalid buyer identity",
		})
		return
	}

	placed, err := h.placementService.PlaceOrder(c.Request.Context(), buyerID, req.ShippingAddress, req.Items)
	if err != nil {
		h.writePlacementError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_number": placed.Order.OrderNumber,
		"total_amount": placed.Order.TotalAmount,
		"status":       placed.Order.Status,
		"placed_at":    placed.Order.PlacedAt,
		"lines":        placed.Lines,
	})
}

// writePlacementError maps a placement failure to its HTTP response,
// always identifying the failing line so the buyer can adjust the cart.
func (h *Handler) writePlacementError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var notFoundErr *service.NotFoundError
	var stockErr *service.InsufficientStockError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       validationErr.Error(),
			"product_id":  validationErr.ProductID,
			"supplier_id": validationErr.SupplierID,
			"quantity":    validationErr.Quantity,
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{
			"error":       notFoundErr.Error(),
			"product_id":  notFoundErr.ProductID,
			"supplier_id": notFoundErr.SupplierID,
		})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":       stockErr.Error(),
			"product_id":  stockErr.ProductID,
			"supplier_id": stockErr.SupplierID,
			"quantity":    stockErr.Quantity,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to place order",
		})
	}
}

// getOrder handles get order by number
func (h *Handler) getOrder(c *gin.Context) {
	placed, err := h.placementService.GetOrder(c.Request.Context(), c.Param("number"))
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Order not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load order",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": placed.Order,
		"lines": placed.Lines,
	})
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
