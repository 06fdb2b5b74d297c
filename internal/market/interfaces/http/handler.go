// Package http 行情服务的 HTTP 处理器
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stocksim/stocktrading/internal/market/application"
	"github.com/stocksim/stocktrading/internal/market/domain"
	"github.com/stocksim/stocktrading/pkg/logger"
)

// StockHandler 股票目录 HTTP 处理器
type StockHandler struct {
	stockService *application.StockService
}

// NewStockHandler 创建 HTTP 处理器
func NewStockHandler(stockService *application.StockService) *StockHandler {
	return &StockHandler{stockService: stockService}
}

// RegisterRoutes 注册路由
func (h *StockHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/stocks", h.CreateStock)
	api.GET("/stocks", h.ListStocks)
	api.GET("/stocks/:symbol", h.GetStock)
}

// CreateStockRequest 创建股票请求
type CreateStockRequest struct {
	Symbol       string `json:"symbol" binding:"required"`
	DisplayName  string `json:"display_name" binding:"required"`
	InitialPrice string `json:"initial_price" binding:"required"`
}

// CreateStock 创建目录条目
func (h *StockHandler) CreateStock(c *gin.Context) {
	var req CreateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := decimal.NewFromString(req.InitialPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid initial_price"})
		return
	}

	stock, err := h.stockService.CreateStock(c.Request.Context(), req.Symbol, req.DisplayName, price)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrStockExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrInvalidSymbol), errors.Is(err, domain.ErrInvalidPrice):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			logger.Error(c.Request.Context(), "Failed to create stock", "symbol", req.Symbol, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, stock)
}

// ListStocks 获取全部股票
func (h *StockHandler) ListStocks(c *gin.Context) {
	stocks, err := h.stockService.ListStocks(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list stocks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stocks)
}

// GetStock 按代码获取股票
func (h *StockHandler) GetStock(c *gin.Context) {
	stock, err := h.stockService.GetStock(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		if errors.Is(err, domain.ErrStockNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.Error(c.Request.Context(), "Failed to get stock", "symbol", c.Param("symbol"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stock)
}
