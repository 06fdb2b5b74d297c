// Package http 交易服务的 HTTP 处理器
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	marketdomain "github.com/stocksim/stocktrading/internal/market/domain"
	"github.com/stocksim/stocktrading/internal/trade/application"
	"github.com/stocksim/stocktrading/internal/trade/domain"
	"github.com/stocksim/stocktrading/pkg/logger"
	"github.com/stocksim/stocktrading/pkg/middleware"
)

// TradeHandler 交易 HTTP 处理器
type TradeHandler struct {
	tradeService *application.TradeService
}

// NewTradeHandler 创建交易 HTTP 处理器
func NewTradeHandler(tradeService *application.TradeService) *TradeHandler {
	return &TradeHandler{tradeService: tradeService}
}

// RegisterRoutes 注册路由，所有端点都要求已解析的用户身份
func (h *TradeHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/portfolios", h.CreatePortfolio)
	api.GET("/portfolio", h.GetPortfolio)
	api.GET("/portfolio/transactions", h.GetTransactions)
	api.POST("/trades/buy", h.Buy)
	api.POST("/trades/sell", h.Sell)
}

// TradeRequest 买卖请求
type TradeRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required"`
}

// CreatePortfolio 为当前用户开设组合
func (h *TradeHandler) CreatePortfolio(c *gin.Context) {
	portfolio, err := h.tradeService.CreatePortfolio(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Error(c.Request.Context(), "Failed to create portfolio", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user_id":      portfolio.UserID,
		"cash_balance": portfolio.CashBalance.String(),
	})
}

// GetPortfolio 返回当前用户的组合视图
func (h *TradeHandler) GetPortfolio(c *gin.Context) {
	view, err := h.tradeService.GetPortfolio(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.Error(c.Request.Context(), "Failed to get portfolio", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetTransactions 返回当前用户的成交流水
func (h *TradeHandler) GetTransactions(c *gin.Context) {
	txs, err := h.tradeService.GetTransactions(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		if errors.Is(err, domain.ErrPortfolioNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.Error(c.Request.Context(), "Failed to list transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, txs)
}

// Buy 市价买入
func (h *TradeHandler) Buy(c *gin.Context) {
	h.trade(c, h.tradeService.Buy)
}

// Sell 市价卖出
func (h *TradeHandler) Sell(c *gin.Context) {
	h.trade(c, h.tradeService.Sell)
}

type tradeFunc func(ctx context.Context, userID, symbol string, quantity int64) (*application.TradeResult, error)

// trade 解析请求、执行买卖并统一映射错误码
func (h *TradeHandler) trade(c *gin.Context, exec tradeFunc) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := exec(c.Request.Context(), c.GetString(middleware.UserIDKey), req.Symbol, req.Quantity)
	if err != nil {
		h.writeTradeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeTradeError 领域错误到 HTTP 状态码的映射
func (h *TradeHandler) writeTradeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrHoldingNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPortfolioNotFound),
		errors.Is(err, marketdomain.ErrStockNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Error(c.Request.Context(), "Trade failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
