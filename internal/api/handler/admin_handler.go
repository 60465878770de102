package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/api/middleware"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/response"
)

type bulkStatusRequest struct {
	OrderIDs []string `json:"order_ids" binding:"required,min=1,max=500"`
	service.TransitionRequest
}

// UpdateOrderStatus 管理员推进订单状态
// @Summary 更新订单状态
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Param request body service.TransitionRequest true "目标状态"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/admin/orders/{id}/status [post]
func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	order, err := h.orders.TransitionStatus(c.Request.Context(), c.Param("id"), middleware.ActorID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, order)
}

// BulkUpdateOrderStatus 批量更新，逐单独立事务
// @Summary 批量更新订单状态
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body bulkStatusRequest true "订单ID列表与目标状态"
// @Success 200 {object} response.Response{data=service.BulkResult}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /api/v1/admin/orders/bulk-status [post]
func (h *Handler) BulkUpdateOrderStatus(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.orders.BulkTransition(c.Request.Context(), middleware.ActorID(c), req.OrderIDs, req.TransitionRequest)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// AdjustStock 手工调整或补货
// @Summary 调整库存
// @Tags 管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.AdjustRequest true "调整信息"
// @Success 200 {object} response.Response{data=model.StockLedgerEntry}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/admin/stock/adjust [post]
func (h *Handler) AdjustStock(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	entry, err := h.ledger.Adjust(c.Request.Context(), middleware.ActorID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, entry)
}

// AuditStock 库存与流水对账
// @Summary 库存对账
// @Tags 管理
// @Produce json
// @Security BearerAuth
// @Param product_id query string true "商品ID"
// @Param variant_id query string false "规格ID"
// @Success 200 {object} response.Response{data=service.AuditReport}
// @Failure 404 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/admin/stock/audit [get]
func (h *Handler) AuditStock(c *gin.Context) {
	productID := c.Query("product_id")
	if productID == "" {
		response.BadRequest(c, "product_id is required")
		return
	}
	var variantID *string
	if v := c.Query("variant_id"); v != "" {
		variantID = &v
	}
	report, err := h.ledger.Audit(c.Request.Context(), productID, variantID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}
