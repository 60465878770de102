package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/api/middleware"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/response"
)

type cancelRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// GetOrder 订单详情（本人或管理员）
// @Summary 获取订单详情
// @Tags 订单
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=service.OrderDetail}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/orders/{id} [get]
func (h *Handler) GetOrder(c *gin.Context) {
	detail, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, detail)
}

// GetOrderHistory 状态变更记录
// @Summary 订单状态历史
// @Tags 订单
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Success 200 {object} response.Response{data=[]model.OrderStatusHistory}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/orders/{id}/history [get]
func (h *Handler) GetOrderHistory(c *gin.Context) {
	history, err := h.orders.GetOrderHistory(c.Request.Context(), c.Param("id"), middleware.ActorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, history)
}

// CancelOrder 取消订单并回补库存
// @Summary 取消订单
// @Tags 订单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "订单ID"
// @Param request body cancelRequest false "取消原因"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/orders/{id}/cancel [post]
func (h *Handler) CancelOrder(c *gin.Context) {
	var req cancelRequest
	// body 可选
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	order, err := h.orders.Cancel(c.Request.Context(), c.Param("id"), middleware.ActorID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, order)
}
