package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/response"
)

// PaymentWebhook 支付网关回调（X-Webhook-Token 校验）
// @Summary 支付结果回调
// @Tags 支付
// @Accept json
// @Produce json
// @Param X-Webhook-Token header string true "回调密钥"
// @Param request body service.PaymentResult true "支付结果"
// @Success 200 {object} response.Response{data=model.Order}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/payments/webhook [post]
func (h *Handler) PaymentWebhook(c *gin.Context) {
	var req service.PaymentResult
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	order, err := h.orders.OnPaymentResult(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, order)
}
