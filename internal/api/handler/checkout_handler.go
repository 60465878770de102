package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/api/middleware"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/response"
)

type checkoutRequest struct {
	AddressID      string            `json:"address_id" binding:"required"`
	PaymentMethod  string            `json:"payment_method" binding:"required,max=32"`
	ShippingMethod string            `json:"shipping_method" binding:"required,max=32"`
	ShippingCost   decimal.Decimal   `json:"shipping_cost"`
	PromoCode      string            `json:"promo_code" binding:"max=64"`
	Notes          string            `json:"notes" binding:"max=1000"`
	Items          []service.ItemRef `json:"items" binding:"required,min=1,dive"`
}

// Checkout 下单
// @Summary 结账下单
// @Description 锁库存、计价、核销优惠码并创建订单；同一 Idempotency-Key 重放返回原订单
// @Tags 订单
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "幂等键"
// @Param request body checkoutRequest true "结账信息"
// @Success 201 {object} response.Response{data=service.CheckoutResult}
// @Success 200 {object} response.Response{data=service.CheckoutResult} "幂等重放"
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Failure 422 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/checkout [post]
func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := h.checkout.Checkout(c.Request.Context(), service.CheckoutRequest{
		UserID:         middleware.ActorID(c),
		AddressID:      req.AddressID,
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		ShippingCost:   req.ShippingCost,
		PromoCode:      req.PromoCode,
		Notes:          req.Notes,
		Items:          req.Items,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Replayed {
		response.Success(c, res)
		return
	}
	response.Created(c, res)
}
