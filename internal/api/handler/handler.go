package handler

import (
	"errors"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/response"
)

type Handler struct {
	checkout *service.CheckoutService
	orders   *service.OrderService
	ledger   *service.StockLedger
}

func NewHandler(checkout *service.CheckoutService, orders *service.OrderService, ledger *service.StockLedger) *Handler {
	return &Handler{checkout: checkout, orders: orders, ledger: ledger}
}

// Health 存活检查
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// writeError 业务错误 -> HTTP 状态码
func writeError(c *gin.Context, err error) {
	msg := service.PublicMessage(err)
	switch {
	case errors.Is(err, service.ErrValidation):
		response.BadRequest(c, msg)
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, msg)
	case errors.Is(err, service.ErrInsufficientStock), errors.Is(err, service.ErrUnavailable):
		response.Conflict(c, msg)
	case errors.Is(err, service.ErrPromotionRejected):
		response.Unprocessable(c, msg)
	case errors.Is(err, service.ErrInvalidTransition):
		// 对外只给通用文案；日志由 service 层记录，这里只上报 Sentry
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetLevel(sentry.LevelWarning)
				hub.CaptureException(err)
			})
		}
		response.Conflict(c, msg)
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, msg)
	case errors.Is(err, service.ErrCheckoutInProgress):
		response.Conflict(c, msg)
	default:
		response.InternalError(c, err)
	}
}
