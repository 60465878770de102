package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/model"
	"github.com/fauzanteza/mesin-cuci-store-sub002/internal/service"
	"github.com/fauzanteza/mesin-cuci-store-sub002/pkg/logger"
)

func TestWriteError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger.Set(zaptest.NewLogger(t))
	t.Cleanup(func() { logger.Set(nil) })

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", &service.ValidationError{Field: "items", Reason: "must not be empty"}, http.StatusBadRequest, "items"},
		{"not found", &service.NotFoundError{Resource: "order", ID: "o1"}, http.StatusNotFound, "order"},
		{"stock", &service.InsufficientStockError{ProductName: "Kulkas", Requested: 3, Available: 1}, http.StatusConflict, "Insufficient stock for Kulkas. Available: 1"},
		{"unavailable", &service.UnavailableError{ProductName: "Kulkas"}, http.StatusConflict, "Kulkas"},
		{"promo", &service.PromotionRejectedError{Code: "HEMAT", Reason: service.ReasonPromoExpired}, http.StatusUnprocessableEntity, service.ReasonPromoExpired},
		{"transition", &service.InvalidTransitionError{From: model.OrderStatusDelivered, To: model.OrderStatusPending}, http.StatusConflict, service.MsgCouldNotUpdateOrder},
		{"forbidden", fmt.Errorf("get order: %w", service.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"in progress", service.ErrCheckoutInProgress, http.StatusConflict, "in progress"},
		{"internal", errors.New("connection reset by peer"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(c, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
			assert.NotContains(t, w.Body.String(), "connection reset")
		})
	}
}

func TestWriteError_TransitionLeavesLoggingToService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	writeError(c, &service.InvalidTransitionError{From: model.OrderStatusDelivered, To: model.OrderStatusPending})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Zero(t, logs.Len())
}
