package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"leaguehub.com/app/internal/http/middleware"
	"leaguehub.com/app/internal/http/validation"
	"leaguehub.com/app/internal/modules/payments"
	"leaguehub.com/app/internal/shared/apperr"
)

type PaymentsHandler struct {
	Svc *payments.Service
}

func NewPaymentsHandler(svc *payments.Service) *PaymentsHandler {
	return &PaymentsHandler{Svc: svc}
}

type createIntentRequest struct {
	ResourceID  string `json:"resourceId" binding:"required,max=64"`
	Amount      int64  `json:"amount" binding:"gt=0"`
	Currency    string `json:"currency" binding:"required,len=3,alpha"`
	Description string `json:"description" binding:"max=255"`
}

type createIntentResponse struct {
	PaymentID         string `json:"paymentId"`
	ProcessorIntentID string `json:"processorIntentId"`
	ClientSecret      string `json:"clientSecret"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
}

type paymentResponse struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resourceId"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toPaymentResponse(p payments.Payment) paymentResponse {
	return paymentResponse{
		ID:         p.ID,
		ResourceID: p.ResourceID,
		Amount:     p.Amount,
		Currency:   strings.ToUpper(p.Currency),
		Status:     strings.ToUpper(string(p.Status)),
		CreatedAt:  p.CreatedAt,
	}
}

// POST /api/payments/intents
func (h *PaymentsHandler) CreateIntent(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		middleware.Fail(c, apperr.UnauthorizedErr("Authentication required."))
		return
	}

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid payment request.", validation.FromBindError(err, &req)))
		return
	}

	res, err := h.Svc.RequestPayment(c.Request.Context(), principal, payments.RequestPaymentInput{
		ResourceID:  req.ResourceID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		middleware.Fail(c, paymentErr(err))
		return
	}

	c.JSON(http.StatusCreated, createIntentResponse{
		PaymentID:         res.PaymentID,
		ProcessorIntentID: res.ProcessorIntentID,
		ClientSecret:      res.ClientSecret,
		Amount:            res.Amount,
		Currency:          strings.ToUpper(res.Currency),
		Status:            strings.ToUpper(string(res.Status)),
	})
}

// GET /api/payments/:id
func (h *PaymentsHandler) Get(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		middleware.Fail(c, apperr.UnauthorizedErr("Authentication required."))
		return
	}

	p, err := h.Svc.GetPayment(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		middleware.Fail(c, paymentErr(err))
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

// GET /api/resources/:resourceId/payments/latest
func (h *PaymentsHandler) LatestForResource(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		middleware.Fail(c, apperr.UnauthorizedErr("Authentication required."))
		return
	}

	p, err := h.Svc.LatestForResource(c.Request.Context(), principal, c.Param("resourceId"))
	if err != nil {
		middleware.Fail(c, paymentErr(err))
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}
