package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/lonestarfoods/discount-engine/internal/domain/discount"
)

type cartItemRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
	Name     string `json:"name,omitempty"`
}

type validateRequest struct {
	Code      string            `json:"code"`
	Email     string            `json:"email"`
	Cart      []cartItemRequest `json:"cart"`
	IPAddress string            `json:"ipAddress,omitempty"`
}

type appliedDiscountResponse struct {
	Code               string                 `json:"code"`
	Name               string                 `json:"name"`
	Type               string                 `json:"type"`
	Amount             int64                  `json:"amount,omitempty"`
	MaxDiscount        int64                  `json:"maxDiscount,omitempty"`
	CalculatedDiscount int64                  `json:"calculatedDiscount"`
	Message            string                 `json:"message"`
	Rules              []discount.AppliedRule `json:"rules"`
	FreeItems          []discount.FreeItem    `json:"freeItems,omitempty"`
}

type validateResponse struct {
	Valid      bool                     `json:"valid"`
	Error      string                   `json:"error,omitempty"`
	DiscountID string                   `json:"discountId,omitempty"`
	Discount   *appliedDiscountResponse `json:"discount,omitempty"`
}

// ValidateDiscount handles POST /api/discount/validate. Ineligible codes get
// a 200 with valid=false so the storefront can show the reason inline; only
// malformed requests and store failures get error statuses.
func (h *Handler) ValidateDiscount(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	cart := make([]discount.CartItem, len(req.Cart))
	for i, item := range req.Cart {
		cart[i] = discount.CartItem{
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Price:    item.Price,
			Name:     item.Name,
		}
	}

	result, err := h.validator.Validate(r.Context(), req.Code, req.Email, cart, auditIP(req.IPAddress, r))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	resp := validateResponse{
		Valid:      result.Valid,
		Error:      result.Error,
		DiscountID: result.DiscountID,
	}
	if result.Discount != nil {
		resp.Discount = &appliedDiscountResponse{
			Code:               result.Discount.Code,
			Name:               result.Discount.Name,
			Type:               result.Discount.Type,
			Amount:             result.Discount.Amount,
			MaxDiscount:        result.Discount.MaxDiscount,
			CalculatedDiscount: result.Discount.CalculatedDiscount,
			Message:            result.Discount.Message,
			Rules:              result.Discount.Rules,
			FreeItems:          result.Discount.FreeItems,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordUsageRequest struct {
	DiscountID      string                 `json:"discountId"`
	Email           string                 `json:"email"`
	OrderID         string                 `json:"orderId,omitempty"`
	OrderNumber     string                 `json:"orderNumber,omitempty"`
	Subtotal        int64                  `json:"subtotal"`
	DiscountApplied int64                  `json:"discountApplied"`
	RulesApplied    []discount.AppliedRule `json:"rulesApplied,omitempty"`
	IPAddress       string                 `json:"ipAddress,omitempty"`
}

type recordUsageResponse struct {
	ID     string    `json:"id"`
	UsedAt time.Time `json:"usedAt"`
}

// RecordUsage handles POST /api/discount/usage, called by the storefront
// after payment succeeds. A 409 means a usage cap was hit between validation
// and payment; the storefront refunds the discount or re-prices the order.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req recordUsageRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.DiscountID == "" {
		writeError(w, http.StatusBadRequest, "discountId is required")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	usage := &discount.Usage{
		DiscountID:      req.DiscountID,
		Email:           strings.ToLower(strings.TrimSpace(req.Email)),
		OrderID:         req.OrderID,
		OrderNumber:     req.OrderNumber,
		Subtotal:        req.Subtotal,
		DiscountApplied: req.DiscountApplied,
		RulesApplied:    req.RulesApplied,
		IPAddress:       auditIP(req.IPAddress, r),
	}

	err := h.recorder.Record(r.Context(), usage)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, recordUsageResponse{ID: usage.ID, UsedAt: usage.UsedAt})
	case errors.Is(err, discount.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "discount code not found")
	case errors.Is(err, discount.ErrUsageLimitReached):
		writeError(w, http.StatusConflict, "This discount code has reached its usage limit")
	case errors.Is(err, discount.ErrEmailLimitReached):
		writeError(w, http.StatusConflict, "You have already used this discount code")
	default:
		writeStoreError(w, r, err)
	}
}
