package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/lonestarfoods/discount-engine/internal/domain/discount"
)

type ruleRequest struct {
	Type           string `json:"type"`
	Value          int64  `json:"value,omitempty"`
	MaxDiscount    int64  `json:"maxDiscount,omitempty"`
	MinOrderAmount int64  `json:"minOrderAmount,omitempty"`
	BuyProductSKU  string `json:"buyProductSku,omitempty"`
	BuyQuantity    int    `json:"buyQuantity,omitempty"`
	GetProductSKU  string `json:"getProductSku,omitempty"`
	GetQuantity    int    `json:"getQuantity,omitempty"`
	GetDiscountPct int    `json:"getDiscountPct,omitempty"`
	Priority       *int   `json:"priority,omitempty"`
}

type restrictionRequest struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Include *bool  `json:"include,omitempty"`
}

type createDiscountRequest struct {
	Code              string               `json:"code"`
	Name              string               `json:"name"`
	Description       string               `json:"description,omitempty"`
	Source            string               `json:"source,omitempty"`
	IsActive          *bool                `json:"isActive,omitempty"`
	StartsAt          *time.Time           `json:"startsAt,omitempty"`
	ExpiresAt         *time.Time           `json:"expiresAt,omitempty"`
	MinOrderAmount    int64                `json:"minOrderAmount,omitempty"`
	MaxDiscountAmount int64                `json:"maxDiscountAmount,omitempty"`
	MaxUsageTotal     *int                 `json:"maxUsageTotal,omitempty"`
	MaxUsagePerEmail  *int                 `json:"maxUsagePerEmail,omitempty"`
	FirstOrderOnly    bool                 `json:"firstOrderOnly,omitempty"`
	Stackable         bool                 `json:"stackable,omitempty"`
	Priority          int                  `json:"priority,omitempty"`
	CreatedBy         string               `json:"createdBy,omitempty"`
	Rules             []ruleRequest        `json:"rules,omitempty"`
	Restrictions      []restrictionRequest `json:"restrictions,omitempty"`
}

// optionalTime distinguishes an absent JSON field from an explicit null.
// Absent leaves the stored value unchanged; null clears it.
type optionalTime struct {
	set bool
	val *time.Time
}

func (o *optionalTime) UnmarshalJSON(data []byte) error {
	o.set = true
	if string(data) == "null" {
		o.val = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.val = &t
	return nil
}

// optionalInt is optionalTime for nullable integer fields.
type optionalInt struct {
	set bool
	val *int
}

func (o *optionalInt) UnmarshalJSON(data []byte) error {
	o.set = true
	if string(data) == "null" {
		o.val = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.val = &v
	return nil
}

type updateDiscountRequest struct {
	Code              *string              `json:"code,omitempty"`
	Name              *string              `json:"name,omitempty"`
	Description       *string              `json:"description,omitempty"`
	IsActive          *bool                `json:"isActive,omitempty"`
	StartsAt          optionalTime         `json:"startsAt"`
	ExpiresAt         optionalTime         `json:"expiresAt"`
	MinOrderAmount    *int64               `json:"minOrderAmount,omitempty"`
	MaxDiscountAmount *int64               `json:"maxDiscountAmount,omitempty"`
	MaxUsageTotal     optionalInt          `json:"maxUsageTotal"`
	MaxUsagePerEmail  *int                 `json:"maxUsagePerEmail,omitempty"`
	FirstOrderOnly    *bool                `json:"firstOrderOnly,omitempty"`
	Stackable         *bool                `json:"stackable,omitempty"`
	Priority          *int                 `json:"priority,omitempty"`
	Rules             []ruleRequest        `json:"rules,omitempty"`
	Restrictions      []restrictionRequest `json:"restrictions,omitempty"`
}

type ruleResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Value          int64  `json:"value,omitempty"`
	MaxDiscount    int64  `json:"maxDiscount,omitempty"`
	MinOrderAmount int64  `json:"minOrderAmount,omitempty"`
	BuyProductSKU  string `json:"buyProductSku,omitempty"`
	BuyQuantity    int    `json:"buyQuantity,omitempty"`
	GetProductSKU  string `json:"getProductSku,omitempty"`
	GetQuantity    int    `json:"getQuantity,omitempty"`
	GetDiscountPct int    `json:"getDiscountPct,omitempty"`
	Priority       int    `json:"priority"`
}

type restrictionResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Value   string `json:"value"`
	Include bool   `json:"include"`
}

type discountResponse struct {
	ID                string                `json:"id"`
	Code              string                `json:"code"`
	Name              string                `json:"name"`
	Description       string                `json:"description,omitempty"`
	Source            string                `json:"source"`
	IsActive          bool                  `json:"isActive"`
	StartsAt          *time.Time            `json:"startsAt,omitempty"`
	ExpiresAt         *time.Time            `json:"expiresAt,omitempty"`
	MinOrderAmount    int64                 `json:"minOrderAmount,omitempty"`
	MaxDiscountAmount int64                 `json:"maxDiscountAmount,omitempty"`
	MaxUsageTotal     *int                  `json:"maxUsageTotal,omitempty"`
	MaxUsagePerEmail  int                   `json:"maxUsagePerEmail"`
	CurrentUsageCount int                   `json:"currentUsageCount"`
	FirstOrderOnly    bool                  `json:"firstOrderOnly"`
	Stackable         bool                  `json:"stackable"`
	Priority          int                   `json:"priority"`
	CreatedBy         string                `json:"createdBy,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	Rules             []ruleResponse        `json:"rules"`
	Restrictions      []restrictionResponse `json:"restrictions"`
}

type listDiscountsResponse struct {
	Discounts []discountResponse `json:"discounts"`
	Total     int                `json:"total"`
}

// CreateDiscount handles POST /api/admin/discounts.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req createDiscountRequest
	if !readJSON(w, r, &req) {
		return
	}

	created, err := h.manager.Create(r.Context(), discount.CreateInput{
		Code:              req.Code,
		Name:              req.Name,
		Description:       req.Description,
		Source:            discount.Source(req.Source),
		IsActive:          req.IsActive,
		StartsAt:          req.StartsAt,
		ExpiresAt:         req.ExpiresAt,
		MinOrderAmount:    req.MinOrderAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		MaxUsageTotal:     req.MaxUsageTotal,
		MaxUsagePerEmail:  req.MaxUsagePerEmail,
		FirstOrderOnly:    req.FirstOrderOnly,
		Stackable:         req.Stackable,
		Priority:          req.Priority,
		CreatedBy:         req.CreatedBy,
		Rules:             toRuleInputs(req.Rules),
		Restrictions:      toRestrictionInputs(req.Restrictions),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toDiscountResponse(created))
}

// GetDiscount handles GET /api/admin/discounts/{id}.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	c, err := h.manager.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountResponse(c))
}

// UpdateDiscount handles PATCH /api/admin/discounts/{id}. Supplying rules or
// restrictions replaces the whole collection of that kind.
func (h *Handler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	var req updateDiscountRequest
	if !readJSON(w, r, &req) {
		return
	}

	in := discount.UpdateInput{
		Code:              req.Code,
		Name:              req.Name,
		Description:       req.Description,
		IsActive:          req.IsActive,
		MinOrderAmount:    req.MinOrderAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		MaxUsagePerEmail:  req.MaxUsagePerEmail,
		FirstOrderOnly:    req.FirstOrderOnly,
		Stackable:         req.Stackable,
		Priority:          req.Priority,
	}
	if req.StartsAt.set {
		in.StartsAt = &req.StartsAt.val
	}
	if req.ExpiresAt.set {
		in.ExpiresAt = &req.ExpiresAt.val
	}
	if req.MaxUsageTotal.set {
		in.MaxUsageTotal = &req.MaxUsageTotal.val
	}
	if req.Rules != nil {
		in.Rules = toRuleInputs(req.Rules)
	}
	if req.Restrictions != nil {
		in.Restrictions = toRestrictionInputs(req.Restrictions)
	}

	updated, err := h.manager.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountResponse(updated))
}

// DeleteDiscount handles DELETE /api/admin/discounts/{id}.
func (h *Handler) DeleteDiscount(w http.ResponseWriter, r *http.Request) {
	err := h.manager.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDiscounts handles GET /api/admin/discounts.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := discount.ListFilter{
		Source:         discount.Source(q.Get("source")),
		IncludeExpired: q.Get("includeExpired") == "true",
	}
	if v := q.Get("active"); v != "" {
		active := v == "true"
		f.IsActive = &active
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		f.Offset = v
	}

	codes, total, err := h.manager.List(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	resp := listDiscountsResponse{
		Discounts: make([]discountResponse, len(codes)),
		Total:     total,
	}
	for i := range codes {
		resp.Discounts[i] = toDiscountResponse(&codes[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

type usageStatsResponse struct {
	TotalUses          int                   `json:"totalUses"`
	UniqueEmails       int                   `json:"uniqueEmails"`
	TotalDiscountGiven int64                 `json:"totalDiscountGiven"`
	Recent             []recentUsageResponse `json:"recentUsages"`
}

type recentUsageResponse struct {
	Email           string                 `json:"email"`
	OrderNumber     string                 `json:"orderNumber,omitempty"`
	DiscountApplied int64                  `json:"discountApplied"`
	RulesApplied    []discount.AppliedRule `json:"rulesApplied,omitempty"`
	UsedAt          time.Time              `json:"usedAt"`
}

// GetDiscountStats handles GET /api/admin/discounts/{id}/stats. Numbers come
// from the ledger, not the denormalized counter.
func (h *Handler) GetDiscountStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.manager.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, discount.ErrCodeNotFound) {
			writeError(w, http.StatusNotFound, "discount not found")
			return
		}
		writeStoreError(w, r, err)
		return
	}

	stats, err := h.manager.Stats(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	resp := usageStatsResponse{
		TotalUses:          stats.TotalUses,
		UniqueEmails:       stats.UniqueEmails,
		TotalDiscountGiven: stats.TotalDiscountGiven,
		Recent:             make([]recentUsageResponse, len(stats.Recent)),
	}
	for i, u := range stats.Recent {
		resp.Recent[i] = recentUsageResponse{
			Email:           u.Email,
			OrderNumber:     u.OrderNumber,
			DiscountApplied: u.DiscountApplied,
			RulesApplied:    u.RulesApplied,
			UsedAt:          u.UsedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRuleInputs(reqs []ruleRequest) []discount.RuleInput {
	if reqs == nil {
		return nil
	}
	out := make([]discount.RuleInput, len(reqs))
	for i, r := range reqs {
		out[i] = discount.RuleInput{
			Type:           discount.RuleType(r.Type),
			Value:          r.Value,
			MaxDiscount:    r.MaxDiscount,
			MinOrderAmount: r.MinOrderAmount,
			BuyProductSKU:  r.BuyProductSKU,
			BuyQuantity:    r.BuyQuantity,
			GetProductSKU:  r.GetProductSKU,
			GetQuantity:    r.GetQuantity,
			GetDiscountPct: r.GetDiscountPct,
			Priority:       r.Priority,
		}
	}
	return out
}

func toRestrictionInputs(reqs []restrictionRequest) []discount.RestrictionInput {
	if reqs == nil {
		return nil
	}
	out := make([]discount.RestrictionInput, len(reqs))
	for i, r := range reqs {
		out[i] = discount.RestrictionInput{
			Type:    discount.RestrictionType(r.Type),
			Value:   r.Value,
			Include: r.Include,
		}
	}
	return out
}

func toDiscountResponse(c *discount.Code) discountResponse {
	resp := discountResponse{
		ID:                c.ID,
		Code:              c.Code,
		Name:              c.Name,
		Description:       c.Description,
		Source:            string(c.Source),
		IsActive:          c.IsActive,
		StartsAt:          c.StartsAt,
		ExpiresAt:         c.ExpiresAt,
		MinOrderAmount:    c.MinOrderAmount,
		MaxDiscountAmount: c.MaxDiscountAmount,
		MaxUsageTotal:     c.MaxUsageTotal,
		MaxUsagePerEmail:  c.MaxUsagePerEmail,
		CurrentUsageCount: c.CurrentUsageCount,
		FirstOrderOnly:    c.FirstOrderOnly,
		Stackable:         c.Stackable,
		Priority:          c.Priority,
		CreatedBy:         c.CreatedBy,
		CreatedAt:         c.CreatedAt,
		Rules:             make([]ruleResponse, len(c.Rules)),
		Restrictions:      make([]restrictionResponse, len(c.Restrictions)),
	}
	for i, rule := range c.Rules {
		resp.Rules[i] = ruleResponse{
			ID:             rule.ID,
			Type:           string(rule.Type),
			Value:          rule.Value,
			MaxDiscount:    rule.MaxDiscount,
			MinOrderAmount: rule.MinOrderAmount,
			BuyProductSKU:  rule.BuyProductSKU,
			BuyQuantity:    rule.BuyQuantity,
			GetProductSKU:  rule.GetProductSKU,
			GetQuantity:    rule.GetQuantity,
			GetDiscountPct: rule.GetDiscountPct,
			Priority:       rule.Priority,
		}
	}
	for i, res := range c.Restrictions {
		resp.Restrictions[i] = restrictionResponse{
			ID:      res.ID,
			Type:    string(res.Type),
			Value:   res.Value,
			Include: res.Include,
		}
	}
	return resp
}
