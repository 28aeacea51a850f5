package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// CodeStore defines persistence operations for managing discount codes.
// Insert and Update must create or replace child collections in the same
// transaction as the parent row.
type CodeStore interface {
	Insert(ctx context.Context, c *Code) error
	// Update persists the full code row. When replaceRules or
	// replaceRestrictions is set, the existing children of that kind are
	// deleted and c's collection inserted, atomically with the row update.
	Update(ctx context.Context, c *Code, replaceRules, replaceRestrictions bool) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*Code, error)
	List(ctx context.Context, f ListFilter) ([]Code, int, error)
}

// StatsStore aggregates the redemption ledger.
type StatsStore interface {
	Stats(ctx context.Context, discountID string) (*UsageStats, error)
}

// Invalidator drops a cached code record after an admin mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, code string)
}

// ListFilter selects and pages discount codes.
type ListFilter struct {
	Source         Source // empty = all
	IsActive       *bool
	IncludeExpired bool
	Limit          int // defaults to 50
	Offset         int
}

// RuleInput describes one rule in a create/update request.
type RuleInput struct {
	Type           RuleType
	Value          int64
	MaxDiscount    int64
	MinOrderAmount int64
	BuyProductSKU  string
	BuyQuantity    int
	GetProductSKU  string
	GetQuantity    int
	GetDiscountPct int
	Priority       *int // nil = default to the rule's index
}

// RestrictionInput describes one restriction in a create/update request.
type RestrictionInput struct {
	Type    RestrictionType
	Value   string
	Include *bool // nil = true
}

// CreateInput is the full nested shape for creating a code.
type CreateInput struct {
	Code              string
	Name              string
	Description       string
	Source            Source
	IsActive          *bool
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	MinOrderAmount    int64
	MaxDiscountAmount int64
	MaxUsageTotal     *int
	MaxUsagePerEmail  *int
	FirstOrderOnly    bool
	Stackable         bool
	Priority          int
	CreatedBy         string
	Rules             []RuleInput
	Restrictions      []RestrictionInput
}

// UpdateInput carries partial updates. Nil pointer fields are left unchanged.
// Non-nil Rules or Restrictions replace the existing collection wholesale.
type UpdateInput struct {
	Code              *string
	Name              *string
	Description       *string
	IsActive          *bool
	StartsAt          **time.Time
	ExpiresAt         **time.Time
	MinOrderAmount    *int64
	MaxDiscountAmount *int64
	MaxUsageTotal     **int
	MaxUsagePerEmail  *int
	FirstOrderOnly    *bool
	Stackable         *bool
	Priority          *int
	Rules             []RuleInput
	Restrictions      []RestrictionInput
}

// Manager implements the admin management and reporting operations.
type Manager struct {
	store CodeStore
	stats StatsStore
	cache Invalidator // optional
}

// NewManager creates a Manager. cache may be nil.
func NewManager(store CodeStore, stats StatsStore, cache Invalidator) *Manager {
	return &Manager{store: store, stats: stats, cache: cache}
}

// Create inserts a code with its rules and restrictions and returns the
// stored record.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Code, error) {
	if strings.TrimSpace(in.Code) == "" {
		return nil, errors.New("code is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.New("name is required")
	}

	c := &Code{
		ID:                uuid.New().String(),
		Code:              strings.ToUpper(strings.TrimSpace(in.Code)),
		Name:              in.Name,
		Description:       in.Description,
		Source:            in.Source,
		IsActive:          true,
		StartsAt:          in.StartsAt,
		ExpiresAt:         in.ExpiresAt,
		MinOrderAmount:    in.MinOrderAmount,
		MaxDiscountAmount: in.MaxDiscountAmount,
		MaxUsageTotal:     in.MaxUsageTotal,
		MaxUsagePerEmail:  1,
		FirstOrderOnly:    in.FirstOrderOnly,
		Stackable:         in.Stackable,
		Priority:          in.Priority,
		CreatedBy:         in.CreatedBy,
	}
	if c.Source == "" {
		c.Source = SourceAdmin
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if in.MaxUsagePerEmail != nil {
		c.MaxUsagePerEmail = *in.MaxUsagePerEmail
	}
	c.Rules = buildRules(in.Rules)
	c.Restrictions = buildRestrictions(in.Restrictions)

	if err := m.store.Insert(ctx, c); err != nil {
		return nil, errors.Wrap(err, "insert discount code")
	}

	return m.store.GetByID(ctx, c.ID)
}

// Update applies a partial update. Supplying a rule or restriction collection
// replaces the existing children of that kind; the swap happens inside one
// transaction so no reader observes a code with zero rules mid-update.
func (m *Manager) Update(ctx context.Context, id string, in UpdateInput) (*Code, error) {
	existing, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prevCode := existing.Code

	if in.Code != nil {
		existing.Code = strings.ToUpper(strings.TrimSpace(*in.Code))
	}
	if in.Name != nil {
		existing.Name = *in.Name
	}
	if in.Description != nil {
		existing.Description = *in.Description
	}
	if in.IsActive != nil {
		existing.IsActive = *in.IsActive
	}
	if in.StartsAt != nil {
		existing.StartsAt = *in.StartsAt
	}
	if in.ExpiresAt != nil {
		existing.ExpiresAt = *in.ExpiresAt
	}
	if in.MinOrderAmount != nil {
		existing.MinOrderAmount = *in.MinOrderAmount
	}
	if in.MaxDiscountAmount != nil {
		existing.MaxDiscountAmount = *in.MaxDiscountAmount
	}
	if in.MaxUsageTotal != nil {
		existing.MaxUsageTotal = *in.MaxUsageTotal
	}
	if in.MaxUsagePerEmail != nil {
		existing.MaxUsagePerEmail = *in.MaxUsagePerEmail
	}
	if in.FirstOrderOnly != nil {
		existing.FirstOrderOnly = *in.FirstOrderOnly
	}
	if in.Stackable != nil {
		existing.Stackable = *in.Stackable
	}
	if in.Priority != nil {
		existing.Priority = *in.Priority
	}

	replaceRules := in.Rules != nil
	if replaceRules {
		existing.Rules = buildRules(in.Rules)
	}
	replaceRestrictions := in.Restrictions != nil
	if replaceRestrictions {
		existing.Restrictions = buildRestrictions(in.Restrictions)
	}

	if err := m.store.Update(ctx, existing, replaceRules, replaceRestrictions); err != nil {
		return nil, errors.Wrap(err, "update discount code")
	}

	m.invalidate(ctx, prevCode, existing.Code)
	return m.store.GetByID(ctx, id)
}

// Delete removes a code; children cascade at the storage layer.
func (m *Manager) Delete(ctx context.Context, id string) error {
	existing, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete discount code")
	}
	m.invalidate(ctx, existing.Code, "")
	return nil
}

// GetByID returns the full nested code record.
func (m *Manager) GetByID(ctx context.Context, id string) (*Code, error) {
	return m.store.GetByID(ctx, id)
}

// List returns a page of codes and the total count for the filter.
func (m *Manager) List(ctx context.Context, f ListFilter) ([]Code, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return m.store.List(ctx, f)
}

// Stats aggregates usage for one code from the ledger.
func (m *Manager) Stats(ctx context.Context, discountID string) (*UsageStats, error) {
	return m.stats.Stats(ctx, discountID)
}

func (m *Manager) invalidate(ctx context.Context, codes ...string) {
	if m.cache == nil {
		return
	}
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		m.cache.Invalidate(ctx, code)
	}
}

func buildRules(inputs []RuleInput) []Rule {
	rules := make([]Rule, len(inputs))
	for i, in := range inputs {
		priority := i
		if in.Priority != nil {
			priority = *in.Priority
		}
		rules[i] = Rule{
			ID:             uuid.New().String(),
			Type:           in.Type,
			Value:          in.Value,
			MaxDiscount:    in.MaxDiscount,
			MinOrderAmount: in.MinOrderAmount,
			BuyProductSKU:  in.BuyProductSKU,
			BuyQuantity:    in.BuyQuantity,
			GetProductSKU:  in.GetProductSKU,
			GetQuantity:    in.GetQuantity,
			GetDiscountPct: in.GetDiscountPct,
			Priority:       priority,
		}
	}
	return rules
}

func buildRestrictions(inputs []RestrictionInput) []Restriction {
	restrictions := make([]Restriction, len(inputs))
	for i, in := range inputs {
		include := true
		if in.Include != nil {
			include = *in.Include
		}
		restrictions[i] = Restriction{
			ID:      uuid.New().String(),
			Type:    in.Type,
			Value:   in.Value,
			Include: include,
		}
	}
	return restrictions
}
