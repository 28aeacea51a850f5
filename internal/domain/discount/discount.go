// Package discount implements the storefront discount rule engine: code
// eligibility validation, rule evaluation, usage recording, and admin
// management of discount codes.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Source describes how a discount code came into existence.
type Source string

const (
	// SourceAdmin marks codes created through the admin console.
	SourceAdmin Source = "ADMIN"
	// SourceManual marks codes entered by hand (support, partnerships).
	SourceManual Source = "MANUAL"
	// SourceSystem marks codes generated in bulk by campaign tooling.
	SourceSystem Source = "SYSTEM"
)

// RuleType enumerates the supported discount strategies.
type RuleType string

const (
	RulePercentage   RuleType = "PERCENTAGE"
	RuleFixedAmount  RuleType = "FIXED_AMOUNT"
	RuleFreeShipping RuleType = "FREE_SHIPPING"
	RuleBOGO         RuleType = "BOGO"
)

// RestrictionType enumerates the supported eligibility filters.
type RestrictionType string

const (
	RestrictionProductSKU  RestrictionType = "PRODUCT_SKU"
	RestrictionEmailDomain RestrictionType = "EMAIL_DOMAIN"
)

var (
	// ErrCodeNotFound is returned when a code string matches no record.
	ErrCodeNotFound = errors.New("discount code not found")
	// ErrUsageLimitReached is returned by the recorder when the global usage
	// cap would be exceeded at commit time.
	ErrUsageLimitReached = errors.New("discount usage limit reached")
	// ErrEmailLimitReached is returned by the recorder when the per-email
	// cap would be exceeded at commit time.
	ErrEmailLimitReached = errors.New("per-email usage limit reached")
)

// Code is a redeemable discount code with its eligibility metadata and
// child rules and restrictions. Monetary fields are integer cents; a zero
// MinOrderAmount or MaxDiscountAmount means "not set".
type Code struct {
	ID          string
	Code        string // stored upper-cased, unique
	Name        string
	Description string
	Source      Source
	IsActive    bool

	StartsAt  *time.Time
	ExpiresAt *time.Time

	MinOrderAmount    int64
	MaxDiscountAmount int64

	// MaxUsageTotal is a pointer because zero is a meaningful value
	// (a disabled code) distinct from "unbounded" (nil).
	MaxUsageTotal     *int
	MaxUsagePerEmail  int
	CurrentUsageCount int

	FirstOrderOnly bool
	// Stackable and Priority are persisted for future multi-code stacking;
	// the evaluator considers a single code at a time.
	Stackable bool
	Priority  int

	CreatedBy string
	CreatedAt time.Time

	Rules        []Rule // ordered by Priority descending
	Restrictions []Restriction
}

// Rule is one discount computation strategy attached to a code. The struct is
// a superset of the per-type fields; Type decides which ones are meaningful.
type Rule struct {
	ID   string
	Type RuleType

	// Value is a percentage (1-100) for PERCENTAGE rules or cents for
	// FIXED_AMOUNT rules.
	Value int64
	// MaxDiscount caps a PERCENTAGE rule's computed discount, in cents.
	MaxDiscount int64
	// MinOrderAmount is the tier threshold in cents; zero means no threshold.
	MinOrderAmount int64

	BuyProductSKU  string
	BuyQuantity    int
	GetProductSKU  string
	GetQuantity    int
	GetDiscountPct int // 100 = fully free

	Priority int
}

// Restriction narrows which carts or email domains may redeem a code.
// Include=true rows form an allow-list, Include=false rows a deny-list.
type Restriction struct {
	ID      string
	Type    RestrictionType
	Value   string
	Include bool
}

// CartItem is one line of the cart snapshot handed to the engine.
type CartItem struct {
	SKU      string
	Quantity int
	Price    int64 // unit price in cents
	Name     string
}

// Subtotal returns the sum of price times quantity across all items.
func Subtotal(cart []CartItem) int64 {
	var sum int64
	for _, item := range cart {
		sum += item.Price * int64(item.Quantity)
	}
	return sum
}

// AppliedRule records one rule that fired and its contribution in cents.
type AppliedRule struct {
	RuleID          string   `json:"ruleId"`
	Type            RuleType `json:"type"`
	Value           int64    `json:"value,omitempty"`
	AppliedDiscount int64    `json:"appliedDiscount"`
}

// FreeItem describes units granted by a BOGO rule.
type FreeItem struct {
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	Value       int64  `json:"value"` // cents
	DiscountPct int    `json:"discountPct"`
}

// Applicable is the computed monetary effect of an eligible code.
type Applicable struct {
	Code string
	Name string
	// Type is the client-facing discount kind: "percentage", "fixed",
	// "free_shipping" or "bogo".
	Type string
	// Amount is the percentage (1-100) or fixed cents of the winning rule;
	// zero when not meaningful for the type.
	Amount int64
	// MaxDiscount is the winning percentage rule's cap, if any.
	MaxDiscount int64
	// CalculatedDiscount is the actual discount in cents after all caps.
	CalculatedDiscount int64
	Message            string
	Rules              []AppliedRule
	FreeItems          []FreeItem
}

// Usage is one append-only redemption ledger row.
type Usage struct {
	ID              string
	DiscountID      string
	Email           string // lowercased
	OrderID         string // empty until the order is finalized
	OrderNumber     string
	Subtotal        int64
	DiscountApplied int64
	RulesApplied    []AppliedRule
	IPAddress       string
	UsedAt          time.Time
}

// UsageStats aggregates the ledger for one code. Derived entirely from
// ledger rows, never from the denormalized counter.
type UsageStats struct {
	TotalUses          int
	UniqueEmails       int
	TotalDiscountGiven int64
	Recent             []RecentUsage
}

// RecentUsage is a trimmed ledger row for reporting. RulesApplied carries the
// rule breakdown snapshotted at redemption time, so reports stay accurate
// even after the code's rules are edited.
type RecentUsage struct {
	Email           string
	OrderNumber     string
	DiscountApplied int64
	RulesApplied    []AppliedRule
	UsedAt          time.Time
}

// Repository provides code lookup for validation.
type Repository interface {
	// FindByCode returns the code matching the (normalized) code string with
	// rules ordered by priority descending and all restrictions loaded.
	// Returns ErrCodeNotFound when no record matches.
	FindByCode(ctx context.Context, code string) (*Code, error)
}

// UsageLedger provides read access to the redemption ledger.
type UsageLedger interface {
	// CountByEmail returns the number of ledger rows for (discountID, email).
	CountByEmail(ctx context.Context, discountID, email string) (int, error)
}

// OrderCounter looks up completed orders owned by the storefront. Used only
// for first-order-only checks.
type OrderCounter interface {
	CountByEmail(ctx context.Context, email string) (int, error)
}

// Recorder durably records a redemption: ledger append plus counter increment
// as one atomic unit. Implementations must enforce both usage caps at commit
// time and return ErrUsageLimitReached or ErrEmailLimitReached on violation.
type Recorder interface {
	Record(ctx context.Context, u *Usage) error
}
