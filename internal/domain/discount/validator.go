package discount

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Result is the outcome of a validation call. Business rejections are data
// (Valid=false with a user-facing Error string); only transient store
// failures surface as Go errors from Validate.
type Result struct {
	Valid      bool
	Error      string
	DiscountID string
	Discount   *Applicable
}

func rejected(reason string) *Result {
	return &Result{Valid: false, Error: reason}
}

// Validator runs the ordered eligibility checks for a discount code against a
// customer identity and cart snapshot. It is read-only: recording a
// redemption is the Recorder's job, after payment succeeds.
type Validator struct {
	codes  Repository
	ledger UsageLedger
	orders OrderCounter
	eval   *Evaluator
	now    func() time.Time
}

// NewValidator creates a Validator with the given collaborators.
func NewValidator(codes Repository, ledger UsageLedger, orders OrderCounter, eval *Evaluator) *Validator {
	return &Validator{
		codes:  codes,
		ledger: ledger,
		orders: orders,
		eval:   eval,
		now:    time.Now,
	}
}

// Validate checks the code against the email and cart. Checks run in strict
// order and short-circuit on the first failure. The returned error is non-nil
// only for store failures, which the caller should treat as retryable rather
// than as an invalid code.
func (v *Validator) Validate(ctx context.Context, code, email string, cart []CartItem, ip string) (*Result, error) {
	normalizedCode := strings.ToUpper(strings.TrimSpace(code))
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))

	dc, err := v.codes.FindByCode(ctx, normalizedCode)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return rejected("Invalid discount code"), nil
		}
		return nil, errors.Wrap(err, "lookup discount code")
	}

	if !dc.IsActive {
		return rejected("This discount code is no longer active"), nil
	}

	now := v.now()
	if dc.StartsAt != nil && now.Before(*dc.StartsAt) {
		return rejected("This discount code is not yet active"), nil
	}
	if dc.ExpiresAt != nil && now.After(*dc.ExpiresAt) {
		return rejected("This discount code has expired"), nil
	}

	subtotal := Subtotal(cart)
	if dc.MinOrderAmount > 0 && subtotal < dc.MinOrderAmount {
		return rejected(fmt.Sprintf("Minimum order of $%s required for this discount", Dollars(dc.MinOrderAmount))), nil
	}

	// Advisory check against the denormalized counter. The recorder re-checks
	// against the ledger at commit time, so a stale read here at worst lets a
	// request through that the recorder will then reject.
	if dc.MaxUsageTotal != nil && dc.CurrentUsageCount >= *dc.MaxUsageTotal {
		return rejected("This discount code has reached its usage limit"), nil
	}

	emailUses, err := v.ledger.CountByEmail(ctx, dc.ID, normalizedEmail)
	if err != nil {
		return nil, errors.Wrap(err, "count email usage")
	}
	if emailUses >= dc.MaxUsagePerEmail {
		return rejected("You have already used this discount code"), nil
	}

	if dc.FirstOrderOnly {
		orderCount, err := v.orders.CountByEmail(ctx, normalizedEmail)
		if err != nil {
			return nil, errors.Wrap(err, "count orders")
		}
		if orderCount > 0 {
			return rejected("This discount code is only valid for first-time orders"), nil
		}
	}

	if reason := checkRestrictions(dc.Restrictions, cart, normalizedEmail); reason != "" {
		return rejected(reason), nil
	}

	applicable := v.eval.Calculate(dc, cart, subtotal)
	if applicable == nil {
		return rejected("No applicable discount rules found"), nil
	}

	return &Result{
		Valid:      true,
		DiscountID: dc.ID,
		Discount:   applicable,
	}, nil
}

// checkRestrictions applies PRODUCT_SKU and EMAIL_DOMAIN include/exclude
// filters. It returns an empty string when the cart and email pass.
func checkRestrictions(restrictions []Restriction, cart []CartItem, email string) string {
	if len(restrictions) == 0 {
		return ""
	}

	var includeSKUs, excludeSKUs, includeDomains, excludeDomains []string
	for _, r := range restrictions {
		switch r.Type {
		case RestrictionProductSKU:
			if r.Include {
				includeSKUs = append(includeSKUs, r.Value)
			} else {
				excludeSKUs = append(excludeSKUs, r.Value)
			}
		case RestrictionEmailDomain:
			if r.Include {
				includeDomains = append(includeDomains, r.Value)
			} else {
				excludeDomains = append(excludeDomains, r.Value)
			}
		}
	}

	if len(includeSKUs) > 0 && !cartContainsAny(cart, includeSKUs) {
		return "This discount code is not valid for the items in your cart"
	}
	if len(excludeSKUs) > 0 && cartContainsAny(cart, excludeSKUs) {
		return "This discount code cannot be used with certain items in your cart"
	}

	if len(includeDomains) > 0 || len(excludeDomains) > 0 {
		domain := emailDomain(email)
		if len(includeDomains) > 0 && !slices.Contains(includeDomains, domain) {
			return "This discount code is not available for your email"
		}
		if slices.Contains(excludeDomains, domain) {
			return "This discount code is not available for your email"
		}
	}

	return ""
}

func cartContainsAny(cart []CartItem, skus []string) bool {
	for _, item := range cart {
		if slices.Contains(skus, item.SKU) {
			return true
		}
	}
	return false
}

func emailDomain(email string) string {
	if _, domain, ok := strings.Cut(email, "@"); ok {
		return domain
	}
	return ""
}
