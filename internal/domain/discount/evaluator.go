package discount

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DefaultFallbackUnitPrice is the unit price assumed for a BOGO "get" SKU
// that is absent from the cart. Inherited from the storefront's historical
// behaviour; see EvaluatorConfig.FallbackUnitPrice.
const DefaultFallbackUnitPrice int64 = 2000

// EvaluatorConfig tunes rule evaluation.
type EvaluatorConfig struct {
	// FallbackUnitPrice is used to value BOGO free items whose SKU is not in
	// the cart. A flat fallback misprices items that do not cost exactly
	// this amount; callers with catalog access should supply a real price.
	FallbackUnitPrice int64
}

// Evaluator computes the monetary effect of a discount code against a cart.
// It is pure: no I/O, no clock.
type Evaluator struct {
	fallbackUnitPrice int64
}

// NewEvaluator creates an Evaluator. A zero FallbackUnitPrice selects
// DefaultFallbackUnitPrice.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	fallback := cfg.FallbackUnitPrice
	if fallback == 0 {
		fallback = DefaultFallbackUnitPrice
	}
	return &Evaluator{fallbackUnitPrice: fallback}
}

// Calculate selects and applies the code's rules against the cart and returns
// the resulting discount, or nil when no rule applies. Rule types are
// evaluated in fixed precedence: BOGO first, tiered percentage when no BOGO
// matched, fixed amount when nothing else fired, and free shipping
// independently of the monetary rules. The code-level MaxDiscountAmount cap
// is applied last, across the summed result.
func (e *Evaluator) Calculate(code *Code, cart []CartItem, subtotal int64) *Applicable {
	if len(code.Rules) == 0 {
		return nil
	}

	var (
		percentageRules   []Rule
		fixedRules        []Rule
		freeShippingRules []Rule
		bogoRules         []Rule
	)
	for _, r := range code.Rules {
		switch r.Type {
		case RulePercentage:
			percentageRules = append(percentageRules, r)
		case RuleFixedAmount:
			fixedRules = append(fixedRules, r)
		case RuleFreeShipping:
			freeShippingRules = append(freeShippingRules, r)
		case RuleBOGO:
			bogoRules = append(bogoRules, r)
		}
	}

	result := &Applicable{
		Code: code.Code,
		Name: code.Name,
		Type: "fixed",
	}

	for _, rule := range bogoRules {
		bogo, ok := e.applyBogo(rule, cart)
		if !ok {
			continue
		}
		result.CalculatedDiscount += bogo.discount
		result.Type = "bogo"
		result.Rules = append(result.Rules, AppliedRule{
			RuleID:          rule.ID,
			Type:            RuleBOGO,
			AppliedDiscount: bogo.discount,
		})
		result.FreeItems = append(result.FreeItems, bogo.freeItem)
		result.Message = bogo.message
	}

	// Tiered percentage: only when no BOGO matched.
	if len(percentageRules) > 0 && len(result.FreeItems) == 0 {
		if tier, ok := bestTier(percentageRules, subtotal); ok {
			amount := roundPct(subtotal, tier.Value)
			if tier.MaxDiscount > 0 && amount > tier.MaxDiscount {
				amount = tier.MaxDiscount
			}
			result.CalculatedDiscount = amount
			result.Type = "percentage"
			result.Amount = tier.Value
			result.MaxDiscount = tier.MaxDiscount
			result.Rules = append(result.Rules, AppliedRule{
				RuleID:          tier.ID,
				Type:            RulePercentage,
				Value:           tier.Value,
				AppliedDiscount: amount,
			})
			result.Message = fmt.Sprintf("%d%% off your order!", tier.Value)
		}
	}

	// Fixed amount: only when nothing else produced a result.
	if len(fixedRules) > 0 && len(result.Rules) == 0 {
		if fixed, ok := bestFixed(fixedRules, subtotal); ok {
			amount := min(fixed.Value, subtotal)
			result.CalculatedDiscount = amount
			result.Type = "fixed"
			result.Amount = fixed.Value
			result.Rules = append(result.Rules, AppliedRule{
				RuleID:          fixed.ID,
				Type:            RuleFixedAmount,
				Value:           fixed.Value,
				AppliedDiscount: amount,
			})
			result.Message = fmt.Sprintf("$%s off your order!", Dollars(fixed.Value))
		}
	}

	// Free shipping combines with any of the above. It only claims the result
	// type when no monetary rule fired; the shipping cost adjustment itself is
	// the caller's concern.
	for _, rule := range freeShippingRules {
		if rule.MinOrderAmount > 0 && subtotal < rule.MinOrderAmount {
			continue
		}
		if len(result.Rules) == 0 {
			result.Type = "free_shipping"
			result.Message = "Free shipping applied!"
		}
		result.Rules = append(result.Rules, AppliedRule{
			RuleID:          rule.ID,
			Type:            RuleFreeShipping,
			AppliedDiscount: 0,
		})
		break
	}

	if code.MaxDiscountAmount > 0 && result.CalculatedDiscount > code.MaxDiscountAmount {
		result.CalculatedDiscount = code.MaxDiscountAmount
	}

	if len(result.Rules) == 0 {
		return nil
	}

	if result.Message == "" {
		if code.Description != "" {
			result.Message = code.Description
		} else {
			result.Message = "Discount applied!"
		}
	}
	return result
}

type bogoResult struct {
	discount int64
	freeItem FreeItem
	message  string
}

// applyBogo evaluates one BOGO rule against the cart.
func (e *Evaluator) applyBogo(rule Rule, cart []CartItem) (bogoResult, bool) {
	if rule.BuyProductSKU == "" || rule.BuyQuantity <= 0 || rule.GetProductSKU == "" || rule.GetQuantity <= 0 {
		return bogoResult{}, false
	}

	buyItem, ok := findItem(cart, rule.BuyProductSKU)
	if !ok || buyItem.Quantity < rule.BuyQuantity {
		return bogoResult{}, false
	}

	multiplier := buyItem.Quantity / rule.BuyQuantity
	freeQuantity := multiplier * rule.GetQuantity

	unitPrice := e.fallbackUnitPrice
	if getItem, ok := findItem(cart, rule.GetProductSKU); ok {
		unitPrice = getItem.Price
	}

	discountPct := rule.GetDiscountPct
	if discountPct == 0 {
		discountPct = 100
	}
	totalFreeValue := unitPrice * int64(freeQuantity)
	discount := roundPct(totalFreeValue, int64(discountPct))

	message := fmt.Sprintf("Buy %d, get %d free!", rule.BuyQuantity, rule.GetQuantity)
	if discountPct != 100 {
		message = fmt.Sprintf("Buy %d, get %d at %d%% off!", rule.BuyQuantity, rule.GetQuantity, discountPct)
	}

	return bogoResult{
		discount: discount,
		freeItem: FreeItem{
			SKU:         rule.GetProductSKU,
			Quantity:    freeQuantity,
			Value:       totalFreeValue,
			DiscountPct: discountPct,
		},
		message: message,
	}, true
}

// bestTier returns the percentage rule with the highest MinOrderAmount that
// the subtotal still satisfies.
func bestTier(rules []Rule, subtotal int64) (Rule, bool) {
	var (
		best  Rule
		found bool
	)
	for _, r := range rules {
		if r.Value <= 0 {
			continue
		}
		if r.MinOrderAmount > 0 && subtotal < r.MinOrderAmount {
			continue
		}
		if !found || r.MinOrderAmount > best.MinOrderAmount {
			best = r
			found = true
		}
	}
	return best, found
}

// bestFixed returns the qualifying fixed rule with the largest value.
func bestFixed(rules []Rule, subtotal int64) (Rule, bool) {
	var (
		best  Rule
		found bool
	)
	for _, r := range rules {
		if r.Value <= 0 {
			continue
		}
		if r.MinOrderAmount > 0 && subtotal < r.MinOrderAmount {
			continue
		}
		if !found || r.Value > best.Value {
			best = r
			found = true
		}
	}
	return best, found
}

// IncludesFreeShipping reports whether the discount grants free shipping,
// either as its headline type or as an additional applied rule.
func IncludesFreeShipping(d *Applicable) bool {
	if d == nil {
		return false
	}
	if d.Type == "free_shipping" {
		return true
	}
	for _, r := range d.Rules {
		if r.Type == RuleFreeShipping {
			return true
		}
	}
	return false
}

// Summary renders a short display string for the discount, e.g.
// "10% off (max $10.00) + free shipping".
func Summary(d *Applicable) string {
	var parts []string

	if d.CalculatedDiscount > 0 {
		switch d.Type {
		case "percentage":
			parts = append(parts, fmt.Sprintf("%d%% off", d.Amount))
			if d.MaxDiscount > 0 {
				parts = append(parts, fmt.Sprintf("(max $%s)", Dollars(d.MaxDiscount)))
			}
		case "fixed":
			parts = append(parts, fmt.Sprintf("$%s off", Dollars(d.CalculatedDiscount)))
		case "bogo":
			if len(d.FreeItems) > 0 {
				free := d.FreeItems[0]
				if free.DiscountPct == 100 {
					parts = append(parts, fmt.Sprintf("%d free item(s)", free.Quantity))
				} else {
					parts = append(parts, fmt.Sprintf("%d item(s) at %d%% off", free.Quantity, free.DiscountPct))
				}
			}
		}
	}

	if IncludesFreeShipping(d) {
		parts = append(parts, "+ free shipping")
	}

	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// Dollars formats cents as a two-decimal dollar amount without the sign.
func Dollars(cents int64) string {
	return decimal.NewFromInt(cents).Div(hundred).StringFixed(2)
}

// roundPct computes round(amount * pct / 100) in cents, rounding half away
// from zero the way the checkout front-end does.
func roundPct(amount, pct int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(pct)).
		Div(hundred).
		Round(0).
		IntPart()
}

func findItem(cart []CartItem, sku string) (CartItem, bool) {
	for _, item := range cart {
		if item.SKU == sku {
			return item, true
		}
	}
	return CartItem{}, false
}
