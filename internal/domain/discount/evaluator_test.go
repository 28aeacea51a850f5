package discount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pctRule(id string, pct, minOrder, maxDiscount int64) Rule {
	return Rule{ID: id, Type: RulePercentage, Value: pct, MinOrderAmount: minOrder, MaxDiscount: maxDiscount}
}

func TestEvaluator_TieredPercentage(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{})

	tests := []struct {
		name         string
		rules        []Rule
		subtotal     int64
		wantDiscount int64
		wantPct      int64
	}{
		{
			name: "highest qualifying tier wins",
			rules: []Rule{
				pctRule("r1", 5, 0, 0),
				pctRule("r2", 10, 5000, 0),
				pctRule("r3", 15, 10000, 0),
			},
			subtotal:     12000,
			wantDiscount: 1800,
			wantPct:      15,
		},
		{
			name: "middle tier when top threshold not met",
			rules: []Rule{
				pctRule("r1", 5, 0, 0),
				pctRule("r2", 10, 5000, 0),
				pctRule("r3", 15, 10000, 0),
			},
			subtotal:     7000,
			wantDiscount: 700,
			wantPct:      10,
		},
		{
			name:         "per-rule cap clamps the discount",
			rules:        []Rule{pctRule("r1", 50, 0, 1000)},
			subtotal:     100000,
			wantDiscount: 1000,
			wantPct:      50,
		},
		{
			name:         "rounds half away from zero",
			rules:        []Rule{pctRule("r1", 15, 0, 0)},
			subtotal:     1010, // 151.5 cents
			wantDiscount: 152,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := &Code{ID: "d1", Code: "TIERS", Name: "Tiered", Rules: tt.rules}
			cart := []CartItem{{SKU: "TORT-12", Quantity: 1, Price: tt.subtotal}}

			got := eval.Calculate(code, cart, tt.subtotal)

			require.NotNil(t, got)
			assert.Equal(t, "percentage", got.Type)
			assert.Equal(t, tt.wantDiscount, got.CalculatedDiscount)
			if tt.wantPct != 0 {
				assert.Equal(t, tt.wantPct, got.Amount)
			}
			require.Len(t, got.Rules, 1)
			assert.Equal(t, tt.wantDiscount, got.Rules[0].AppliedDiscount)
		})
	}
}

func TestEvaluator_FixedAmount(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{})

	tests := []struct {
		name         string
		rules        []Rule
		subtotal     int64
		wantDiscount int64
		wantNil      bool
	}{
		{
			name: "largest qualifying fixed rule wins",
			rules: []Rule{
				{ID: "r1", Type: RuleFixedAmount, Value: 500},
				{ID: "r2", Type: RuleFixedAmount, Value: 800},
			},
			subtotal:     5000,
			wantDiscount: 800,
		},
		{
			name: "threshold filters out the larger rule",
			rules: []Rule{
				{ID: "r1", Type: RuleFixedAmount, Value: 500},
				{ID: "r2", Type: RuleFixedAmount, Value: 2000, MinOrderAmount: 10000},
			},
			subtotal:     5000,
			wantDiscount: 500,
		},
		{
			name:         "clamped to the subtotal",
			rules:        []Rule{{ID: "r1", Type: RuleFixedAmount, Value: 5000}},
			subtotal:     1200,
			wantDiscount: 1200,
		},
		{
			name:     "no qualifying rule yields nil",
			rules:    []Rule{{ID: "r1", Type: RuleFixedAmount, Value: 500, MinOrderAmount: 9000}},
			subtotal: 1000,
			wantNil:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := &Code{ID: "d1", Code: "FIXED", Name: "Fixed", Rules: tt.rules}
			cart := []CartItem{{SKU: "TORT-12", Quantity: 1, Price: tt.subtotal}}

			got := eval.Calculate(code, cart, tt.subtotal)

			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, "fixed", got.Type)
			assert.Equal(t, tt.wantDiscount, got.CalculatedDiscount)
		})
	}
}

func TestEvaluator_Bogo(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{})

	bogo := Rule{
		ID: "b1", Type: RuleBOGO,
		BuyProductSKU: "TORT-A", BuyQuantity: 2,
		GetProductSKU: "TORT-B", GetQuantity: 1,
		GetDiscountPct: 100,
	}

	t.Run("multiplier floors the buy quantity", func(t *testing.T) {
		code := &Code{ID: "d1", Code: "BOGO", Name: "Bogo", Rules: []Rule{bogo}}
		cart := []CartItem{
			{SKU: "TORT-A", Quantity: 5, Price: 900},
			{SKU: "TORT-B", Quantity: 1, Price: 500},
		}

		got := eval.Calculate(code, cart, Subtotal(cart))

		require.NotNil(t, got)
		assert.Equal(t, "bogo", got.Type)
		// floor(5/2)=2 free units of TORT-B at 500 each.
		assert.Equal(t, int64(1000), got.CalculatedDiscount)
		require.Len(t, got.FreeItems, 1)
		assert.Equal(t, "TORT-B", got.FreeItems[0].SKU)
		assert.Equal(t, 2, got.FreeItems[0].Quantity)
		assert.Equal(t, "Buy 2, get 1 free!", got.Message)
	})

	t.Run("partial discount message and amount", func(t *testing.T) {
		half := bogo
		half.GetDiscountPct = 50
		code := &Code{ID: "d1", Code: "BOGO", Name: "Bogo", Rules: []Rule{half}}
		cart := []CartItem{
			{SKU: "TORT-A", Quantity: 2, Price: 900},
			{SKU: "TORT-B", Quantity: 1, Price: 500},
		}

		got := eval.Calculate(code, cart, Subtotal(cart))

		require.NotNil(t, got)
		assert.Equal(t, int64(250), got.CalculatedDiscount)
		assert.Equal(t, "Buy 2, get 1 at 50% off!", got.Message)
	})

	t.Run("get SKU absent from cart uses the fallback price", func(t *testing.T) {
		code := &Code{ID: "d1", Code: "BOGO", Name: "Bogo", Rules: []Rule{bogo}}
		cart := []CartItem{{SKU: "TORT-A", Quantity: 2, Price: 900}}

		got := eval.Calculate(code, cart, Subtotal(cart))

		require.NotNil(t, got)
		assert.Equal(t, DefaultFallbackUnitPrice, got.CalculatedDiscount)
	})

	t.Run("buy quantity not reached yields nil", func(t *testing.T) {
		code := &Code{ID: "d1", Code: "BOGO", Name: "Bogo", Rules: []Rule{bogo}}
		cart := []CartItem{{SKU: "TORT-A", Quantity: 1, Price: 900}}

		got := eval.Calculate(code, cart, Subtotal(cart))

		assert.Nil(t, got)
	})

	t.Run("bogo suppresses percentage rules", func(t *testing.T) {
		code := &Code{
			ID: "d1", Code: "COMBO", Name: "Combo",
			Rules: []Rule{bogo, pctRule("p1", 50, 0, 0)},
		}
		cart := []CartItem{
			{SKU: "TORT-A", Quantity: 2, Price: 900},
			{SKU: "TORT-B", Quantity: 1, Price: 500},
		}

		got := eval.Calculate(code, cart, Subtotal(cart))

		require.NotNil(t, got)
		assert.Equal(t, "bogo", got.Type)
		assert.Equal(t, int64(500), got.CalculatedDiscount)
	})
}

func TestEvaluator_FreeShipping(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{})
	ship := Rule{ID: "s1", Type: RuleFreeShipping}

	t.Run("standalone free shipping", func(t *testing.T) {
		code := &Code{ID: "d1", Code: "SHIP", Name: "Ship", Rules: []Rule{ship}}
		cart := []CartItem{{SKU: "TORT-A", Quantity: 1, Price: 900}}

		got := eval.Calculate(code, cart, 900)

		require.NotNil(t, got)
		assert.Equal(t, "free_shipping", got.Type)
		assert.Equal(t, int64(0), got.CalculatedDiscount)
		assert.Equal(t, "Free shipping applied!", got.Message)
		assert.True(t, IncludesFreeShipping(got))
	})

	t.Run("combines with percentage without changing the type", func(t *testing.T) {
		code := &Code{
			ID: "d1", Code: "SHIP10", Name: "Ship10",
			Rules: []Rule{ship, pctRule("p1", 10, 0, 0)},
		}
		cart := []CartItem{{SKU: "TORT-A", Quantity: 1, Price: 10000}}

		got := eval.Calculate(code, cart, 10000)

		require.NotNil(t, got)
		assert.Equal(t, "percentage", got.Type)
		assert.Equal(t, int64(1000), got.CalculatedDiscount)
		assert.Len(t, got.Rules, 2)
		assert.True(t, IncludesFreeShipping(got))
	})

	t.Run("threshold gates free shipping", func(t *testing.T) {
		gated := Rule{ID: "s1", Type: RuleFreeShipping, MinOrderAmount: 5000}
		code := &Code{ID: "d1", Code: "SHIP50", Name: "Ship50", Rules: []Rule{gated}}
		cart := []CartItem{{SKU: "TORT-A", Quantity: 1, Price: 900}}

		got := eval.Calculate(code, cart, 900)

		assert.Nil(t, got)
	})
}

func TestEvaluator_CodeLevelCap(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{})
	code := &Code{
		ID: "d1", Code: "CAPPED", Name: "Capped",
		MaxDiscountAmount: 500,
		Rules:             []Rule{{ID: "r1", Type: RuleFixedAmount, Value: 900}},
	}
	cart := []CartItem{{SKU: "TORT-A", Quantity: 1, Price: 5000}}

	got := eval.Calculate(code, cart, 5000)

	require.NotNil(t, got)
	assert.Equal(t, int64(500), got.CalculatedDiscount)
}

func TestEvaluator_NoRules(t *testing.T) {
	eval := NewEvaluator(EvaluatorConfig{})
	code := &Code{ID: "d1", Code: "EMPTY", Name: "Empty"}

	got := eval.Calculate(code, []CartItem{{SKU: "TORT-A", Quantity: 1, Price: 900}}, 900)

	assert.Nil(t, got)
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		d    *Applicable
		want string
	}{
		{
			name: "percentage with cap",
			d: &Applicable{
				Type: "percentage", Amount: 10, MaxDiscount: 1000, CalculatedDiscount: 800,
			},
			want: "10% off (max $10.00)",
		},
		{
			name: "fixed",
			d:    &Applicable{Type: "fixed", CalculatedDiscount: 500},
			want: "$5.00 off",
		},
		{
			name: "bogo with free shipping rider",
			d: &Applicable{
				Type: "bogo", CalculatedDiscount: 1000,
				FreeItems: []FreeItem{{SKU: "TORT-B", Quantity: 2, DiscountPct: 100}},
				Rules:     []AppliedRule{{RuleID: "s1", Type: RuleFreeShipping}},
			},
			want: "2 free item(s) + free shipping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summary(tt.d))
		})
	}
}
