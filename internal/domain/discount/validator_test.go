package discount

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	code *Code
	err  error
}

func (m *mockRepo) FindByCode(_ context.Context, _ string) (*Code, error) {
	return m.code, m.err
}

type mockLedger struct {
	count int
	err   error
}

func (m *mockLedger) CountByEmail(_ context.Context, _, _ string) (int, error) {
	return m.count, m.err
}

type mockOrders struct {
	count int
	err   error
}

func (m *mockOrders) CountByEmail(_ context.Context, _ string) (int, error) {
	return m.count, m.err
}

func intPtr(v int) *int { return &v }

func newTestValidator(repo *mockRepo, ledger *mockLedger, orders *mockOrders, now time.Time) *Validator {
	v := NewValidator(repo, ledger, orders, NewEvaluator(EvaluatorConfig{}))
	v.now = func() time.Time { return now }
	return v
}

func activeCode(rules ...Rule) *Code {
	return &Code{
		ID:               "d1",
		Code:             "SAVE15",
		Name:             "Save 15",
		IsActive:         true,
		MaxUsagePerEmail: 1,
		Rules:            rules,
	}
}

func TestValidator_Validate(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	cart := []CartItem{{SKU: "TORT-12", Quantity: 2, Price: 6000}}

	tests := []struct {
		name      string
		code      *Code
		ledger    *mockLedger
		orders    *mockOrders
		wantValid bool
		wantError string
	}{
		{
			name:      "eligible code succeeds",
			code:      activeCode(pctRule("r1", 15, 0, 0)),
			wantValid: true,
		},
		{
			name: "inactive code",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.IsActive = false
				return c
			}(),
			wantError: "This discount code is no longer active",
		},
		{
			name: "not yet active",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.StartsAt = &future
				return c
			}(),
			wantError: "This discount code is not yet active",
		},
		{
			name: "expired",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.ExpiresAt = &past
				return c
			}(),
			wantError: "This discount code has expired",
		},
		{
			name: "window satisfied",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.StartsAt = &past
				c.ExpiresAt = &future
				return c
			}(),
			wantValid: true,
		},
		{
			name: "below minimum order",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.MinOrderAmount = 25000
				return c
			}(),
			wantError: "Minimum order of $250.00 required for this discount",
		},
		{
			name: "global usage cap reached",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.MaxUsageTotal = intPtr(100)
				c.CurrentUsageCount = 100
				return c
			}(),
			wantError: "This discount code has reached its usage limit",
		},
		{
			name: "unbounded usage when cap absent",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.CurrentUsageCount = 9999
				return c
			}(),
			wantValid: true,
		},
		{
			name:      "per-email cap reached",
			code:      activeCode(pctRule("r1", 15, 0, 0)),
			ledger:    &mockLedger{count: 1},
			wantError: "You have already used this discount code",
		},
		{
			name: "first order only with prior orders",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.FirstOrderOnly = true
				return c
			}(),
			orders:    &mockOrders{count: 2},
			wantError: "This discount code is only valid for first-time orders",
		},
		{
			name: "first order only with no prior orders",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.FirstOrderOnly = true
				return c
			}(),
			wantValid: true,
		},
		{
			name: "include SKU restriction not satisfied",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.Restrictions = []Restriction{{Type: RestrictionProductSKU, Value: "SALSA-1", Include: true}}
				return c
			}(),
			wantError: "This discount code is not valid for the items in your cart",
		},
		{
			name: "exclude SKU restriction hit",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.Restrictions = []Restriction{{Type: RestrictionProductSKU, Value: "TORT-12", Include: false}}
				return c
			}(),
			wantError: "This discount code cannot be used with certain items in your cart",
		},
		{
			name: "email domain allow-list miss",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.Restrictions = []Restriction{{Type: RestrictionEmailDomain, Value: "utexas.edu", Include: true}}
				return c
			}(),
			wantError: "This discount code is not available for your email",
		},
		{
			name: "email domain deny-list hit",
			code: func() *Code {
				c := activeCode(pctRule("r1", 15, 0, 0))
				c.Restrictions = []Restriction{{Type: RestrictionEmailDomain, Value: "example.com", Include: false}}
				return c
			}(),
			wantError: "This discount code is not available for your email",
		},
		{
			name:      "no applicable rules is distinct from ineligibility",
			code:      activeCode(),
			wantError: "No applicable discount rules found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := tt.ledger
			if ledger == nil {
				ledger = &mockLedger{}
			}
			orders := tt.orders
			if orders == nil {
				orders = &mockOrders{}
			}
			v := newTestValidator(&mockRepo{code: tt.code}, ledger, orders, fixedNow)

			got, err := v.Validate(context.Background(), "save15", "Shopper@Example.com", cart, "")

			require.NoError(t, err)
			require.NotNil(t, got)
			if tt.wantValid {
				assert.True(t, got.Valid)
				assert.Equal(t, "d1", got.DiscountID)
				require.NotNil(t, got.Discount)
				return
			}
			assert.False(t, got.Valid)
			assert.Equal(t, tt.wantError, got.Error)
			assert.Nil(t, got.Discount)
		})
	}
}

func TestValidator_UnknownCode(t *testing.T) {
	v := newTestValidator(&mockRepo{err: ErrCodeNotFound}, &mockLedger{}, &mockOrders{}, time.Now())

	got, err := v.Validate(context.Background(), "NOPE", "a@b.com", nil, "")

	require.NoError(t, err)
	assert.False(t, got.Valid)
	assert.Equal(t, "Invalid discount code", got.Error)
}

func TestValidator_StoreFailureIsAnError(t *testing.T) {
	storeErr := errors.New("connection refused")

	t.Run("code lookup", func(t *testing.T) {
		v := newTestValidator(&mockRepo{err: storeErr}, &mockLedger{}, &mockOrders{}, time.Now())

		got, err := v.Validate(context.Background(), "SAVE15", "a@b.com", nil, "")

		require.Error(t, err)
		assert.ErrorIs(t, err, storeErr)
		assert.Nil(t, got)
	})

	t.Run("ledger count", func(t *testing.T) {
		v := newTestValidator(
			&mockRepo{code: activeCode(pctRule("r1", 15, 0, 0))},
			&mockLedger{err: storeErr},
			&mockOrders{},
			time.Now(),
		)

		got, err := v.Validate(context.Background(), "SAVE15", "a@b.com",
			[]CartItem{{SKU: "TORT-12", Quantity: 1, Price: 100}}, "")

		require.Error(t, err)
		assert.Nil(t, got)
	})
}

func TestValidator_DiscountPayload(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	code := activeCode(
		pctRule("r1", 5, 0, 0),
		pctRule("r2", 10, 5000, 0),
		pctRule("r3", 15, 10000, 0),
	)
	v := newTestValidator(&mockRepo{code: code}, &mockLedger{}, &mockOrders{}, fixedNow)

	cart := []CartItem{{SKU: "TORT-12", Quantity: 2, Price: 6000}}
	got, err := v.Validate(context.Background(), " save15 ", "a@b.com", cart, "10.0.0.1")

	require.NoError(t, err)
	require.True(t, got.Valid)
	require.NotNil(t, got.Discount)
	assert.Equal(t, int64(1800), got.Discount.CalculatedDiscount)
	assert.Equal(t, int64(15), got.Discount.Amount)
	assert.Equal(t, "15% off your order!", got.Discount.Message)
}
