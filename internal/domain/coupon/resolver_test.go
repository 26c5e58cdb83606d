package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	rule *Rule
	err  error
}

func (m *mockCouponRepo) FindByCode(_ context.Context, _ string) (*Rule, error) {
	return m.rule, m.err
}

func TestRepoResolver_Quote(t *testing.T) {
	fixedNow := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)

	tests := []struct {
		name       string
		repo       *mockCouponRepo
		code       string
		subtotal   decimal.Decimal
		wantAmount decimal.Decimal
		wantErr    error
	}{
		{
			name: "valid code returns discount",
			repo: &mockCouponRepo{
				rule: &Rule{
					Code:        "SAVE10",
					Kind:        KindPercentage,
					Value:       decimal.NewFromInt(10),
					Description: "10% off",
				},
			},
			code:       "SAVE10",
			subtotal:   decimal.NewFromInt(100),
			wantAmount: decimal.NewFromInt(10),
		},
		{
			name:     "unknown code returns ErrCouponNotFound",
			repo:     &mockCouponRepo{err: ErrCouponNotFound},
			code:     "BOGUS",
			subtotal: decimal.NewFromInt(50),
			wantErr:  ErrCouponNotFound,
		},
		{
			name: "expired rule surfaces ErrCouponExpired",
			repo: &mockCouponRepo{
				rule: &Rule{
					Code:       "OLD",
					Kind:       KindPercentage,
					Value:      decimal.NewFromInt(10),
					ValidUntil: &pastTime,
				},
			},
			code:     "OLD",
			subtotal: decimal.NewFromInt(100),
			wantErr:  ErrCouponExpired,
		},
		{
			name: "subtotal below minimum surfaces ErrCouponMinimumNotMet",
			repo: &mockCouponRepo{
				rule: &Rule{
					Code:          "BIG",
					Kind:          KindFixedAmount,
					Value:         decimal.NewFromInt(20),
					MinOrderValue: decimal.NewFromInt(150),
				},
			},
			code:     "BIG",
			subtotal: decimal.NewFromInt(149),
			wantErr:  ErrCouponMinimumNotMet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRepoResolver(tt.repo)
			r.now = func() time.Time { return fixedNow }

			got, err := r.Quote(context.Background(), tt.code, tt.subtotal)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
		})
	}
}

func TestRepoResolver_Quote_LookupFailure(t *testing.T) {
	infraErr := errors.New("connection refused")
	r := NewRepoResolver(&mockCouponRepo{err: infraErr})

	got, err := r.Quote(context.Background(), "SAVE10", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Nil(t, got)

	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "SAVE10", lookupErr.Code)
	assert.ErrorIs(t, err, infraErr)
}
