package order

import (
	"testing"

	"github.com/corray333/labshop/internal/service/models/orderitem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for range 200 {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.True(t, IsValidCode(code), code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestIsValidCode(t *testing.T) {
	assert.True(t, IsValidCode("P-ABC123"))
	assert.False(t, IsValidCode("P-abc123"))
	assert.False(t, IsValidCode("X-ABC123"))
	assert.False(t, IsValidCode("P-ABC12"))
	assert.False(t, IsValidCode(""))
}

func TestValidateTotals(t *testing.T) {
	o := Order{
		SubtotalCents: 5000,
		ShippingCents: 1000,
		DiscountCents: 500,
		OrderItems: []orderitem.OrderItem{
			{Quantity: 2, UnitPriceCents: 2000, SubtotalCents: 4000},
			{Quantity: 1, UnitPriceCents: 1000, SubtotalCents: 1000},
		},
	}
	o.ComputeTotal()
	require.Equal(t, int64(5500), o.TotalCents)
	require.NoError(t, o.ValidateTotals())

	o.TotalCents++
	assert.ErrorIs(t, o.ValidateTotals(), ErrTotalsMismatch)

	o.ComputeTotal()
	o.OrderItems[0].SubtotalCents = 3999
	assert.ErrorIs(t, o.ValidateTotals(), ErrTotalsMismatch)

	over := Order{SubtotalCents: 100, DiscountCents: 200}
	over.ComputeTotal()
	assert.ErrorIs(t, over.ValidateTotals(), ErrTotalsMismatch)
}

func TestIsOwnedBy(t *testing.T) {
	o := Order{CustomerID: "cust-1"}
	assert.True(t, o.IsOwnedBy("cust-1"))
	assert.False(t, o.IsOwnedBy("cust-2"))
	assert.False(t, (&Order{}).IsOwnedBy(""))
}
