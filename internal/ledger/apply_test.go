package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyQuantitySignRules(t *testing.T) {
	base := StockRecord{Quantity: dec("100"), ReservedQuantity: dec("10"), AvailableQuantity: dec("90")}

	cases := []struct {
		movementType MovementType
		wantQty      string
	}{
		{MovementTypeIn, "125"},
		{MovementTypeReturn, "125"},
		{MovementTypeProduction, "125"},
		{MovementTypeOut, "75"},
		{MovementTypeTransfer, "75"},
		{MovementTypeLoss, "75"},
		{MovementTypeAdjustment, "25"},
	}
	for _, tc := range cases {
		t.Run(string(tc.movementType), func(t *testing.T) {
			rec, err := applyQuantity(base, tc.movementType, dec("25"))
			require.NoError(t, err)
			require.True(t, rec.Quantity.Equal(dec(tc.wantQty)), "quantity = %s", rec.Quantity)
			require.True(t, rec.AvailableQuantity.Equal(rec.Quantity.Sub(rec.ReservedQuantity)))
		})
	}
}

func TestApplyQuantityRejectsUnknownType(t *testing.T) {
	_, err := applyQuantity(StockRecord{}, MovementType("restock"), dec("1"))
	require.ErrorIs(t, err, ErrInvalidMovementType)
}

func TestApplyReserveChecksAvailability(t *testing.T) {
	rec := StockRecord{Quantity: dec("50"), AvailableQuantity: dec("50")}

	rec, err := applyReserve(rec, dec("30"))
	require.NoError(t, err)
	require.True(t, rec.ReservedQuantity.Equal(dec("30")))
	require.True(t, rec.AvailableQuantity.Equal(dec("20")))

	_, err = applyReserve(rec, dec("21"))
	require.ErrorIs(t, err, ErrInsufficientAvailableStock)
}

func TestApplyReleaseClampsAtZero(t *testing.T) {
	rec := StockRecord{Quantity: dec("50"), ReservedQuantity: dec("10"), AvailableQuantity: dec("40")}

	rec = applyRelease(rec, dec("25"))
	require.True(t, rec.ReservedQuantity.IsZero())
	require.True(t, rec.AvailableQuantity.Equal(dec("50")))

	rec = applyRelease(rec, dec("5"))
	require.True(t, rec.ReservedQuantity.IsZero(), "repeated release must not go negative")
}

func TestApplyPurchaseMovingAverage(t *testing.T) {
	rec := StockRecord{}

	rec = applyPurchase(rec, dec("0"), dec("10"), dec("100000"))
	require.True(t, rec.AverageCost.Equal(dec("100000")))
	require.True(t, rec.LastPurchasePrice.Equal(dec("100000")))

	rec = applyPurchase(rec, dec("10"), dec("5"), dec("120000"))
	require.True(t, rec.AverageCost.Round(2).Equal(dec("106666.67")), "average cost = %s", rec.AverageCost)
	require.True(t, rec.LastPurchasePrice.Equal(dec("120000")))
}

func TestApplyPurchaseIgnoredWithoutPrice(t *testing.T) {
	rec := StockRecord{AverageCost: dec("42")}
	rec = applyPurchase(rec, dec("5"), dec("5"), decimal.Zero)
	require.True(t, rec.AverageCost.Equal(dec("42")))
}
