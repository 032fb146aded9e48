package ledger

import "github.com/shopspring/decimal"

// Pure state transitions for StockRecord. Keeping the sign rules free of any
// storage concern lets them be tested exhaustively without a database.

// applyQuantity applies the type-specific sign rule for a positive magnitude
// and recomputes the derived available quantity.
func applyQuantity(rec StockRecord, t MovementType, magnitude decimal.Decimal) (StockRecord, error) {
	switch t {
	case MovementTypeIn, MovementTypeReturn, MovementTypeProduction:
		rec.Quantity = rec.Quantity.Add(magnitude)
	case MovementTypeOut, MovementTypeTransfer, MovementTypeLoss:
		rec.Quantity = rec.Quantity.Sub(magnitude)
	case MovementTypeAdjustment:
		// Absolute set, not a delta. The one non-additive movement type.
		rec.Quantity = magnitude
	default:
		return rec, ErrInvalidMovementType
	}
	rec.AvailableQuantity = rec.Quantity.Sub(rec.ReservedQuantity)
	return rec, nil
}

// applyReserve earmarks qty units, failing when fewer are available.
func applyReserve(rec StockRecord, qty decimal.Decimal) (StockRecord, error) {
	if rec.AvailableQuantity.LessThan(qty) {
		return rec, ErrInsufficientAvailableStock
	}
	rec.ReservedQuantity = rec.ReservedQuantity.Add(qty)
	rec.AvailableQuantity = rec.Quantity.Sub(rec.ReservedQuantity)
	return rec, nil
}

// applyRelease returns qty units to availability, clamped so the reservation
// never goes negative even on a double release.
func applyRelease(rec StockRecord, qty decimal.Decimal) StockRecord {
	rec.ReservedQuantity = rec.ReservedQuantity.Sub(qty)
	if rec.ReservedQuantity.IsNegative() {
		rec.ReservedQuantity = decimal.Zero
	}
	rec.AvailableQuantity = rec.Quantity.Sub(rec.ReservedQuantity)
	return rec
}

// applyPurchase folds an inbound receipt into the moving average cost and
// refreshes the last purchase figures. prevQty is the quantity before the
// receipt was applied.
func applyPurchase(rec StockRecord, prevQty, qty, unitPrice decimal.Decimal) StockRecord {
	if unitPrice.Sign() <= 0 {
		return rec
	}
	newQty := prevQty.Add(qty)
	if newQty.Sign() > 0 {
		totalCost := prevQty.Mul(rec.AverageCost).Add(qty.Mul(unitPrice))
		rec.AverageCost = totalCost.Div(newQty)
	} else {
		rec.AverageCost = unitPrice
	}
	rec.LastPurchasePrice = unitPrice
	return rec
}
