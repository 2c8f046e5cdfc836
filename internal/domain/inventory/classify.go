package inventory

import (
	"fmt"

	"github.com/hms/hms/internal/platform/apperr"
)

// Classify returns the stock level of inv: low at or below the minimum, high
// at or above 80% of the maximum, normal otherwise. Low wins when both hold.
func Classify(inv Inventory) StockLevel {
	switch {
	case inv.CurrentStock <= inv.MinimumStock:
		return LevelLow
	case inv.CurrentStock*10 >= inv.MaximumStock*8:
		return LevelHigh
	default:
		return LevelNormal
	}
}

// applyOperation returns the stock level after running op on current.
func applyOperation(current, quantity int, op Operation) (int, error) {
	switch op {
	case OpAdd:
		if quantity <= 0 {
			return 0, fmt.Errorf("%w: add quantity must be positive, got %d", apperr.ErrInvalidQuantity, quantity)
		}
		return current + quantity, nil
	case OpRemove:
		if quantity <= 0 {
			return 0, fmt.Errorf("%w: remove quantity must be positive, got %d", apperr.ErrInvalidQuantity, quantity)
		}
		if quantity > current {
			return 0, fmt.Errorf("%w: cannot remove %d, only %d in stock", apperr.ErrInsufficientStock, quantity, current)
		}
		return current - quantity, nil
	case OpSet:
		if quantity < 0 {
			return 0, fmt.Errorf("%w: stock cannot be set to %d", apperr.ErrInvalidQuantity, quantity)
		}
		return quantity, nil
	default:
		return 0, fmt.Errorf("%w: unknown operation %q", apperr.ErrInvalidQuantity, op)
	}
}

func validateBounds(inv *Inventory) error {
	switch {
	case inv.CurrentStock < 0:
		return fmt.Errorf("%w: current_stock cannot be negative", apperr.ErrInvalidQuantity)
	case inv.MinimumStock < 0:
		return fmt.Errorf("%w: minimum_stock cannot be negative", apperr.ErrInvalidQuantity)
	case inv.MaximumStock < inv.MinimumStock:
		return fmt.Errorf("%w: maximum_stock %d is below minimum_stock %d",
			apperr.ErrInvalidQuantity, inv.MaximumStock, inv.MinimumStock)
	}
	return nil
}
