package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MedicineRepository interface {
	// Create inserts the medicine and its inventory row.
	Create(ctx context.Context, m *Medicine, inv *Inventory) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicineStock, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*MedicineStock, int, error)
}

type StockRepository interface {
	// GetForUpdate locks the inventory row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, medicineID uuid.UUID) (*Inventory, error)
	UpdateStock(ctx context.Context, inv *Inventory) error
	AddMovement(ctx context.Context, mv *StockMovement) error
	ListMovements(ctx context.Context, medicineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error)
}

type AlertRepository interface {
	HasOpen(ctx context.Context, medicineID uuid.UUID) (bool, error)
	Create(ctx context.Context, a *StockAlert) error
	List(ctx context.Context, resolved *bool, limit, offset int) ([]*StockAlert, int, error)
	// Resolve closes an open alert. A missing or already resolved alert is
	// reported as not found.
	Resolve(ctx context.Context, id uuid.UUID, by string, at time.Time) (*StockAlert, error)
}
