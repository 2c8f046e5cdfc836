package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryTablet    Category = "tablet"
	CategoryCapsule   Category = "capsule"
	CategorySyrup     Category = "syrup"
	CategoryInjection Category = "injection"
	CategoryOintment  Category = "ointment"
	CategoryCream     Category = "cream"
	CategoryDrops     Category = "drops"
	CategoryOther     Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryTablet, CategoryCapsule, CategorySyrup, CategoryInjection,
		CategoryOintment, CategoryCream, CategoryDrops, CategoryOther:
		return true
	}
	return false
}

type StockLevel string

const (
	LevelLow    StockLevel = "low"
	LevelNormal StockLevel = "normal"
	LevelHigh   StockLevel = "high"
)

type Operation string

const (
	OpAdd    Operation = "add"
	OpRemove Operation = "remove"
	OpSet    Operation = "set"
)

// Medicine maps to the medicines table.
type Medicine struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	Name                 string          `db:"name" json:"name"`
	GenericName          string          `db:"generic_name" json:"generic_name"`
	Category             Category        `db:"category" json:"category"`
	Manufacturer         *string         `db:"manufacturer" json:"manufacturer,omitempty"`
	BatchNumber          *string         `db:"batch_number" json:"batch_number,omitempty"`
	ExpiryDate           *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	UnitPrice            decimal.Decimal `db:"unit_price" json:"unit_price"`
	PrescriptionRequired bool            `db:"prescription_required" json:"prescription_required"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// Inventory maps to the inventory table, one row per medicine. The stock
// level is never stored; see Classify.
type Inventory struct {
	MedicineID    uuid.UUID `db:"medicine_id" json:"medicine_id"`
	MedicineName  string    `db:"-" json:"medicine_name,omitempty"`
	CurrentStock  int       `db:"current_stock" json:"current_stock"`
	MinimumStock  int       `db:"minimum_stock" json:"minimum_stock"`
	MaximumStock  int       `db:"maximum_stock" json:"maximum_stock"`
	ShelfLocation *string   `db:"shelf_location" json:"shelf_location,omitempty"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StockAlert is open until someone resolves it. At most one alert per
// medicine is open at a time.
type StockAlert struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	MedicineID uuid.UUID  `db:"medicine_id" json:"medicine_id"`
	Message    string     `db:"message" json:"message"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	Resolved   bool       `db:"resolved" json:"resolved"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy *string    `db:"resolved_by" json:"resolved_by,omitempty"`
}

// StockMovement is the append-only audit trail of stock operations.
type StockMovement struct {
	ID            uuid.UUID `db:"id" json:"id"`
	MedicineID    uuid.UUID `db:"medicine_id" json:"medicine_id"`
	Operation     Operation `db:"operation" json:"operation"`
	Quantity      int       `db:"quantity" json:"quantity"`
	PreviousStock int       `db:"previous_stock" json:"previous_stock"`
	NewStock      int       `db:"new_stock" json:"new_stock"`
	PerformedBy   string    `db:"performed_by" json:"performed_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// MedicineStock is the read model returned by the API.
type MedicineStock struct {
	Medicine
	Inventory  Inventory  `json:"inventory"`
	StockLevel StockLevel `json:"stock_level"`
}

// StockResult describes the outcome of one stock operation. Alert is set
// only when the operation opened a new alert.
type StockResult struct {
	Inventory  *Inventory     `json:"inventory"`
	StockLevel StockLevel     `json:"stock_level"`
	Movement   *StockMovement `json:"movement"`
	Alert      *StockAlert    `json:"alert,omitempty"`
}

type ListFilter struct {
	Category Category
	LowStock bool
	Search   string
}
