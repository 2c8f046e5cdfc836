package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

type ItemType string

const (
	ItemService  ItemType = "service"
	ItemTest     ItemType = "test"
	ItemMedicine ItemType = "medicine"
	ItemOther    ItemType = "other"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemService, ItemTest, ItemMedicine, ItemOther:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodCash      PaymentMethod = "cash"
	MethodCard      PaymentMethod = "card"
	MethodOnline    PaymentMethod = "online"
	MethodInsurance PaymentMethod = "insurance"
	MethodBank      PaymentMethod = "bank"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodOnline, MethodInsurance, MethodBank:
		return true
	}
	return false
}

// Bill maps to the bills table. TotalAmount and FinalAmount are derived from
// the items, tax and discount when the bill is created and never edited.
type Bill struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	BillNumber     string          `db:"bill_number" json:"bill_number"`
	PatientID      string          `db:"patient_id" json:"patient_id"`
	AppointmentID  *uuid.UUID      `db:"appointment_id" json:"appointment_id,omitempty"`
	Items          []*BillItem     `json:"items,omitempty"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	FinalAmount    decimal.Decimal `db:"final_amount" json:"final_amount"`
	Status         Status          `db:"status" json:"status"`
	DueDate        time.Time       `db:"due_date" json:"due_date"`
	PaymentMethod  *PaymentMethod  `db:"payment_method" json:"payment_method,omitempty"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	Notes          *string         `db:"notes" json:"notes,omitempty"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// BillItem maps to bill_items. Position keeps the order items were entered in.
type BillItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	BillID      uuid.UUID       `db:"bill_id" json:"bill_id"`
	Position    int             `db:"position" json:"position"`
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Type        ItemType        `db:"type" json:"type"`
}

// Amount is quantity × unit price.
func (i *BillItem) Amount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Payment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	BillID     uuid.UUID       `db:"bill_id" json:"bill_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     PaymentMethod   `db:"method" json:"method"`
	Reference  *string         `db:"reference" json:"reference,omitempty"`
	ReceivedBy string          `db:"received_by" json:"received_by"`
	PaidAt     time.Time       `db:"paid_at" json:"paid_at"`
}

type CreateBillInput struct {
	PatientID      string
	AppointmentID  *uuid.UUID
	Items          []*BillItem
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	DueDate        time.Time
	Notes          *string
}

type PaymentInput struct {
	Amount    decimal.Decimal
	Method    PaymentMethod
	Reference *string
}

type ListFilter struct {
	PatientID     string
	Status        Status
	AppointmentID *uuid.UUID
}

type ExpenseCategory string

const (
	ExpenseMedicalSupplies ExpenseCategory = "medical_supplies"
	ExpenseEquipment       ExpenseCategory = "equipment"
	ExpenseMedicines       ExpenseCategory = "medicines"
	ExpenseStaffSalary     ExpenseCategory = "staff_salary"
	ExpenseUtilities       ExpenseCategory = "utilities"
	ExpenseMaintenance     ExpenseCategory = "maintenance"
	ExpenseOfficeSupplies  ExpenseCategory = "office_supplies"
	ExpenseOther           ExpenseCategory = "other"
)

func (c ExpenseCategory) Valid() bool {
	switch c {
	case ExpenseMedicalSupplies, ExpenseEquipment, ExpenseMedicines, ExpenseStaffSalary,
		ExpenseUtilities, ExpenseMaintenance, ExpenseOfficeSupplies, ExpenseOther:
		return true
	}
	return false
}

type Department string

const (
	DeptGeneral        Department = "general"
	DeptSurgery        Department = "surgery"
	DeptCardiology     Department = "cardiology"
	DeptPediatrics     Department = "pediatrics"
	DeptEmergency      Department = "emergency"
	DeptAdministration Department = "administration"
)

func (d Department) Valid() bool {
	switch d {
	case DeptGeneral, DeptSurgery, DeptCardiology, DeptPediatrics, DeptEmergency, DeptAdministration:
		return true
	}
	return false
}

// Expense is money spent by the hospital. Expenses are append-only.
type Expense struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Category    ExpenseCategory `db:"category" json:"category"`
	Description string          `db:"description" json:"description"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	ExpenseDate time.Time       `db:"expense_date" json:"expense_date"`
	Department  Department      `db:"department" json:"department"`
	ReceiptURL  *string         `db:"receipt_url" json:"receipt_url,omitempty"`
	RecordedBy  string          `db:"recorded_by" json:"recorded_by"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// ExpenseFilter narrows ListExpenses. From is inclusive and To exclusive.
type ExpenseFilter struct {
	Category   ExpenseCategory
	Department Department
	From       *time.Time
	To         *time.Time
}

type ReportPeriod struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// FinancialSummary compares payments received with expenses recorded over
// one period.
type FinancialSummary struct {
	Period             ReportPeriod                   `json:"report_period"`
	TotalRevenue       decimal.Decimal                `json:"total_revenue"`
	TotalExpenses      decimal.Decimal                `json:"total_expenses"`
	NetProfit          decimal.Decimal                `json:"net_profit"`
	DepartmentExpenses map[Department]decimal.Decimal `json:"department_expenses"`
}
