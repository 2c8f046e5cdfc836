package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// errDuplicateBillNumber is returned by BillRepository.Create when the
// generated bill number is already taken.
var errDuplicateBillNumber = errors.New("duplicate bill number")

type BillRepository interface {
	// Create inserts the bill together with its items.
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetForUpdate locks the bill row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Bill, int, error)
	// MarkPaid persists status, payment_method and paid_at.
	MarkPaid(ctx context.Context, b *Bill) error
	// MarkOverdue flips every pending bill due before now and returns their ids.
	MarkOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
	// SumReceived totals payments with from <= paid_at < to.
	SumReceived(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

type ExpenseRepository interface {
	Create(ctx context.Context, e *Expense) error
	List(ctx context.Context, f ExpenseFilter, limit, offset int) ([]*Expense, int, error)
	// SumByDepartment totals expenses with from <= expense_date < to.
	SumByDepartment(ctx context.Context, from, to time.Time) (map[Department]decimal.Decimal, error)
}
