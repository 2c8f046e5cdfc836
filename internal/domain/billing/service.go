package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
)

const billNumberAttempts = 3

type Service struct {
	bills     BillRepository
	payments  PaymentRepository
	expenses  ExpenseRepository
	tx        db.TxRunner
	events    events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
	newNumber func(time.Time) string
}

func NewService(bills BillRepository, payments PaymentRepository, expenses ExpenseRepository, tx db.TxRunner, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{
		bills:     bills,
		payments:  payments,
		expenses:  expenses,
		tx:        tx,
		events:    pub,
		logger:    logger.With().Str("module", "billing").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		newNumber: NewBillNumber,
	}
}

// NewBillNumber returns BILL-YYYYMMDD-XXXXXXXX where the suffix is eight
// random upper-case hex digits.
func NewBillNumber(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("BILL-%s-%s", t.Format("20060102"), strings.ToUpper(suffix))
}

// visible hides other patients' bills from a patient.
func visible(b *Bill, actor auth.Actor) bool {
	return actor.Role != auth.RolePatient || b.PatientID == actor.ID
}

// -- Bills --

func (s *Service) CreateBill(ctx context.Context, in CreateBillInput, actor auth.Actor) (*Bill, error) {
	in.PatientID = strings.TrimSpace(in.PatientID)
	if in.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", apperr.ErrInvalidInput)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: a bill needs at least one item", apperr.ErrBillingError)
	}
	for i, it := range in.Items {
		if it != nil {
			it.Description = strings.TrimSpace(it.Description)
		}
		if err := validateItem(i, it); err != nil {
			return nil, err
		}
	}
	if in.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: due_date is required", apperr.ErrBillingError)
	}
	totals, err := ComputeTotals(in.Items, in.TaxAmount, in.DiscountAmount)
	if err != nil {
		return nil, err
	}

	now := s.now()
	b := &Bill{
		BillNumber:     s.newNumber(now),
		PatientID:      in.PatientID,
		AppointmentID:  in.AppointmentID,
		Items:          in.Items,
		TotalAmount:    totals.Subtotal,
		TaxAmount:      totals.Tax,
		DiscountAmount: totals.Discount,
		FinalAmount:    totals.Final,
		Status:         StatusPending,
		DueDate:        in.DueDate.UTC(),
		Notes:          in.Notes,
		CreatedBy:      actor.ID,
	}

	for attempt := 1; ; attempt++ {
		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.bills.Create(ctx, b)
		})
		if !errors.Is(err, errDuplicateBillNumber) || attempt == billNumberAttempts {
			break
		}
		b.BillNumber = s.newNumber(now)
	}
	if err != nil {
		return nil, fmt.Errorf("create bill: %w", err)
	}

	s.logger.Info().
		Str("bill_id", b.ID.String()).
		Str("bill_number", b.BillNumber).
		Str("final_amount", b.FinalAmount.StringFixed(2)).
		Str("actor", actor.String()).
		Msg("bill created")
	return b, nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(b, actor) {
		return nil, fmt.Errorf("bill %s: %w", id, apperr.ErrNotFound)
	}
	return b, nil
}

func (s *Service) ListBills(ctx context.Context, f ListFilter, actor auth.Actor, limit, offset int) ([]*Bill, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidInput, f.Status)
	}
	if actor.Role == auth.RolePatient {
		f.PatientID = actor.ID
	}
	return s.bills.List(ctx, f, limit, offset)
}

// -- Payments --

// ProcessPayment settles a pending bill in full. The bill row is locked while
// the payment is checked and written, so a bill is paid at most once.
func (s *Service) ProcessPayment(ctx context.Context, id uuid.UUID, in PaymentInput, actor auth.Actor) (*Bill, *Payment, error) {
	var (
		bill    *Bill
		payment *Payment
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !visible(b, actor) {
			return fmt.Errorf("bill %s: %w", id, apperr.ErrNotFound)
		}
		switch b.Status {
		case StatusPending:
		case StatusPaid:
			return fmt.Errorf("%w: bill %s", apperr.ErrAlreadyPaid, b.BillNumber)
		default:
			return fmt.Errorf("%w: bill %s is %s and cannot be paid", apperr.ErrBillingError, b.BillNumber, b.Status)
		}
		if !in.Amount.IsPositive() || in.Amount.GreaterThan(b.FinalAmount) {
			return fmt.Errorf("%w: amount %s is outside (0, %s]",
				apperr.ErrAmountMismatch, in.Amount.StringFixed(2), b.FinalAmount.StringFixed(2))
		}
		if in.Amount.LessThan(b.FinalAmount) {
			return fmt.Errorf("%w: partial payment of %s against %s is not accepted",
				apperr.ErrAmountMismatch, in.Amount.StringFixed(2), b.FinalAmount.StringFixed(2))
		}
		if !in.Method.Valid() {
			return fmt.Errorf("%w: unknown payment method %q", apperr.ErrBillingError, in.Method)
		}

		now := s.now()
		p := &Payment{
			BillID:     b.ID,
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  in.Reference,
			ReceivedBy: actor.ID,
			PaidAt:     now,
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}

		method := in.Method
		b.Status = StatusPaid
		b.PaymentMethod = &method
		b.PaidAt = &now
		b.UpdatedAt = now
		if err := s.bills.MarkPaid(ctx, b); err != nil {
			return err
		}
		bill, payment = b, p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Str("bill_id", bill.ID.String()).
		Str("amount", payment.Amount.StringFixed(2)).
		Str("method", string(payment.Method)).
		Str("actor", actor.String()).
		Msg("bill paid")
	s.events.Publish(ctx, events.New(events.BillPaid, "bill", bill.ID.String(), actor.String(),
		map[string]interface{}{
			"bill_number":    bill.BillNumber,
			"patient_id":     bill.PatientID,
			"amount":         payment.Amount.StringFixed(2),
			"payment_method": payment.Method,
			"payment_id":     payment.ID.String(),
		}))
	return bill, payment, nil
}

func (s *Service) ListPayments(ctx context.Context, billID uuid.UUID, actor auth.Actor) ([]*Payment, error) {
	if _, err := s.GetBill(ctx, billID, actor); err != nil {
		return nil, err
	}
	return s.payments.ListByBill(ctx, billID)
}

// MarkOverdue moves every pending bill whose due date has passed to overdue
// and returns how many changed.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time, actor auth.Actor) (int, error) {
	ids, err := s.bills.MarkOverdue(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark overdue bills: %w", err)
	}
	for _, id := range ids {
		s.events.Publish(ctx, events.New(events.BillOverdue, "bill", id.String(), actor.String(), nil))
	}
	if len(ids) > 0 {
		s.logger.Info().Int("count", len(ids)).Str("actor", actor.String()).Msg("bills marked overdue")
	}
	return len(ids), nil
}

// -- Expenses --

// RecordExpense stores money spent. The department defaults to general and
// the expense date to today.
func (s *Service) RecordExpense(ctx context.Context, e *Expense, actor auth.Actor) error {
	e.Description = strings.TrimSpace(e.Description)
	if e.Description == "" {
		return fmt.Errorf("%w: description is required", apperr.ErrInvalidInput)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", apperr.ErrInvalidInput, e.Category)
	}
	if e.Department == "" {
		e.Department = DeptGeneral
	}
	if !e.Department.Valid() {
		return fmt.Errorf("%w: unknown department %q", apperr.ErrInvalidInput, e.Department)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", apperr.ErrBillingError)
	}
	if !isCents(e.Amount) {
		return fmt.Errorf("%w: amount %s has more than 2 decimal places", apperr.ErrBillingError, e.Amount)
	}
	now := s.now()
	if e.ExpenseDate.IsZero() {
		e.ExpenseDate = now
	}
	e.ExpenseDate = e.ExpenseDate.UTC().Truncate(24 * time.Hour)
	e.RecordedBy = actor.ID

	if err := s.expenses.Create(ctx, e); err != nil {
		return fmt.Errorf("record expense: %w", err)
	}
	s.logger.Info().
		Str("expense_id", e.ID.String()).
		Str("category", string(e.Category)).
		Str("department", string(e.Department)).
		Str("amount", e.Amount.StringFixed(2)).
		Str("actor", actor.String()).
		Msg("expense recorded")
	s.events.Publish(ctx, events.New(events.ExpenseRecorded, "expense", e.ID.String(), actor.String(),
		map[string]interface{}{
			"category":   e.Category,
			"department": e.Department,
			"amount":     e.Amount.StringFixed(2),
		}))
	return nil
}

func (s *Service) ListExpenses(ctx context.Context, f ExpenseFilter, limit, offset int) ([]*Expense, int, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown category %q", apperr.ErrInvalidInput, f.Category)
	}
	if f.Department != "" && !f.Department.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown department %q", apperr.ErrInvalidInput, f.Department)
	}
	return s.expenses.List(ctx, f, limit, offset)
}

// FinancialSummary reports payments received against expenses recorded for
// from <= t < to.
func (s *Service) FinancialSummary(ctx context.Context, from, to time.Time) (*FinancialSummary, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: report period must end after it starts", apperr.ErrInvalidInput)
	}
	revenue, err := s.payments.SumReceived(ctx, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("sum payments: %w", err)
	}
	byDept, err := s.expenses.SumByDepartment(ctx, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("sum expenses: %w", err)
	}
	expenses := decimal.Zero
	for _, v := range byDept {
		expenses = expenses.Add(v)
	}
	return &FinancialSummary{
		Period:             ReportPeriod{From: from.UTC(), To: to.UTC()},
		TotalRevenue:       revenue,
		TotalExpenses:      expenses,
		NetProfit:          revenue.Sub(expenses),
		DepartmentExpenses: byDept,
	}, nil
}
