package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

const uniqueViolation = "23505"

// =========== Bill Repository ===========

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const billCols = `id, bill_number, patient_id, appointment_id, total_amount, tax_amount,
	discount_amount, final_amount, status, due_date, payment_method, paid_at, notes,
	created_by, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.BillNumber, &b.PatientID, &b.AppointmentID, &b.TotalAmount, &b.TaxAmount,
		&b.DiscountAmount, &b.FinalAmount, &b.Status, &b.DueDate, &b.PaymentMethod, &b.PaidAt, &b.Notes,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func notFound(what string, id interface{}, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, apperr.ErrNotFound)
	}
	return err
}

// Create must run inside a transaction so the bill and its items land together.
func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bills (`+billCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		b.ID, b.BillNumber, b.PatientID, b.AppointmentID, b.TotalAmount, b.TaxAmount,
		b.DiscountAmount, b.FinalAmount, b.Status, b.DueDate, b.PaymentMethod, b.PaidAt, b.Notes,
		b.CreatedBy, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "bill_number") {
			return errDuplicateBillNumber
		}
		return err
	}

	for i, it := range b.Items {
		it.ID = uuid.New()
		it.BillID = b.ID
		it.Position = i + 1
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO bill_items (id, bill_id, position, description, quantity, unit_price, type)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, it.BillID, it.Position, it.Description, it.Quantity, it.UnitPrice, it.Type); err != nil {
			return fmt.Errorf("insert bill item %d: %w", it.Position, err)
		}
	}
	return nil
}

func (r *billRepoPG) items(ctx context.Context, billID uuid.UUID) ([]*BillItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, position, description, quantity, unit_price, type
		FROM bill_items WHERE bill_id = $1 ORDER BY position`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BillItem
	for rows.Next() {
		var it BillItem
		if err := rows.Scan(&it.ID, &it.BillID, &it.Position, &it.Description, &it.Quantity, &it.UnitPrice, &it.Type); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *billRepoPG) get(ctx context.Context, id uuid.UUID, lock bool) (*Bill, error) {
	q := `SELECT ` + billCols + ` FROM bills WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound("bill", id, err)
	}
	if b.Items, err = r.items(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, id, false)
}

func (r *billRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, id, true)
}

func (r *billRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Bill, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.AppointmentID != nil {
		add("appointment_id = $%d", *f.AppointmentID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bills`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+billCols+` FROM bills%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var bills []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, b)
	}
	return bills, total, rows.Err()
}

func (r *billRepoPG) MarkPaid(ctx context.Context, b *Bill) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bills SET status = $2, payment_method = $3, paid_at = $4, updated_at = $5
		WHERE id = $1`,
		b.ID, b.Status, b.PaymentMethod, b.PaidAt, b.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bill %s: %w", b.ID, apperr.ErrNotFound)
	}
	return nil
}

func (r *billRepoPG) MarkOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE bills SET status = 'overdue', updated_at = $1
		WHERE status = 'pending' AND due_date < $1
		RETURNING id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (id, bill_id, amount, method, reference, received_by, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.BillID, p.Amount, p.Method, p.Reference, p.ReceivedBy, p.PaidAt)
	return err
}

func (r *paymentRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, bill_id, amount, method, reference, received_by, paid_at
		FROM payments WHERE bill_id = $1 ORDER BY paid_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedBy, &p.PaidAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *paymentRepoPG) SumReceived(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE paid_at >= $1 AND paid_at < $2`, from, to).Scan(&total)
	return total, err
}

// =========== Expense Repository ===========

type expenseRepoPG struct{ pool *pgxpool.Pool }

func NewExpenseRepoPG(pool *pgxpool.Pool) ExpenseRepository { return &expenseRepoPG{pool: pool} }

func (r *expenseRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const expenseCols = `id, category, description, amount, expense_date, department, receipt_url,
	recorded_by, created_at`

func (r *expenseRepoPG) Create(ctx context.Context, e *Expense) error {
	e.ID = uuid.New()
	e.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO expenses (`+expenseCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.Category, e.Description, e.Amount, e.ExpenseDate, e.Department, e.ReceiptURL,
		e.RecordedBy, e.CreatedAt)
	return err
}

func (r *expenseRepoPG) List(ctx context.Context, f ExpenseFilter, limit, offset int) ([]*Expense, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Department != "" {
		add("department = $%d", f.Department)
	}
	if f.From != nil {
		add("expense_date >= $%d::date", *f.From)
	}
	if f.To != nil {
		add("expense_date < $%d::date", *f.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM expenses`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+expenseCols+` FROM expenses%s ORDER BY expense_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.Category, &e.Description, &e.Amount, &e.ExpenseDate, &e.Department,
			&e.ReceiptURL, &e.RecordedBy, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

func (r *expenseRepoPG) SumByDepartment(ctx context.Context, from, to time.Time) (map[Department]decimal.Decimal, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT department, SUM(amount) FROM expenses
		WHERE expense_date >= $1::date AND expense_date < $2::date
		GROUP BY department`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Department]decimal.Decimal)
	for rows.Next() {
		var (
			dept Department
			sum  decimal.Decimal
		)
		if err := rows.Scan(&dept, &sum); err != nil {
			return nil, err
		}
		out[dept] = sum
	}
	return out, rows.Err()
}
