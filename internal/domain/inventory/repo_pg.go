package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

// errAlertOpen is returned by AlertRepository.Create when the medicine
// already has an open alert.
var errAlertOpen = errors.New("stock alert already open")

func notFound(what string, id interface{}, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, apperr.ErrNotFound)
	}
	return err
}

// =========== Medicine Repository ===========

type medicineRepoPG struct{ pool *pgxpool.Pool }

func NewMedicineRepoPG(pool *pgxpool.Pool) MedicineRepository { return &medicineRepoPG{pool: pool} }

func (r *medicineRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const medStockCols = `m.id, m.name, m.generic_name, m.category, m.manufacturer, m.batch_number,
	m.expiry_date, m.unit_price, m.prescription_required, m.created_at, m.updated_at,
	i.current_stock, i.minimum_stock, i.maximum_stock, i.shelf_location, i.updated_at`

func scanMedicineStock(row pgx.Row) (*MedicineStock, error) {
	var ms MedicineStock
	m := &ms.Medicine
	inv := &ms.Inventory
	err := row.Scan(&m.ID, &m.Name, &m.GenericName, &m.Category, &m.Manufacturer, &m.BatchNumber,
		&m.ExpiryDate, &m.UnitPrice, &m.PrescriptionRequired, &m.CreatedAt, &m.UpdatedAt,
		&inv.CurrentStock, &inv.MinimumStock, &inv.MaximumStock, &inv.ShelfLocation, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.MedicineID = m.ID
	inv.MedicineName = m.Name
	return &ms, nil
}

func (r *medicineRepoPG) Create(ctx context.Context, m *Medicine, inv *Inventory) error {
	m.ID = uuid.New()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if _, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medicines (id, name, generic_name, category, manufacturer, batch_number,
			expiry_date, unit_price, prescription_required, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.Name, m.GenericName, m.Category, m.Manufacturer, m.BatchNumber,
		m.ExpiryDate, m.UnitPrice, m.PrescriptionRequired, m.CreatedAt, m.UpdatedAt); err != nil {
		return err
	}

	inv.MedicineID = m.ID
	inv.MedicineName = m.Name
	inv.UpdatedAt = now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO inventory (medicine_id, current_stock, minimum_stock, maximum_stock, shelf_location, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		inv.MedicineID, inv.CurrentStock, inv.MinimumStock, inv.MaximumStock, inv.ShelfLocation, inv.UpdatedAt)
	return err
}

func (r *medicineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicineStock, error) {
	ms, err := scanMedicineStock(r.conn(ctx).QueryRow(ctx, `
		SELECT `+medStockCols+`
		FROM medicines m JOIN inventory i ON i.medicine_id = m.id
		WHERE m.id = $1`, id))
	if err != nil {
		return nil, notFound("medicine", id, err)
	}
	return ms, nil
}

func (r *medicineRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*MedicineStock, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != "" {
		add("m.category = $%d", f.Category)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("(m.name ILIKE $%d OR m.generic_name ILIKE $%d)", len(args), len(args)))
	}
	if f.LowStock {
		where = append(where, "i.current_stock <= i.minimum_stock")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	from := ` FROM medicines m JOIN inventory i ON i.medicine_id = m.id` + clause

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+medStockCols+from+` ORDER BY m.name LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicineStock
	for rows.Next() {
		ms, err := scanMedicineStock(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ms)
	}
	return items, total, rows.Err()
}

// =========== Stock Repository ===========

type stockRepoPG struct{ pool *pgxpool.Pool }

func NewStockRepoPG(pool *pgxpool.Pool) StockRepository { return &stockRepoPG{pool: pool} }

func (r *stockRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *stockRepoPG) GetForUpdate(ctx context.Context, medicineID uuid.UUID) (*Inventory, error) {
	var inv Inventory
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT i.medicine_id, m.name, i.current_stock, i.minimum_stock, i.maximum_stock,
			i.shelf_location, i.updated_at
		FROM inventory i JOIN medicines m ON m.id = i.medicine_id
		WHERE i.medicine_id = $1
		FOR UPDATE OF i`, medicineID).
		Scan(&inv.MedicineID, &inv.MedicineName, &inv.CurrentStock, &inv.MinimumStock, &inv.MaximumStock,
			&inv.ShelfLocation, &inv.UpdatedAt)
	if err != nil {
		return nil, notFound("medicine", medicineID, err)
	}
	return &inv, nil
}

func (r *stockRepoPG) UpdateStock(ctx context.Context, inv *Inventory) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE inventory SET current_stock = $2, updated_at = $3 WHERE medicine_id = $1`,
		inv.MedicineID, inv.CurrentStock, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("medicine %s: %w", inv.MedicineID, apperr.ErrNotFound)
	}
	return nil
}

func (r *stockRepoPG) AddMovement(ctx context.Context, mv *StockMovement) error {
	mv.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO stock_movements (id, medicine_id, operation, quantity, previous_stock, new_stock,
			performed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		mv.ID, mv.MedicineID, mv.Operation, mv.Quantity, mv.PreviousStock, mv.NewStock,
		mv.PerformedBy, mv.CreatedAt)
	return err
}

func (r *stockRepoPG) ListMovements(ctx context.Context, medicineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE medicine_id = $1`, medicineID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, medicine_id, operation, quantity, previous_stock, new_stock, performed_by, created_at
		FROM stock_movements WHERE medicine_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, medicineID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StockMovement
	for rows.Next() {
		var mv StockMovement
		if err := rows.Scan(&mv.ID, &mv.MedicineID, &mv.Operation, &mv.Quantity, &mv.PreviousStock,
			&mv.NewStock, &mv.PerformedBy, &mv.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &mv)
	}
	return items, total, rows.Err()
}

// =========== Alert Repository ===========

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository { return &alertRepoPG{pool: pool} }

func (r *alertRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const alertCols = `id, medicine_id, message, created_at, resolved, resolved_at, resolved_by`

func scanAlert(row pgx.Row) (*StockAlert, error) {
	var a StockAlert
	if err := row.Scan(&a.ID, &a.MedicineID, &a.Message, &a.CreatedAt, &a.Resolved, &a.ResolvedAt, &a.ResolvedBy); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *alertRepoPG) HasOpen(ctx context.Context, medicineID uuid.UUID) (bool, error) {
	var open bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM stock_alerts WHERE medicine_id = $1 AND NOT resolved)`, medicineID).Scan(&open)
	return open, err
}

func (r *alertRepoPG) Create(ctx context.Context, a *StockAlert) error {
	a.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO stock_alerts (id, medicine_id, message, created_at, resolved)
		VALUES ($1,$2,$3,$4,FALSE)
		ON CONFLICT (medicine_id) WHERE NOT resolved DO NOTHING`,
		a.ID, a.MedicineID, a.Message, a.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errAlertOpen
	}
	return nil
}

func (r *alertRepoPG) List(ctx context.Context, resolved *bool, limit, offset int) ([]*StockAlert, int, error) {
	clause := ""
	var args []interface{}
	if resolved != nil {
		clause = " WHERE resolved = $1"
		args = append(args, *resolved)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM stock_alerts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+alertCols+` FROM stock_alerts%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StockAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *alertRepoPG) Resolve(ctx context.Context, id uuid.UUID, by string, at time.Time) (*StockAlert, error) {
	a, err := scanAlert(r.conn(ctx).QueryRow(ctx, `
		UPDATE stock_alerts SET resolved = TRUE, resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND NOT resolved
		RETURNING `+alertCols, id, at, by))
	if err != nil {
		return nil, notFound("open stock alert", id, err)
	}
	return a, nil
}
