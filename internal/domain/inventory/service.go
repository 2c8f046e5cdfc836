package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
)

type Service struct {
	medicines MedicineRepository
	stock     StockRepository
	alerts    AlertRepository
	tx        db.TxRunner
	events    events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(medicines MedicineRepository, stock StockRepository, alerts AlertRepository, tx db.TxRunner, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{
		medicines: medicines,
		stock:     stock,
		alerts:    alerts,
		tx:        tx,
		events:    pub,
		logger:    logger.With().Str("module", "inventory").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func withLevel(ms *MedicineStock) *MedicineStock {
	ms.StockLevel = Classify(ms.Inventory)
	return ms
}

// -- Medicines --

func (s *Service) CreateMedicine(ctx context.Context, m *Medicine, inv *Inventory, actor auth.Actor) (*MedicineStock, error) {
	m.Name = strings.TrimSpace(m.Name)
	m.GenericName = strings.TrimSpace(m.GenericName)
	if m.Name == "" {
		return nil, fmt.Errorf("%w: name is required", apperr.ErrInvalidInput)
	}
	if m.GenericName == "" {
		return nil, fmt.Errorf("%w: generic_name is required", apperr.ErrInvalidInput)
	}
	if !m.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", apperr.ErrInvalidInput, m.Category)
	}
	if m.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit_price cannot be negative", apperr.ErrInvalidInput)
	}
	if !m.UnitPrice.Equal(m.UnitPrice.Round(2)) {
		return nil, fmt.Errorf("%w: unit_price has more than 2 decimal places", apperr.ErrInvalidInput)
	}
	if err := validateBounds(inv); err != nil {
		return nil, err
	}

	var alert *StockAlert
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.medicines.Create(ctx, m, inv); err != nil {
			return err
		}
		var err error
		alert, err = s.evaluateAlert(ctx, inv)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create medicine: %w", err)
	}

	s.logger.Info().Str("medicine_id", m.ID.String()).Str("name", m.Name).Str("actor", actor.String()).Msg("medicine created")
	s.alertOpened(ctx, alert, actor)
	return withLevel(&MedicineStock{Medicine: *m, Inventory: *inv}), nil
}

func (s *Service) GetMedicine(ctx context.Context, id uuid.UUID) (*MedicineStock, error) {
	ms, err := s.medicines.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return withLevel(ms), nil
}

func (s *Service) ListMedicines(ctx context.Context, f ListFilter, limit, offset int) ([]*MedicineStock, int, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown category %q", apperr.ErrInvalidInput, f.Category)
	}
	items, total, err := s.medicines.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, ms := range items {
		withLevel(ms)
	}
	return items, total, nil
}

// -- Stock --

// ApplyStockOperation changes the stock of one medicine. The inventory row is
// locked for the whole operation, so concurrent removals can never take the
// stock below zero.
func (s *Service) ApplyStockOperation(ctx context.Context, medicineID uuid.UUID, quantity int, op Operation, actor auth.Actor) (*StockResult, error) {
	var res StockResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.stock.GetForUpdate(ctx, medicineID)
		if err != nil {
			return err
		}
		next, err := applyOperation(inv.CurrentStock, quantity, op)
		if err != nil {
			return err
		}

		now := s.now()
		mv := &StockMovement{
			MedicineID:    medicineID,
			Operation:     op,
			Quantity:      quantity,
			PreviousStock: inv.CurrentStock,
			NewStock:      next,
			PerformedBy:   actor.ID,
			CreatedAt:     now,
		}
		inv.CurrentStock = next
		inv.UpdatedAt = now
		if err := s.stock.UpdateStock(ctx, inv); err != nil {
			return err
		}
		if err := s.stock.AddMovement(ctx, mv); err != nil {
			return fmt.Errorf("record stock movement: %w", err)
		}
		alert, err := s.evaluateAlert(ctx, inv)
		if err != nil {
			return err
		}

		res = StockResult{Inventory: inv, StockLevel: Classify(*inv), Movement: mv, Alert: alert}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medicine_id", medicineID.String()).
		Str("operation", string(op)).
		Int("quantity", quantity).
		Int("previous_stock", res.Movement.PreviousStock).
		Int("new_stock", res.Movement.NewStock).
		Str("actor", actor.String()).
		Msg("stock updated")
	s.alertOpened(ctx, res.Alert, actor)
	return &res, nil
}

func (s *Service) ListMovements(ctx context.Context, medicineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	if _, err := s.medicines.GetByID(ctx, medicineID); err != nil {
		return nil, 0, err
	}
	return s.stock.ListMovements(ctx, medicineID, limit, offset)
}

// -- Alerts --

// evaluateAlert opens an alert when inv is low and none is open yet. It
// returns the new alert, or nil. Alerts are never closed here; a restock
// leaves an open alert in place until someone resolves it.
func (s *Service) evaluateAlert(ctx context.Context, inv *Inventory) (*StockAlert, error) {
	if Classify(*inv) != LevelLow {
		return nil, nil
	}
	open, err := s.alerts.HasOpen(ctx, inv.MedicineID)
	if err != nil {
		return nil, fmt.Errorf("check open alerts: %w", err)
	}
	if open {
		return nil, nil
	}

	name := inv.MedicineName
	if name == "" {
		name = inv.MedicineID.String()
	}
	a := &StockAlert{
		MedicineID: inv.MedicineID,
		Message:    fmt.Sprintf("Low stock: %s has %d units left (minimum %d)", name, inv.CurrentStock, inv.MinimumStock),
		CreatedAt:  s.now(),
	}
	if err := s.alerts.Create(ctx, a); err != nil {
		if errors.Is(err, errAlertOpen) {
			return nil, nil
		}
		return nil, fmt.Errorf("open stock alert: %w", err)
	}
	return a, nil
}

func (s *Service) alertOpened(ctx context.Context, a *StockAlert, actor auth.Actor) {
	if a == nil {
		return
	}
	s.logger.Warn().Str("medicine_id", a.MedicineID.String()).Str("alert_id", a.ID.String()).Msg(a.Message)
	s.events.Publish(ctx, events.New(events.StockAlertOpened, "stock_alert", a.ID.String(), actor.String(),
		map[string]interface{}{
			"medicine_id": a.MedicineID.String(),
			"message":     a.Message,
		}))
}

func (s *Service) ListAlerts(ctx context.Context, resolved *bool, limit, offset int) ([]*StockAlert, int, error) {
	return s.alerts.List(ctx, resolved, limit, offset)
}

func (s *Service) ResolveAlert(ctx context.Context, id uuid.UUID, actor auth.Actor) (*StockAlert, error) {
	a, err := s.alerts.Resolve(ctx, id, actor.ID, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("alert_id", id.String()).Str("actor", actor.String()).Msg("stock alert resolved")
	s.events.Publish(ctx, events.New(events.StockAlertResolved, "stock_alert", a.ID.String(), actor.String(),
		map[string]interface{}{"medicine_id": a.MedicineID.String()}))
	return a, nil
}
