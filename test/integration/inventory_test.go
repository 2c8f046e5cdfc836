package integration

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/inventory"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

var admin = auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}

func createMedicine(t *testing.T, svc *inventory.Service, current, minimum, maximum int) uuid.UUID {
	t.Helper()
	ms, err := svc.CreateMedicine(testContext(t), &inventory.Medicine{
		Name:        "Paracetamol 500mg",
		GenericName: "paracetamol",
		Category:    inventory.CategoryTablet,
		UnitPrice:   decimal.RequireFromString("2.50"),
	}, &inventory.Inventory{
		CurrentStock: current,
		MinimumStock: minimum,
		MaximumStock: maximum,
	}, admin)
	if err != nil {
		t.Fatalf("create medicine: %v", err)
	}
	return ms.Medicine.ID
}

func openAlerts(t *testing.T, svc *inventory.Service) []*inventory.StockAlert {
	t.Helper()
	open := false
	alerts, _, err := svc.ListAlerts(testContext(t), &open, 50, 0)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	return alerts
}

func TestInventory_ConcurrentRemovesNeverOversell(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newInventoryService(pool)
	id := createMedicine(t, svc, 10, 0, 100)

	const workers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyStockOperation(testContext(t), id, 3, inventory.OpRemove, admin)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 || short != 2 {
		t.Errorf("expected 3 removals and 2 rejections, got %d and %d", succeeded, short)
	}
	ms, err := svc.GetMedicine(testContext(t), id)
	if err != nil {
		t.Fatalf("get medicine: %v", err)
	}
	if ms.Inventory.CurrentStock != 1 {
		t.Errorf("expected stock 1, got %d", ms.Inventory.CurrentStock)
	}

	movements, total, err := svc.ListMovements(testContext(t), id, 50, 0)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 movements, got %d", total)
	}
	for _, mv := range movements {
		if mv.NewStock < 0 || mv.PreviousStock-mv.NewStock != 3 {
			t.Errorf("inconsistent movement %+v", mv)
		}
	}
}

func TestInventory_OneOpenAlertPerMedicine(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newInventoryService(pool)
	id := createMedicine(t, svc, 40, 20, 100)

	res, err := svc.ApplyStockOperation(testContext(t), id, 25, inventory.OpRemove, admin)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Alert == nil {
		t.Fatal("expected an alert when stock drops to the minimum")
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ApplyStockOperation(testContext(t), id, 1, inventory.OpRemove, admin)
			if err != nil {
				t.Errorf("remove: %v", err)
				return
			}
			if res.Alert != nil {
				t.Errorf("expected no second alert, got %s", res.Alert.ID)
			}
		}()
	}
	wg.Wait()

	open := openAlerts(t, svc)
	if len(open) != 1 || open[0].MedicineID != id {
		t.Fatalf("expected exactly one open alert, got %d", len(open))
	}

	if _, err := svc.ResolveAlert(testContext(t), open[0].ID, admin); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	res, err = svc.ApplyStockOperation(testContext(t), id, 1, inventory.OpRemove, admin)
	if err != nil {
		t.Fatalf("remove after resolve: %v", err)
	}
	if res.Alert == nil {
		t.Error("expected a fresh alert once the previous one is resolved")
	}
	if n := len(openAlerts(t, svc)); n != 1 {
		t.Errorf("expected one open alert after re-alerting, got %d", n)
	}
}

func TestInventory_AlertIndexRejectsSecondOpenAlert(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newInventoryService(pool)
	id := createMedicine(t, svc, 50, 10, 100)
	alerts := inventory.NewAlertRepoPG(pool)

	first := &inventory.StockAlert{MedicineID: id, Message: "low"}
	if err := alerts.Create(testContext(t), first); err != nil {
		t.Fatalf("first alert: %v", err)
	}
	if err := alerts.Create(testContext(t), &inventory.StockAlert{MedicineID: id, Message: "low again"}); err == nil {
		t.Fatal("expected the second open alert to be refused")
	}

	open, err := alerts.HasOpen(testContext(t), id)
	if err != nil || !open {
		t.Fatalf("expected an open alert, got %v (%v)", open, err)
	}
	if n := len(openAlerts(t, svc)); n != 1 {
		t.Errorf("expected one open alert, got %d", n)
	}

	if _, err := svc.ResolveAlert(testContext(t), first.ID, admin); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.ResolveAlert(testContext(t), first.ID, admin); err == nil {
		t.Error("expected resolving twice to fail")
	}
}

func TestInventory_SetBelowMinimumOpensAlert(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newInventoryService(pool)
	id := createMedicine(t, svc, 50, 10, 100)

	res, err := svc.ApplyStockOperation(testContext(t), id, 0, inventory.OpSet, admin)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if res.StockLevel != inventory.LevelLow || res.Alert == nil {
		t.Errorf("expected low level with alert, got %s alert=%v", res.StockLevel, res.Alert)
	}
	if res.Movement.PreviousStock != 50 || res.Movement.NewStock != 0 {
		t.Errorf("unexpected movement %+v", res.Movement)
	}
}

func TestInventory_ListMovementsUnknownMedicine(t *testing.T) {
	pool := newSchemaPool(t)
	svc := newInventoryService(pool)

	_, _, err := svc.ListMovements(testContext(t), uuid.New(), 10, 0)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
