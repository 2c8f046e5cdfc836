package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

func newTestRouter(env *testEnv) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	NewHandler(env.svc).RegisterRoutes(api)
	return e
}

func do(e *echo.Echo, method, path, body string, actor auth.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set("X-User-ID", actor.ID)
	req.Header.Set("X-User-Role", string(actor.Role))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const createBody = `{
	"patient_id": "pat-1",
	"items": [
		{"description": "Consultation", "quantity": 2, "unit_price": "10", "type": "service"}
	],
	"tax_amount": 5,
	"discount_amount": "3",
	"due_date": "2099-01-31"
}`

func TestHandler_CreateBill(t *testing.T) {
	env := newTestEnv()
	e := newTestRouter(env)

	rec := do(e, http.MethodPost, "/api/v1/bills", createBody, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var b Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !b.FinalAmount.Equal(d("22")) {
		t.Errorf("expected final 22, got %s", b.FinalAmount)
	}
	if !strings.HasPrefix(b.BillNumber, "BILL-") {
		t.Errorf("unexpected bill number %q", b.BillNumber)
	}
	if b.DueDate.Year() != 2099 || b.DueDate.Day() != 31 {
		t.Errorf("unexpected due date %s", b.DueDate)
	}
}

func TestHandler_CreateBill_AdminOnly(t *testing.T) {
	e := newTestRouter(newTestEnv())
	for _, actor := range []auth.Actor{patient, doctor, {ID: "n1", Role: auth.RoleNurse}} {
		rec := do(e, http.MethodPost, "/api/v1/bills", createBody, actor)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", actor.Role, rec.Code)
		}
	}
}

func TestHandler_CreateBill_Invalid(t *testing.T) {
	e := newTestRouter(newTestEnv())

	rec := do(e, http.MethodPost, "/api/v1/bills", `{"patient_id":"pat-1","items":[],"due_date":"2099-01-01"}`, admin)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("no items: expected 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "billing_error") {
		t.Errorf("expected billing_error kind, got %s", rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/bills", `{"patient_id":"pat-1","items":[],"due_date":"31/01/2099"}`, admin)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad due date: expected 400, got %d", rec.Code)
	}
}

func TestHandler_PayBill(t *testing.T) {
	env := newTestEnv()
	b := env.createBill(t)
	e := newTestRouter(env)
	path := fmt.Sprintf("/api/v1/bills/%s/pay", b.ID)

	rec := do(e, http.MethodPost, path, `{"amount":"50","payment_method":"cash"}`, patient)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("partial: expected 422, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, path, `{"amount":100,"payment_method":"card"}`, patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Bill    Bill    `json:"bill"`
		Payment Payment `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Bill.Status != StatusPaid || resp.Payment.Method != MethodCard {
		t.Errorf("unexpected response: %+v", resp)
	}

	rec = do(e, http.MethodPost, path, `{"amount":100,"payment_method":"card"}`, patient)
	if rec.Code != http.StatusConflict {
		t.Errorf("second payment: expected 409, got %d", rec.Code)
	}
}

func TestHandler_PayBill_DoctorForbidden(t *testing.T) {
	env := newTestEnv()
	b := env.createBill(t)
	e := newTestRouter(env)
	rec := do(e, http.MethodPost, fmt.Sprintf("/api/v1/bills/%s/pay", b.ID), `{"amount":100,"payment_method":"card"}`, doctor)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_GetAndListBills(t *testing.T) {
	env := newTestEnv()
	b := env.createBill(t)
	e := newTestRouter(env)

	rec := do(e, http.MethodGet, "/api/v1/bills/"+b.ID.String(), "", patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/v1/bills/"+b.ID.String(), "", auth.Actor{ID: "pat-2", Role: auth.RolePatient})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another patient, got %d", rec.Code)
	}
	rec = do(e, http.MethodGet, "/api/v1/bills/nope", "", admin)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/bills?status=pending", "", doctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 {
		t.Errorf("expected 1 pending bill, got %d", page.Total)
	}

	rec = do(e, http.MethodGet, "/api/v1/bills?appointment_id=xyz", "", doctor)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad appointment_id, got %d", rec.Code)
	}
}

func TestHandler_MarkOverdue(t *testing.T) {
	env := newTestEnv()
	b := env.createBill(t)
	env.bills.items[b.ID].DueDate = time.Now().Add(-time.Hour)
	e := newTestRouter(env)

	rec := do(e, http.MethodPost, "/api/v1/bills/mark-overdue", "", patient)
	if rec.Code != http.StatusForbidden {
		t.Errorf("patient: expected 403, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/bills/mark-overdue", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]int
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["marked_overdue"] != 1 {
		t.Errorf("expected 1 bill marked, got %v", resp)
	}
}

func TestHandler_ListPayments(t *testing.T) {
	env := newTestEnv()
	b := env.createBill(t)
	if _, _, err := env.svc.ProcessPayment(context.Background(), b.ID, PaymentInput{Amount: d("100"), Method: MethodBank}, admin); err != nil {
		t.Fatal(err)
	}
	e := newTestRouter(env)
	rec := do(e, http.MethodGet, "/api/v1/bills/"+b.ID.String()+"/payments", "", patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payments []Payment
	_ = json.Unmarshal(rec.Body.Bytes(), &payments)
	if len(payments) != 1 {
		t.Errorf("expected 1 payment, got %d", len(payments))
	}
}

func TestHandler_Expenses(t *testing.T) {
	env := newTestEnv()
	e := newTestRouter(env)

	body := `{"category":"medical_supplies","description":"Gloves","amount":"120.40","expense_date":"2026-03-02","department":"surgery"}`
	if rec := do(e, http.MethodPost, "/api/v1/expenses", body, doctor); rec.Code != http.StatusForbidden {
		t.Errorf("doctor: expected 403, got %d", rec.Code)
	}
	rec := do(e, http.MethodPost, "/api/v1/expenses", body, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Expense
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Department != DeptSurgery || got.ExpenseDate.Format("2006-01-02") != "2026-03-02" {
		t.Errorf("unexpected expense: %+v", got)
	}

	if rec := do(e, http.MethodPost, "/api/v1/expenses", `{"category":"other","description":"x","amount":"1.005"}`, admin); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("sub-cent amount: expected 422, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/v1/expenses", `{"category":"other","description":"x","amount":"1","expense_date":"March 2"}`, admin); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/expenses?department=surgery&from=2026-03-01&to=2026-04-01", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 {
		t.Errorf("expected 1 expense, got %d", page.Total)
	}
}

func TestHandler_FinancialSummary(t *testing.T) {
	env := newTestEnv()
	b := env.createBill(t)
	if _, _, err := env.svc.ProcessPayment(context.Background(), b.ID, PaymentInput{Amount: d("100"), Method: MethodCash}, admin); err != nil {
		t.Fatal(err)
	}
	e := newTestRouter(env)

	if rec := do(e, http.MethodGet, "/api/v1/reports/financial", "", auth.Actor{ID: "nurse-1", Role: auth.RoleNurse}); rec.Code != http.StatusForbidden {
		t.Errorf("nurse: expected 403, got %d", rec.Code)
	}
	rec := do(e, http.MethodGet, "/api/v1/reports/financial", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sum struct {
		TotalRevenue string `json:"total_revenue"`
		NetProfit    string `json:"net_profit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalRevenue != "100" || sum.NetProfit != "100" {
		t.Errorf("unexpected summary: %+v", sum)
	}

	if rec := do(e, http.MethodGet, "/api/v1/reports/financial?from=2026-05-01&to=2026-04-01", "", admin); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("inverted period: expected 422, got %d", rec.Code)
	}
}

func TestParseDueDate(t *testing.T) {
	got, err := parseDueDate("2026-05-01")
	if err != nil {
		t.Fatal(err)
	}
	if got.Day() != 1 || got.Hour() != 23 {
		t.Errorf("expected end of 1 May, got %s", got)
	}
	if got, _ := parseDueDate(""); !got.IsZero() {
		t.Error("empty due date should be zero")
	}
}
