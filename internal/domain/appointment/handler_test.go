package appointment

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
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-User-ID", actor.ID)
	req.Header.Set("X-User-Role", string(actor.Role))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAppointment(t *testing.T) {
	env := newTestEnv()
	e := newTestRouter(env)
	date := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	body := fmt.Sprintf(`{"doctor_id":"doc-1","appointment_date":%q,"reason":"check-up"}`, date)

	rec := do(e, http.MethodPost, "/api/v1/appointments", body, patient)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PatientID != patient.ID || got.Status != StatusPending || got.Duration != DefaultDuration {
		t.Errorf("unexpected appointment: %+v", got)
	}
}

func TestHandler_CreateAppointment_PastDate(t *testing.T) {
	e := newTestRouter(newTestEnv())
	date := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	body := fmt.Sprintf(`{"doctor_id":"doc-1","appointment_date":%q,"reason":"check-up"}`, date)

	rec := do(e, http.MethodPost, "/api/v1/appointments", body, patient)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_schedule") {
		t.Errorf("expected invalid_schedule kind, got %s", rec.Body.String())
	}
}

func TestHandler_CreateAppointment_ForbiddenForNurse(t *testing.T) {
	e := newTestRouter(newTestEnv())
	rec := do(e, http.MethodPost, "/api/v1/appointments", `{}`, nurse)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_GetAppointment(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusPending)
	e := newTestRouter(env)

	rec := do(e, http.MethodGet, "/api/v1/appointments/"+a.ID.String(), "", auth.Actor{ID: "lab-1", Role: auth.RoleLabTechnician})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/appointments/"+a.ID.String(), "", auth.Actor{ID: "pat-2", Role: auth.RolePatient})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another patient, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/appointments/not-a-uuid", "", doctor)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	env := newTestEnv()
	env.seed(t, StatusPending)
	env.seed(t, StatusConfirmed)
	e := newTestRouter(env)

	rec := do(e, http.MethodGet, "/api/v1/appointments?status=confirmed", "", doctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected 1 confirmed appointment, got %d", resp.Total)
	}

	rec = do(e, http.MethodGet, "/api/v1/appointments?from=yesterday", "", doctor)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestHandler_StatusTransitions(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusPending)
	e := newTestRouter(env)
	path := "/api/v1/appointments/" + a.ID.String()

	rec := do(e, http.MethodPost, path+"/status", `{"status":"confirmed"}`, doctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, path+"/status", `{"status":"completed"}`, doctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", rec.Code)
	}
	if len(env.events.OfType("appointment.completed")) != 1 {
		t.Error("completing through the status route should announce completion")
	}

	rec = do(e, http.MethodPost, path+"/cancel", "", patient)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel after complete: expected 409, got %d", rec.Code)
	}
}

func TestHandler_StatusRoute_RejectsReschedule(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusConfirmed)
	before := env.appts.items[a.ID].AppointmentDate
	e := newTestRouter(env)

	rec := do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/status", `{"status":"rescheduled"}`, doctor)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	stored := env.appts.items[a.ID]
	if stored.Status != StatusConfirmed || !stored.AppointmentDate.Equal(before) {
		t.Errorf("appointment must be untouched, got %s at %s", stored.Status, stored.AppointmentDate)
	}
}

func TestHandler_StatusChange_RequiresDoctor(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusPending)
	e := newTestRouter(env)

	rec := do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/status", `{"status":"confirmed"}`, patient)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/status", `{"status":"confirmed"}`, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected admin to pass, got %d", rec.Code)
	}
}

func TestHandler_CancelByPatient(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusPending)
	e := newTestRouter(env)

	rec := do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/cancel", "", patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.appts.items[a.ID].Status != StatusCancelled {
		t.Error("expected appointment to be cancelled")
	}
}

func TestHandler_Reschedule(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusConfirmed)
	e := newTestRouter(env)
	date := time.Now().Add(96 * time.Hour).UTC().Format(time.RFC3339)

	rec := do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/reschedule",
		fmt.Sprintf(`{"appointment_date":%q}`, date), doctor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.appts.items[a.ID].Status != StatusRescheduled {
		t.Error("expected rescheduled status")
	}
}

func TestHandler_AddDiagnosis(t *testing.T) {
	env := newTestEnv()
	pending := env.seed(t, StatusPending)
	confirmed := env.seed(t, StatusConfirmed)
	e := newTestRouter(env)

	rec := do(e, http.MethodPost, "/api/v1/appointments/"+pending.ID.String()+"/diagnoses", `{"diagnosis":"flu"}`, doctor)
	if rec.Code != http.StatusConflict {
		t.Errorf("pending: expected 409, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, "/api/v1/appointments/"+confirmed.ID.String()+"/diagnoses", `{"diagnosis":"flu"}`, doctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("confirmed: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/api/v1/appointments/"+confirmed.ID.String()+"/diagnoses", `{"diagnosis":"flu"}`, nurse)
	if rec.Code != http.StatusForbidden {
		t.Errorf("nurse: expected 403, got %d", rec.Code)
	}
}

func TestHandler_Vitals(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusConfirmed)
	e := newTestRouter(env)

	rec := do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/vitals", `{"heart_rate":72,"temperature":36.8}`, nurse)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/api/v1/vitals", fmt.Sprintf(`{"patient_id":%q,"weight":71.2}`, patient.ID), nurse)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/api/v1/vitals", `{"patient_id":"pat-1"}`, nurse)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 with no measurements, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/patients/"+patient.ID+"/vitals", "", patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("expected 2 readings, got %d", resp.Total)
	}

	rec = do(e, http.MethodGet, "/api/v1/patients/"+patient.ID+"/vitals", "", auth.Actor{ID: "lab-1", Role: auth.RoleLabTechnician})
	if rec.Code != http.StatusForbidden {
		t.Errorf("lab technician: expected 403, got %d", rec.Code)
	}
}

func TestHandler_ListClinicalRecords(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusConfirmed)
	if err := env.svc.AttachDiagnosis(context.Background(), a.ID, &Diagnosis{Diagnosis: "sinusitis"}, doctor); err != nil {
		t.Fatal(err)
	}
	e := newTestRouter(env)

	rec := do(e, http.MethodGet, "/api/v1/appointments/"+a.ID.String()+"/records", "", patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var recs ClinicalRecords
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs.Diagnoses) != 1 {
		t.Errorf("expected 1 diagnosis, got %d", len(recs.Diagnoses))
	}
}

func TestHandler_RecordArrival(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusConfirmed)
	e := newTestRouter(env)
	path := "/api/v1/appointments/" + a.ID.String() + "/arrival"

	if rec := do(e, http.MethodPost, path, "", patient); rec.Code != http.StatusForbidden {
		t.Errorf("patient: expected 403, got %d", rec.Code)
	}
	rec := do(e, http.MethodPost, path, "", nurse)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ArrivedAt == nil || got.Status != StatusConfirmed {
		t.Errorf("unexpected appointment after arrival: %+v", got)
	}
	if rec := do(e, http.MethodPost, path, "", nurse); rec.Code != http.StatusConflict {
		t.Errorf("second arrival: expected 409, got %d", rec.Code)
	}
}

func TestHandler_TestReports(t *testing.T) {
	env := newTestEnv()
	a := env.seed(t, StatusConfirmed)
	e := newTestRouter(env)

	rec := do(e, http.MethodPost, "/api/v1/appointments/"+a.ID.String()+"/test-requests",
		`{"test_name":"Lipid panel","test_type":"blood"}`, doctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var pending TestReport
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pending.Status != TestReportPending {
		t.Errorf("expected pending, got %s", pending.Status)
	}

	resultPath := "/api/v1/test-reports/" + pending.ID.String() + "/result"
	if rec := do(e, http.MethodPost, resultPath, `{"result":"LDL 110"}`, doctor); rec.Code != http.StatusForbidden {
		t.Errorf("doctor recording a result: expected 403, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, resultPath, `{"result":"LDL 110","units":"mg/dL"}`, labTech); rec.Code != http.StatusOK {
		t.Fatalf("result: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPost, resultPath, `{"result":"LDL 90"}`, labTech); rec.Code != http.StatusConflict {
		t.Errorf("overwrite: expected 409, got %d", rec.Code)
	}

	body := fmt.Sprintf(`{"patient_id":%q,"test_name":"Urinalysis","test_type":"urine","result":"clear"}`, patient.ID)
	if rec := do(e, http.MethodPost, "/api/v1/test-reports", body, labTech); rec.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodPost, "/api/v1/test-reports", `{"patient_id":"pat-1","test_name":"x","test_type":"urine"}`, labTech); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("upload without result: expected 422, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/api/v1/test-reports?status=completed", "", patient)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("expected 2 completed reports, got %d", resp.Total)
	}
	if rec := do(e, http.MethodGet, "/api/v1/test-reports?appointment_id=nope", "", labTech); rec.Code != http.StatusBadRequest {
		t.Errorf("bad appointment_id: expected 400, got %d", rec.Code)
	}
}

func TestParseDate(t *testing.T) {
	if d, err := parseDate(""); err != nil || d != nil {
		t.Errorf("empty input should yield nil, got %v %v", d, err)
	}
	if d, err := parseDate("2026-03-01"); err != nil || d.Day() != 1 {
		t.Errorf("unexpected result for plain date: %v %v", d, err)
	}
	if _, err := parseDate("2026-03-01T09:30:00Z"); err != nil {
		t.Errorf("unexpected error for RFC3339: %v", err)
	}
	if _, err := parseDate("03/01/2026"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
