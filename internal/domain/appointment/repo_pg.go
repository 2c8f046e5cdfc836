package appointment

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

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, patient_id, doctor_id, appointment_date, duration, status,
	reason, symptoms, notes, version, updated_by, created_at, updated_at,
	arrived_at, arrival_recorded_by`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.AppointmentDate, &a.Duration, &a.Status,
		&a.Reason, &a.Symptoms, &a.Notes, &a.Version, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt,
		&a.ArrivedAt, &a.ArrivalRecordedBy)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func notFound(what string, id interface{}, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, apperr.ErrNotFound)
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, duration, status,
			reason, symptoms, notes, version, updated_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.PatientID, a.DoctorID, a.AppointmentDate, a.Duration, a.Status,
		a.Reason, a.Symptoms, a.Notes, a.Version, a.UpdatedBy, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("appointment", id, err)
	}
	return a, nil
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound("appointment", id, err)
	}
	return a, nil
}

func (r *appointmentRepoPG) UpdateState(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET status = $2, appointment_date = $3, version = $4,
			updated_by = $5, updated_at = $6
		WHERE id = $1`,
		a.ID, a.Status, a.AppointmentDate, a.Version, a.UpdatedBy, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %s: %w", a.ID, apperr.ErrNotFound)
	}
	return nil
}

func (r *appointmentRepoPG) RecordArrival(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET arrived_at = $2, arrival_recorded_by = $3
		WHERE id = $1 AND arrived_at IS NULL`,
		a.ID, a.ArrivedAt, a.ArrivalRecordedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: arrival for appointment %s is already recorded", apperr.ErrInvalidTransition, a.ID)
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
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
	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.From != nil {
		add("appointment_date >= $%d", *f.From)
	}
	if f.To != nil {
		add("appointment_date < $%d", *f.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+apptCols+` FROM appointments%s ORDER BY appointment_date DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// =========== Clinical Record Repository ===========

type clinicalRecordRepoPG struct{ pool *pgxpool.Pool }

func NewClinicalRecordRepoPG(pool *pgxpool.Pool) ClinicalRecordRepository {
	return &clinicalRecordRepoPG{pool: pool}
}

func (r *clinicalRecordRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const diagCols = `id, appointment_id, patient_id, doctor_id, diagnosis, symptoms, treatment_plan,
	notes, follow_up_required, follow_up_date, recorded_by, created_at`

func (r *clinicalRecordRepoPG) AddDiagnosis(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO diagnoses (`+diagCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.AppointmentID, d.PatientID, d.DoctorID, d.Diagnosis, d.Symptoms, d.TreatmentPlan,
		d.Notes, d.FollowUpRequired, d.FollowUpDate, d.RecordedBy, d.CreatedAt)
	return err
}

func (r *clinicalRecordRepoPG) ListDiagnoses(ctx context.Context, appointmentID uuid.UUID) ([]*Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+diagCols+` FROM diagnoses WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Diagnosis
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(&d.ID, &d.AppointmentID, &d.PatientID, &d.DoctorID, &d.Diagnosis, &d.Symptoms,
			&d.TreatmentPlan, &d.Notes, &d.FollowUpRequired, &d.FollowUpDate, &d.RecordedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

const rxCols = `id, appointment_id, patient_id, doctor_id, medicine_name, dosage, frequency,
	duration, instructions, recorded_by, created_at`

func (r *clinicalRecordRepoPG) AddPrescription(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescriptions (`+rxCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.AppointmentID, p.PatientID, p.DoctorID, p.MedicineName, p.Dosage, p.Frequency,
		p.Duration, p.Instructions, p.RecordedBy, p.CreatedAt)
	return err
}

func (r *clinicalRecordRepoPG) ListPrescriptions(ctx context.Context, appointmentID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rxCols+` FROM prescriptions WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.AppointmentID, &p.PatientID, &p.DoctorID, &p.MedicineName, &p.Dosage,
			&p.Frequency, &p.Duration, &p.Instructions, &p.RecordedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

const vitalsCols = `id, patient_id, appointment_id, blood_pressure_systolic, blood_pressure_diastolic,
	heart_rate, respiratory_rate, temperature, oxygen_saturation, weight, height, blood_sugar,
	notes, recorded_by, created_at`

func scanVitals(row pgx.Row) (*VitalSigns, error) {
	var v VitalSigns
	err := row.Scan(&v.ID, &v.PatientID, &v.AppointmentID, &v.BloodPressureSystolic, &v.BloodPressureDiastolic,
		&v.HeartRate, &v.RespiratoryRate, &v.Temperature, &v.OxygenSaturation, &v.Weight, &v.Height, &v.BloodSugar,
		&v.Notes, &v.RecordedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *clinicalRecordRepoPG) AddVitals(ctx context.Context, v *VitalSigns) error {
	v.ID = uuid.New()
	v.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO vital_signs (`+vitalsCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		v.ID, v.PatientID, v.AppointmentID, v.BloodPressureSystolic, v.BloodPressureDiastolic,
		v.HeartRate, v.RespiratoryRate, v.Temperature, v.OxygenSaturation, v.Weight, v.Height, v.BloodSugar,
		v.Notes, v.RecordedBy, v.CreatedAt)
	return err
}

func (r *clinicalRecordRepoPG) ListVitals(ctx context.Context, appointmentID uuid.UUID) ([]*VitalSigns, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vitalsCols+` FROM vital_signs WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*VitalSigns
	for rows.Next() {
		v, err := scanVitals(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *clinicalRecordRepoPG) ListVitalsByPatient(ctx context.Context, patientID string, limit, offset int) ([]*VitalSigns, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM vital_signs WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+vitalsCols+` FROM vital_signs WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*VitalSigns
	for rows.Next() {
		v, err := scanVitals(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

const reportCols = `id, patient_id, appointment_id, test_name, test_type, status, result,
	normal_range, units, comments, requested_by, requested_date, completed_date, uploaded_by,
	created_at, updated_at`

func scanTestReport(row pgx.Row) (*TestReport, error) {
	var t TestReport
	err := row.Scan(&t.ID, &t.PatientID, &t.AppointmentID, &t.TestName, &t.TestType, &t.Status, &t.Result,
		&t.NormalRange, &t.Units, &t.Comments, &t.RequestedBy, &t.RequestedDate, &t.CompletedDate, &t.UploadedBy,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *clinicalRecordRepoPG) AddTestReport(ctx context.Context, t *TestReport) error {
	t.ID = uuid.New()
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO test_reports (`+reportCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.PatientID, t.AppointmentID, t.TestName, t.TestType, t.Status, t.Result,
		t.NormalRange, t.Units, t.Comments, t.RequestedBy, t.RequestedDate, t.CompletedDate, t.UploadedBy,
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *clinicalRecordRepoPG) GetTestReportForUpdate(ctx context.Context, id uuid.UUID) (*TestReport, error) {
	t, err := scanTestReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM test_reports WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound("test report", id, err)
	}
	return t, nil
}

func (r *clinicalRecordRepoPG) CompleteTestReport(ctx context.Context, t *TestReport) error {
	t.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_reports SET status = $2, result = $3, normal_range = $4, units = $5, comments = $6,
			completed_date = $7, uploaded_by = $8, updated_at = $9
		WHERE id = $1`,
		t.ID, t.Status, t.Result, t.NormalRange, t.Units, t.Comments, t.CompletedDate, t.UploadedBy, t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("test report %s: %w", t.ID, apperr.ErrNotFound)
	}
	return nil
}

func (r *clinicalRecordRepoPG) ListTestReports(ctx context.Context, f TestReportFilter, limit, offset int) ([]*TestReport, int, error) {
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
	if f.AppointmentID != nil {
		add("appointment_id = $%d", *f.AppointmentID)
	}
	if f.TestType != "" {
		add("test_type = $%d", f.TestType)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_reports`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+reportCols+` FROM test_reports%s ORDER BY requested_date DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TestReport
	for rows.Next() {
		t, err := scanTestReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *clinicalRecordRepoPG) ListTestReportsByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*TestReport, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM test_reports WHERE appointment_id = $1 ORDER BY requested_date`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TestReport
	for rows.Next() {
		t, err := scanTestReport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}
