package appointment

import (
	"context"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateState persists status, appointment_date, version and updated_by.
	UpdateState(ctx context.Context, a *Appointment) error
	// RecordArrival persists arrived_at and arrival_recorded_by.
	RecordArrival(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
}

type ClinicalRecordRepository interface {
	AddDiagnosis(ctx context.Context, d *Diagnosis) error
	AddPrescription(ctx context.Context, p *Prescription) error
	AddVitals(ctx context.Context, v *VitalSigns) error
	ListDiagnoses(ctx context.Context, appointmentID uuid.UUID) ([]*Diagnosis, error)
	ListPrescriptions(ctx context.Context, appointmentID uuid.UUID) ([]*Prescription, error)
	ListVitals(ctx context.Context, appointmentID uuid.UUID) ([]*VitalSigns, error)
	ListVitalsByPatient(ctx context.Context, patientID string, limit, offset int) ([]*VitalSigns, int, error)

	AddTestReport(ctx context.Context, r *TestReport) error
	// GetTestReportForUpdate locks the report until the surrounding transaction ends.
	GetTestReportForUpdate(ctx context.Context, id uuid.UUID) (*TestReport, error)
	// CompleteTestReport persists the result fields, status and completed_date.
	CompleteTestReport(ctx context.Context, r *TestReport) error
	ListTestReports(ctx context.Context, f TestReportFilter, limit, offset int) ([]*TestReport, int, error)
	ListTestReportsByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*TestReport, error)
}
