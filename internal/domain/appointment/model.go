package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

const (
	MinDuration     = 15
	MaxDuration     = 120
	DefaultDuration = 30
)

// Appointment maps to the appointments table. PatientID and DoctorID are the
// identity-provider subjects of the two parties and never change.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       string    `db:"patient_id" json:"patient_id"`
	DoctorID        string    `db:"doctor_id" json:"doctor_id"`
	AppointmentDate time.Time `db:"appointment_date" json:"appointment_date"`
	Duration        int       `db:"duration" json:"duration"`
	Status          Status    `db:"status" json:"status"`
	Reason          string    `db:"reason" json:"reason"`
	Symptoms        *string   `db:"symptoms" json:"symptoms,omitempty"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	Version         int       `db:"version" json:"version"`
	UpdatedBy       string    `db:"updated_by" json:"updated_by"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	// Set once when the patient checks in; independent of Status.
	ArrivedAt         *time.Time `db:"arrived_at" json:"arrived_at,omitempty"`
	ArrivalRecordedBy *string    `db:"arrival_recorded_by" json:"arrival_recorded_by,omitempty"`
}

// Diagnosis is append-only.
type Diagnosis struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	AppointmentID    uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	PatientID        string     `db:"patient_id" json:"patient_id"`
	DoctorID         string     `db:"doctor_id" json:"doctor_id"`
	Diagnosis        string     `db:"diagnosis" json:"diagnosis"`
	Symptoms         *string    `db:"symptoms" json:"symptoms,omitempty"`
	TreatmentPlan    *string    `db:"treatment_plan" json:"treatment_plan,omitempty"`
	Notes            *string    `db:"notes" json:"notes,omitempty"`
	FollowUpRequired bool       `db:"follow_up_required" json:"follow_up_required"`
	FollowUpDate     *time.Time `db:"follow_up_date" json:"follow_up_date,omitempty"`
	RecordedBy       string     `db:"recorded_by" json:"recorded_by"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// Prescription is append-only.
type Prescription struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	PatientID     string    `db:"patient_id" json:"patient_id"`
	DoctorID      string    `db:"doctor_id" json:"doctor_id"`
	MedicineName  string    `db:"medicine_name" json:"medicine_name"`
	Dosage        string    `db:"dosage" json:"dosage"`
	Frequency     *string   `db:"frequency" json:"frequency,omitempty"`
	Duration      *string   `db:"duration" json:"duration,omitempty"`
	Instructions  *string   `db:"instructions" json:"instructions,omitempty"`
	RecordedBy    string    `db:"recorded_by" json:"recorded_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// VitalSigns is append-only. AppointmentID is nil for readings taken outside
// a visit.
type VitalSigns struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	PatientID              string     `db:"patient_id" json:"patient_id"`
	AppointmentID          *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	BloodPressureSystolic  *int       `db:"blood_pressure_systolic" json:"blood_pressure_systolic,omitempty"`
	BloodPressureDiastolic *int       `db:"blood_pressure_diastolic" json:"blood_pressure_diastolic,omitempty"`
	HeartRate              *int       `db:"heart_rate" json:"heart_rate,omitempty"`
	RespiratoryRate        *int       `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	Temperature            *float64   `db:"temperature" json:"temperature,omitempty"`
	OxygenSaturation       *float64   `db:"oxygen_saturation" json:"oxygen_saturation,omitempty"`
	Weight                 *float64   `db:"weight" json:"weight,omitempty"`
	Height                 *float64   `db:"height" json:"height,omitempty"`
	BloodSugar             *float64   `db:"blood_sugar" json:"blood_sugar,omitempty"`
	Notes                  *string    `db:"notes" json:"notes,omitempty"`
	RecordedBy             string     `db:"recorded_by" json:"recorded_by"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
}

type TestType string

const (
	TestBlood     TestType = "blood"
	TestUrine     TestType = "urine"
	TestImaging   TestType = "imaging"
	TestBiopsy    TestType = "biopsy"
	TestCulture   TestType = "culture"
	TestMolecular TestType = "molecular"
	TestOther     TestType = "other"
)

func (t TestType) Valid() bool {
	switch t {
	case TestBlood, TestUrine, TestImaging, TestBiopsy, TestCulture, TestMolecular, TestOther:
		return true
	}
	return false
}

type TestReportStatus string

const (
	TestReportPending   TestReportStatus = "pending"
	TestReportCompleted TestReportStatus = "completed"
)

func (s TestReportStatus) Valid() bool {
	return s == TestReportPending || s == TestReportCompleted
}

// TestReport is a lab test ordered by a doctor or uploaded directly by the
// lab. A pending report has no result; once completed it is read-only.
type TestReport struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	PatientID     string           `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID       `db:"appointment_id" json:"appointment_id,omitempty"`
	TestName      string           `db:"test_name" json:"test_name"`
	TestType      TestType         `db:"test_type" json:"test_type"`
	Status        TestReportStatus `db:"status" json:"status"`
	Result        *string          `db:"result" json:"result,omitempty"`
	NormalRange   *string          `db:"normal_range" json:"normal_range,omitempty"`
	Units         *string          `db:"units" json:"units,omitempty"`
	Comments      *string          `db:"comments" json:"comments,omitempty"`
	RequestedBy   string           `db:"requested_by" json:"requested_by"`
	RequestedDate time.Time        `db:"requested_date" json:"requested_date"`
	CompletedDate *time.Time       `db:"completed_date" json:"completed_date,omitempty"`
	UploadedBy    *string          `db:"uploaded_by" json:"uploaded_by,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// TestResult is what the lab records against a pending report.
type TestResult struct {
	Result      string  `json:"result"`
	NormalRange *string `json:"normal_range"`
	Units       *string `json:"units"`
	Comments    *string `json:"comments"`
}

type TestReportFilter struct {
	PatientID     string
	AppointmentID *uuid.UUID
	TestType      TestType
	Status        TestReportStatus
}

// ClinicalRecords groups everything recorded against one appointment.
type ClinicalRecords struct {
	AppointmentID uuid.UUID       `json:"appointment_id"`
	Diagnoses     []*Diagnosis    `json:"diagnoses"`
	Prescriptions []*Prescription `json:"prescriptions"`
	Vitals        []*VitalSigns   `json:"vitals"`
	TestReports   []*TestReport   `json:"test_reports"`
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	PatientID string
	DoctorID  string
	Status    Status
	From      *time.Time
	To        *time.Time
}
