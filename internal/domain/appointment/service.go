package appointment

import (
	"context"
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

// CompletionHook runs after an appointment has been committed as completed.
// A failing hook is logged; the completion stands.
type CompletionHook func(ctx context.Context, appt *Appointment) error

type Service struct {
	appointments AppointmentRepository
	records      ClinicalRecordRepository
	tx           db.TxRunner
	events       events.Publisher
	logger       zerolog.Logger
	hooks        []CompletionHook
	now          func() time.Time
}

func NewService(appts AppointmentRepository, records ClinicalRecordRepository, tx db.TxRunner, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{
		appointments: appts,
		records:      records,
		tx:           tx,
		events:       pub,
		logger:       logger.With().Str("module", "appointment").Logger(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// OnComplete registers a hook invoked whenever an appointment completes.
func (s *Service) OnComplete(h CompletionHook) {
	s.hooks = append(s.hooks, h)
}

// -- Appointments --

func (s *Service) Create(ctx context.Context, a *Appointment, actor auth.Actor) error {
	if actor.Role == auth.RolePatient {
		a.PatientID = actor.ID
	}
	a.PatientID = strings.TrimSpace(a.PatientID)
	a.DoctorID = strings.TrimSpace(a.DoctorID)
	a.Reason = strings.TrimSpace(a.Reason)
	if a.PatientID == "" {
		return fmt.Errorf("%w: patient_id is required", apperr.ErrInvalidInput)
	}
	if a.DoctorID == "" {
		return fmt.Errorf("%w: doctor_id is required", apperr.ErrInvalidInput)
	}
	if a.Reason == "" {
		return fmt.Errorf("%w: reason is required", apperr.ErrInvalidInput)
	}
	if a.Duration == 0 {
		a.Duration = DefaultDuration
	}
	if a.Duration < MinDuration || a.Duration > MaxDuration {
		return fmt.Errorf("%w: duration must be between %d and %d minutes, got %d",
			apperr.ErrInvalidSchedule, MinDuration, MaxDuration, a.Duration)
	}
	if a.AppointmentDate.IsZero() || a.AppointmentDate.Before(s.now()) {
		return fmt.Errorf("%w: appointment_date must not be in the past", apperr.ErrInvalidSchedule)
	}

	a.Status = StatusPending
	a.Version = 1
	a.UpdatedBy = actor.ID
	if err := s.appointments.Create(ctx, a); err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Str("actor", actor.String()).Msg("appointment created")
	return nil
}

// visible hides other patients' appointments from a patient.
func visible(a *Appointment, actor auth.Actor) bool {
	return actor.Role != auth.RolePatient || a.PatientID == actor.ID
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(a, actor) {
		return nil, fmt.Errorf("appointment %s: %w", id, apperr.ErrNotFound)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, actor auth.Actor, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidInput, f.Status)
	}
	if actor.Role == auth.RolePatient {
		f.PatientID = actor.ID
	}
	return s.appointments.List(ctx, f, limit, offset)
}

// Transition moves an appointment along the workflow graph. The row is locked
// for the duration of the check and write, so of two racing requests the
// second sees the first one's result. Completing runs the completion hooks.
// Rescheduling needs a new date and goes through Reschedule.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actor auth.Actor) (*Appointment, error) {
	if target == StatusRescheduled {
		return nil, fmt.Errorf("%w: rescheduling requires a new date, use the reschedule operation", apperr.ErrInvalidTransition)
	}
	appt, err := s.transition(ctx, id, target, actor, nil)
	if err != nil {
		return nil, err
	}
	if target == StatusCompleted {
		s.completed(ctx, appt, actor)
	}
	return appt, nil
}

// transition locks the row, checks the edge, applies mutate and persists.
func (s *Service) transition(ctx context.Context, id uuid.UUID, target Status, actor auth.Actor, mutate func(*Appointment) error) (*Appointment, error) {
	var (
		appt *Appointment
		from Status
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !visible(a, actor) {
			return fmt.Errorf("appointment %s: %w", id, apperr.ErrNotFound)
		}
		if !CanTransition(a.Status, target) {
			return fmt.Errorf("%w: cannot move appointment from %s to %s", apperr.ErrInvalidTransition, a.Status, target)
		}
		if mutate != nil {
			if err := mutate(a); err != nil {
				return err
			}
		}
		from = a.Status
		s.apply(a, target, actor)
		if err := s.appointments.UpdateState(ctx, a); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.statusChanged(ctx, appt, from, actor)
	return appt, nil
}

// Cancel is Transition to cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCancelled, actor)
}

// Reschedule moves a confirmed appointment to a new future date.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate time.Time, actor auth.Actor) (*Appointment, error) {
	return s.transition(ctx, id, StatusRescheduled, actor, func(a *Appointment) error {
		if !newDate.After(s.now()) {
			return fmt.Errorf("%w: new date must be in the future", apperr.ErrInvalidSchedule)
		}
		a.AppointmentDate = newDate.UTC()
		return nil
	})
}

// MarkComplete is Transition to completed.
func (s *Service) MarkComplete(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCompleted, actor)
}

// completed runs the completion hooks and announces the completion so billing
// can be generated downstream. A failing hook is logged; the completion stands.
func (s *Service) completed(ctx context.Context, appt *Appointment, actor auth.Actor) {
	for _, h := range s.hooks {
		if err := h(ctx, appt); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("completion hook failed")
		}
	}
	s.events.Publish(ctx, events.New(events.AppointmentCompleted, "appointment", appt.ID.String(), actor.String(),
		map[string]interface{}{
			"patient_id":       appt.PatientID,
			"doctor_id":        appt.DoctorID,
			"appointment_date": appt.AppointmentDate,
		}))
}

// RecordArrival checks the patient in for a confirmed appointment. Arrival is
// recorded once and leaves the workflow status and version untouched.
func (s *Service) RecordArrival(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Appointment, error) {
	var appt *Appointment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusConfirmed {
			return fmt.Errorf("%w: appointment %s is %s, only confirmed appointments take arrivals",
				apperr.ErrAppointmentNotActive, id, a.Status)
		}
		if a.ArrivedAt != nil {
			return fmt.Errorf("%w: arrival for appointment %s is already recorded", apperr.ErrInvalidTransition, id)
		}
		now := s.now()
		by := actor.ID
		a.ArrivedAt = &now
		a.ArrivalRecordedBy = &by
		if err := s.appointments.RecordArrival(ctx, a); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("actor", actor.String()).
		Msg("patient arrived")
	s.events.Publish(ctx, events.New(events.PatientArrived, "appointment", appt.ID.String(), actor.String(),
		map[string]interface{}{
			"patient_id": appt.PatientID,
			"doctor_id":  appt.DoctorID,
			"arrived_at": appt.ArrivedAt,
		}))
	return appt, nil
}

func (s *Service) apply(a *Appointment, target Status, actor auth.Actor) {
	a.Status = target
	a.Version++
	a.UpdatedBy = actor.ID
	a.UpdatedAt = s.now()
}

func (s *Service) statusChanged(ctx context.Context, a *Appointment, from Status, actor auth.Actor) {
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("from", string(from)).
		Str("to", string(a.Status)).
		Str("actor", actor.String()).
		Msg("appointment status changed")
	s.events.Publish(ctx, events.New(events.AppointmentStatusChanged, "appointment", a.ID.String(), actor.String(),
		map[string]interface{}{
			"from":       from,
			"to":         a.Status,
			"version":    a.Version,
			"patient_id": a.PatientID,
			"doctor_id":  a.DoctorID,
		}))
}

// -- Clinical records --

// lockActive loads the appointment under lock and checks that it accepts
// clinical records.
func (s *Service) lockActive(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acceptsClinicalRecords(a.Status) {
		return nil, fmt.Errorf("%w: appointment %s is %s", apperr.ErrAppointmentNotActive, id, a.Status)
	}
	return a, nil
}

func (s *Service) AttachDiagnosis(ctx context.Context, id uuid.UUID, d *Diagnosis, actor auth.Actor) error {
	d.Diagnosis = strings.TrimSpace(d.Diagnosis)
	if d.Diagnosis == "" {
		return fmt.Errorf("%w: diagnosis is required", apperr.ErrInvalidInput)
	}
	if d.FollowUpRequired && d.FollowUpDate == nil {
		return fmt.Errorf("%w: follow_up_date is required when follow-up is required", apperr.ErrInvalidInput)
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.lockActive(ctx, id)
		if err != nil {
			return err
		}
		d.AppointmentID = a.ID
		d.PatientID = a.PatientID
		d.DoctorID = a.DoctorID
		d.RecordedBy = actor.ID
		return s.records.AddDiagnosis(ctx, d)
	})
}

func (s *Service) AttachPrescription(ctx context.Context, id uuid.UUID, p *Prescription, actor auth.Actor) error {
	p.MedicineName = strings.TrimSpace(p.MedicineName)
	p.Dosage = strings.TrimSpace(p.Dosage)
	if p.MedicineName == "" {
		return fmt.Errorf("%w: medicine_name is required", apperr.ErrInvalidInput)
	}
	if p.Dosage == "" {
		return fmt.Errorf("%w: dosage is required", apperr.ErrInvalidInput)
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.lockActive(ctx, id)
		if err != nil {
			return err
		}
		p.AppointmentID = a.ID
		p.PatientID = a.PatientID
		p.DoctorID = a.DoctorID
		p.RecordedBy = actor.ID
		return s.records.AddPrescription(ctx, p)
	})
}

func (s *Service) AttachVitals(ctx context.Context, id uuid.UUID, v *VitalSigns, actor auth.Actor) error {
	if err := validateVitals(v); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.lockActive(ctx, id)
		if err != nil {
			return err
		}
		apptID := a.ID
		v.AppointmentID = &apptID
		v.PatientID = a.PatientID
		v.RecordedBy = actor.ID
		return s.records.AddVitals(ctx, v)
	})
}

// RecordPatientVitals stores a reading taken outside any appointment.
func (s *Service) RecordPatientVitals(ctx context.Context, v *VitalSigns, actor auth.Actor) error {
	v.PatientID = strings.TrimSpace(v.PatientID)
	if v.PatientID == "" {
		return fmt.Errorf("%w: patient_id is required", apperr.ErrInvalidInput)
	}
	if err := validateVitals(v); err != nil {
		return err
	}
	v.AppointmentID = nil
	v.RecordedBy = actor.ID
	return s.records.AddVitals(ctx, v)
}

func (s *Service) ListPatientVitals(ctx context.Context, patientID string, actor auth.Actor, limit, offset int) ([]*VitalSigns, int, error) {
	if actor.Role == auth.RolePatient && patientID != actor.ID {
		return nil, 0, fmt.Errorf("patient %s: %w", patientID, apperr.ErrNotFound)
	}
	return s.records.ListVitalsByPatient(ctx, patientID, limit, offset)
}

func validateVitals(v *VitalSigns) error {
	ints := []*int{v.BloodPressureSystolic, v.BloodPressureDiastolic, v.HeartRate, v.RespiratoryRate}
	floats := []*float64{v.Temperature, v.OxygenSaturation, v.Weight, v.Height, v.BloodSugar}
	present := false
	for _, p := range ints {
		if p != nil {
			present = true
			if *p <= 0 {
				return fmt.Errorf("%w: vital sign measurements must be positive", apperr.ErrInvalidInput)
			}
		}
	}
	for _, p := range floats {
		if p != nil {
			present = true
			if *p <= 0 {
				return fmt.Errorf("%w: vital sign measurements must be positive", apperr.ErrInvalidInput)
			}
		}
	}
	if !present {
		return fmt.Errorf("%w: at least one measurement is required", apperr.ErrInvalidInput)
	}
	if v.OxygenSaturation != nil && *v.OxygenSaturation > 100 {
		return fmt.Errorf("%w: oxygen_saturation cannot exceed 100", apperr.ErrInvalidInput)
	}
	return nil
}

// -- Test reports --

func validateTestOrder(r *TestReport) error {
	r.TestName = strings.TrimSpace(r.TestName)
	if r.TestName == "" {
		return fmt.Errorf("%w: test_name is required", apperr.ErrInvalidInput)
	}
	if !r.TestType.Valid() {
		return fmt.Errorf("%w: unknown test_type %q", apperr.ErrInvalidInput, r.TestType)
	}
	return nil
}

func validateResult(res TestResult) error {
	if strings.TrimSpace(res.Result) == "" {
		return fmt.Errorf("%w: result is required", apperr.ErrInvalidInput)
	}
	return nil
}

// RequestTest orders a lab test against an active appointment. The report
// stays pending until the lab records a result.
func (s *Service) RequestTest(ctx context.Context, id uuid.UUID, r *TestReport, actor auth.Actor) error {
	if err := validateTestOrder(r); err != nil {
		return err
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.lockActive(ctx, id)
		if err != nil {
			return err
		}
		apptID := a.ID
		r.AppointmentID = &apptID
		r.PatientID = a.PatientID
		r.Status = TestReportPending
		r.Result = nil
		r.CompletedDate = nil
		r.UploadedBy = nil
		r.RequestedBy = actor.ID
		r.RequestedDate = s.now()
		return s.records.AddTestReport(ctx, r)
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("test_report_id", r.ID.String()).
		Str("appointment_id", id.String()).
		Str("test_type", string(r.TestType)).
		Msg("lab test requested")
	return nil
}

// UploadTestReport stores a completed report in one step. With an
// appointment the report is gated like any clinical record and the patient
// comes from the appointment.
func (s *Service) UploadTestReport(ctx context.Context, r *TestReport, res TestResult, actor auth.Actor) error {
	if err := validateTestOrder(r); err != nil {
		return err
	}
	if err := validateResult(res); err != nil {
		return err
	}
	now := s.now()
	r.Status = TestReportCompleted
	r.setResult(res, now, actor)
	r.RequestedBy = actor.ID
	if r.RequestedDate.IsZero() {
		r.RequestedDate = now
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if r.AppointmentID != nil {
			a, err := s.lockActive(ctx, *r.AppointmentID)
			if err != nil {
				return err
			}
			r.PatientID = a.PatientID
		}
		r.PatientID = strings.TrimSpace(r.PatientID)
		if r.PatientID == "" {
			return fmt.Errorf("%w: patient_id or appointment_id is required", apperr.ErrInvalidInput)
		}
		return s.records.AddTestReport(ctx, r)
	})
	if err != nil {
		return err
	}
	s.testReportUploaded(ctx, r, actor)
	return nil
}

// RecordTestResult completes a pending report. A completed report cannot be
// overwritten.
func (s *Service) RecordTestResult(ctx context.Context, reportID uuid.UUID, res TestResult, actor auth.Actor) (*TestReport, error) {
	if err := validateResult(res); err != nil {
		return nil, err
	}
	var report *TestReport
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.records.GetTestReportForUpdate(ctx, reportID)
		if err != nil {
			return err
		}
		if r.Status != TestReportPending {
			return fmt.Errorf("%w: test report %s is already %s", apperr.ErrInvalidTransition, reportID, r.Status)
		}
		r.Status = TestReportCompleted
		r.setResult(res, s.now(), actor)
		if err := s.records.CompleteTestReport(ctx, r); err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.testReportUploaded(ctx, report, actor)
	return report, nil
}

func (r *TestReport) setResult(res TestResult, at time.Time, actor auth.Actor) {
	result := strings.TrimSpace(res.Result)
	by := actor.ID
	r.Result = &result
	r.NormalRange = res.NormalRange
	r.Units = res.Units
	if res.Comments != nil {
		r.Comments = res.Comments
	}
	r.CompletedDate = &at
	r.UploadedBy = &by
}

func (s *Service) testReportUploaded(ctx context.Context, r *TestReport, actor auth.Actor) {
	s.logger.Info().
		Str("test_report_id", r.ID.String()).
		Str("patient_id", r.PatientID).
		Str("test_type", string(r.TestType)).
		Str("actor", actor.String()).
		Msg("test report uploaded")
	payload := map[string]interface{}{
		"patient_id": r.PatientID,
		"test_name":  r.TestName,
		"test_type":  r.TestType,
	}
	if r.AppointmentID != nil {
		payload["appointment_id"] = r.AppointmentID.String()
	}
	s.events.Publish(ctx, events.New(events.TestReportUploaded, "test_report", r.ID.String(), actor.String(), payload))
}

// ListTestReports returns reports matching f. Patients only see their own.
func (s *Service) ListTestReports(ctx context.Context, f TestReportFilter, actor auth.Actor, limit, offset int) ([]*TestReport, int, error) {
	if f.TestType != "" && !f.TestType.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown test_type %q", apperr.ErrInvalidInput, f.TestType)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidInput, f.Status)
	}
	if actor.Role == auth.RolePatient {
		f.PatientID = actor.ID
	}
	return s.records.ListTestReports(ctx, f, limit, offset)
}

func (s *Service) ListClinicalRecords(ctx context.Context, id uuid.UUID, actor auth.Actor) (*ClinicalRecords, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	diags, err := s.records.ListDiagnoses(ctx, id)
	if err != nil {
		return nil, err
	}
	rxs, err := s.records.ListPrescriptions(ctx, id)
	if err != nil {
		return nil, err
	}
	vitals, err := s.records.ListVitals(ctx, id)
	if err != nil {
		return nil, err
	}
	reports, err := s.records.ListTestReportsByAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ClinicalRecords{AppointmentID: id, Diagnoses: diags, Prescriptions: rxs, Vitals: vitals, TestReports: reports}, nil
}
