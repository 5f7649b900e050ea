package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/savegress/careledger/internal/audit"
	"github.com/savegress/careledger/internal/ledger"
	"github.com/savegress/careledger/pkg/models"
)

// Field bounds for snapshot submissions
const (
	maxNameLen  = 100
	maxTextLen  = 100
	maxAge      = 150
	maxHeight   = 300  // cm
	maxWeight   = 700  // kg
	maxPressure = 400  // mmHg
	maxSugar    = 1000 // mg/dL
)

// SnapshotInput carries a new health-data snapshot submitted by a
// patient. The owner address is never part of the input; it always
// comes from the authenticated principal.
type SnapshotInput struct {
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Height     int    `json:"height"`
	Weight     int    `json:"weight"`
	Systolic   int    `json:"systolic"`
	Diastolic  int    `json:"diastolic"`
	BloodSugar int    `json:"blood_sugar"`
	Symptoms   string `json:"symptoms"`
	Diet       string `json:"diet"`
}

// Validate checks field presence and bounds
func (in SnapshotInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &models.ValidationError{Field: "name", Reason: "required"}
	}
	if len(in.Name) > maxNameLen {
		return &models.ValidationError{Field: "name", Reason: fmt.Sprintf("exceeds %d characters", maxNameLen)}
	}
	if in.Age < 0 || in.Age > maxAge {
		return &models.ValidationError{Field: "age", Reason: fmt.Sprintf("must be between 0 and %d", maxAge)}
	}
	if in.Height < 0 || in.Height > maxHeight {
		return &models.ValidationError{Field: "height", Reason: fmt.Sprintf("must be between 0 and %d", maxHeight)}
	}
	if in.Weight < 0 || in.Weight > maxWeight {
		return &models.ValidationError{Field: "weight", Reason: fmt.Sprintf("must be between 0 and %d", maxWeight)}
	}
	if in.Systolic < 0 || in.Systolic > maxPressure {
		return &models.ValidationError{Field: "systolic", Reason: fmt.Sprintf("must be between 0 and %d", maxPressure)}
	}
	if in.Diastolic < 0 || in.Diastolic > maxPressure {
		return &models.ValidationError{Field: "diastolic", Reason: fmt.Sprintf("must be between 0 and %d", maxPressure)}
	}
	if in.BloodSugar < 0 || in.BloodSugar > maxSugar {
		return &models.ValidationError{Field: "blood_sugar", Reason: fmt.Sprintf("must be between 0 and %d", maxSugar)}
	}
	if len(in.Symptoms) > maxTextLen {
		return &models.ValidationError{Field: "symptoms", Reason: fmt.Sprintf("exceeds %d characters", maxTextLen)}
	}
	if len(in.Diet) > maxTextLen {
		return &models.ValidationError{Field: "diet", Reason: fmt.Sprintf("exceeds %d characters", maxTextLen)}
	}
	return nil
}

// PatientData is the combined view returned to an authorized doctor:
// the current snapshot plus everything that came before it.
type PatientData struct {
	Current *models.HealthRecord  `json:"current"`
	History []models.HealthRecord `json:"history"`
}

// Service validates and submits health-data snapshots and surfaces
// current/historical records to authorized readers.
type Service struct {
	ledger ledger.Client
	audit  *audit.Logger
	now    func() time.Time
}

// New creates a new record service
func New(client ledger.Client, auditLog *audit.Logger) *Service {
	return &Service{
		ledger: client,
		audit:  auditLog,
		now:    time.Now,
	}
}

// SubmitSnapshot validates the input and writes it to the ledger,
// signed as the authenticated patient's own address.
func (s *Service) SubmitSnapshot(ctx context.Context, patient models.Principal, input SnapshotInput) (models.Receipt, error) {
	if patient.Role != models.RolePatient {
		s.log(patient, patient.Address, audit.ActionSubmitRecord, audit.OutcomeDenied, "non-patient submission")
		return models.Receipt{}, models.ErrForbiddenRole
	}
	if err := input.Validate(); err != nil {
		return models.Receipt{}, err
	}

	record := models.HealthRecord{
		Owner:      patient.Address,
		Name:       input.Name,
		Age:        input.Age,
		Height:     input.Height,
		Weight:     input.Weight,
		Systolic:   input.Systolic,
		Diastolic:  input.Diastolic,
		BloodSugar: input.BloodSugar,
		Symptoms:   input.Symptoms,
		Diet:       input.Diet,
		Timestamp:  s.now().UTC(),
	}

	receipt, err := s.ledger.SubmitRecord(ctx, record)
	if err != nil {
		s.log(patient, patient.Address, audit.ActionSubmitRecord, audit.OutcomeError, err.Error())
		return models.Receipt{}, err
	}

	s.log(patient, patient.Address, audit.ActionSubmitRecord, audit.OutcomeSuccess, receipt.TxHash)
	return receipt, nil
}

// GetCurrent returns the owner's most recent snapshot. Self-access is
// always allowed; a doctor reading another's data must hold effective
// access, checked before any record read is attempted.
func (s *Service) GetCurrent(ctx context.Context, reader models.Principal, owner string) (*models.HealthRecord, error) {
	if err := s.authorize(ctx, reader, owner, audit.ActionReadRecord); err != nil {
		return nil, err
	}

	record, err := s.ledger.ReadLatestRecord(ctx, owner, reader.Address)
	if err != nil {
		s.log(reader, owner, audit.ActionReadRecord, audit.OutcomeError, err.Error())
		return nil, err
	}
	if record == nil || record.Timestamp.Unix() == 0 {
		// Uninitialized slot: the owner has never submitted
		return nil, models.ErrNotFound
	}

	s.log(reader, owner, audit.ActionReadRecord, audit.OutcomeSuccess, "")
	return record, nil
}

// GetHistory returns the owner's prior snapshots oldest-first,
// excluding the current one.
func (s *Service) GetHistory(ctx context.Context, reader models.Principal, owner string) ([]models.HealthRecord, error) {
	if err := s.authorize(ctx, reader, owner, audit.ActionReadHistory); err != nil {
		return nil, err
	}

	raw, err := s.ledger.ReadHistory(ctx, owner, reader.Address)
	if err != nil {
		s.log(reader, owner, audit.ActionReadHistory, audit.OutcomeError, err.Error())
		return nil, err
	}

	history := normalizeHistory(raw)
	// The newest ledger entry is the current snapshot; history must
	// not repeat it.
	if len(history) > 0 {
		history = history[:len(history)-1]
	}

	s.log(reader, owner, audit.ActionReadHistory, audit.OutcomeSuccess, "")
	return history, nil
}

// GetPatientData returns the combined view of current snapshot plus
// prior history, de-duplicated against each other.
func (s *Service) GetPatientData(ctx context.Context, reader models.Principal, owner string) (*PatientData, error) {
	if err := s.authorize(ctx, reader, owner, audit.ActionReadRecord); err != nil {
		return nil, err
	}

	current, err := s.ledger.ReadLatestRecord(ctx, owner, reader.Address)
	if err != nil {
		s.log(reader, owner, audit.ActionReadRecord, audit.OutcomeError, err.Error())
		return nil, err
	}
	if current == nil || current.Timestamp.Unix() == 0 {
		return nil, models.ErrNotFound
	}

	raw, err := s.ledger.ReadHistory(ctx, owner, reader.Address)
	if err != nil {
		s.log(reader, owner, audit.ActionReadHistory, audit.OutcomeError, err.Error())
		return nil, err
	}

	history := normalizeHistory(raw)
	if n := len(history); n > 0 && history[n-1].Timestamp.Equal(current.Timestamp) {
		history = history[:n-1]
	}

	s.log(reader, owner, audit.ActionReadRecord, audit.OutcomeSuccess, "combined view")
	return &PatientData{Current: current, History: history}, nil
}

// authorize enforces the visibility policy. It returns ErrAccessDenied
// before any record read happens, so a denied reader costs at most one
// access check and leaks nothing.
func (s *Service) authorize(ctx context.Context, reader models.Principal, owner, action string) error {
	if strings.EqualFold(reader.Address, owner) {
		return nil
	}
	if reader.Role != models.RoleDoctor {
		s.log(reader, owner, action, audit.OutcomeDenied, "cross-patient read")
		return models.ErrAccessDenied
	}

	allowed, err := s.ledger.HasAccess(ctx, owner, reader.Address)
	if err != nil {
		return err
	}
	if !allowed {
		s.log(reader, owner, action, audit.OutcomeDenied, "no effective access")
		return models.ErrAccessDenied
	}
	return nil
}

func (s *Service) log(actor models.Principal, patient, action, outcome, detail string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(audit.Event{
		Actor:   actor.Address,
		Role:    string(actor.Role),
		Patient: patient,
		Action:  action,
		Outcome: outcome,
		Detail:  detail,
	})
}

// normalizeHistory converts the ledger's newest-first sequence into
// oldest-first and strips the zero-timestamp padding entry the
// contract writes on first initialization.
func normalizeHistory(raw []models.HealthRecord) []models.HealthRecord {
	out := make([]models.HealthRecord, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		out = append(out, raw[i])
	}
	if len(out) > 0 && out[0].Timestamp.Unix() == 0 {
		out = out[1:]
	}
	return out
}
